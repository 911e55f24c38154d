// Package services assembles the cognitiond runtime from configuration.
//
// New builds every component in dependency order (logging, telemetry, the
// NATS bus, sealing backends, agent invoker, orchestrator, catalog, insight
// memory and finally the engine) and Close tears them down in reverse. Both
// the daemon and the MCP stdio server start from a Registry; cogctl uses one
// for in-process runs.
package services
