// Package telemetry wires OpenTelemetry tracing and metrics for cognitiond.
//
// New builds OTLP exporters (gRPC by default, HTTP/protobuf on request) from
// the telemetry section of the application config and installs them as the
// otel globals, so the orchestrator, sealer, memory and HTTP instruments
// export without further wiring:
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	orch := orchestrator.New(inv, ocfg, logger,
//		orchestrator.WithTracer(tel.Tracer("cognitiond.orchestrator")))
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: "grpc"
//	  sample_rate: 1.0
//	  export_interval: 15s
//
// Plaintext export is refused for non-local endpoints. Tests use
// NewTestTelemetry, which records spans and metrics in memory.
package telemetry
