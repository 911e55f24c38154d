// Package mcp exposes the cognition engine as an MCP server.
//
// It uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp) and
// registers tools for listing and validating cognition definitions,
// starting and cancelling executions, and reading sealed reports, failure
// analyses and recalled insights. tool_search and tool_list describe the
// registered tools from the server's registry.
package mcp
