// Package mcp attaches external Model Context Protocol servers to the
// runtime and surfaces their tools alongside the built-in catalog.
//
// Client manages one SDK-backed session per configured server (spawned
// over stdio for local servers, SSE for remote ones). Tools are
// advertised under prefixed names — "<server>_<tool>", both halves
// sanitized to the tool-id alphabet — so servers can't collide, and
// ExecuteTool routes a prefixed call back to the right session.
// RegisterMCPTools wraps each advertised tool in the registry's Tool
// interface with the McpServer scope, so agent profiles filter them
// like any other tool.
//
// Resources work the same way one level up: ListResources rewrites each
// URI to mcp://<server>/<uri> and ReadResource routes it back.
//
// A server that fails to connect is held in status "failed" with its
// error recorded rather than dropped, so /mcp can report what went
// wrong; disabled servers sit in "disabled" without a session. The raw
// JSON-RPC transports in transport.go back the surfaces that speak the
// protocol directly and the package's own tests; the managed client
// path runs entirely on the official SDK.
package mcp
