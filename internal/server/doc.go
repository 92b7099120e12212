// Package server provides the HTTP+SSE transport over the external
// interface adapter (internal/rpc) and the session manager.
//
// The route set mirrors the adapter's command set plus the ambient
// surfaces a remote client needs to render a working session:
//
//   - /initialize, /authenticate: capability advertisement and the
//     auth placeholder
//   - /session/*: session lifecycle, prompting, branch switching,
//     message queueing, cancellation, and SSE attach/replay
//   - /event, /event/session: event-bus SSE feeds
//   - /file/*, /find/*: file reads, git status, and search
//   - /config/*, /provider, /agent, /command/*: configuration,
//     provider/model catalogs, agent profiles, command templates
//   - /mcp/*: MCP server status, administration, and tool execution
//   - /formatter/*: format-on-save status and manual formatting
//   - /tool, /tool/ids: registered tool definitions
//
// Streaming endpoints use Server-Sent Events: /session/{id}/attach
// replays the persisted conversation as UiEvents and then stays open
// as the session's live UI; /event streams the process-wide event bus
// with heartbeats and per-session filtering.
package server
