package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes. The route set covers the
// external-interface adapter's command set plus the ambient surfaces
// (files, search, config, providers, agents, commands, mcp, formatter,
// events) a remote client needs to render a working session; TUI
// control, client-tool registration, LSP, and OAuth/token-acquisition
// routes are out of scope for a headless core runtime and were dropped
// rather than ported.
func (s *Server) setupRoutes() {
	r := s.router

	// Project routes
	r.Route("/project", func(r chi.Router) {
		r.Get("/", s.listProjects)
		r.Get("/current", s.getCurrentProject)
		r.Get("/files", s.listProjectFiles)
	})

	// Session routes — the external-interface adapter's command set
	// (initialize/authenticate live at the root; new_session/
	// load_session/prompt/cancel are scoped under /session).
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession) // new_session(cwd)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)

			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage) // prompt(session_id, content)

			r.Get("/branch", s.getActivePath)
			r.Post("/branch", s.switchBranch)
			r.Post("/queue", s.queueMessage)
			r.Post("/abort", s.abortSession) // cancel(session_id)

			r.Get("/attach", s.attachSession) // load_session replay over SSE
		})
	})

	r.Post("/initialize", s.initializeHandler)
	r.Post("/authenticate", s.authenticateHandler)

	// Event-bus SSE feeds (bus-wide and per-session)
	r.Get("/event", s.allEvents)
	r.Get("/event/session", s.sessionEvents)

	// File operations
	r.Route("/file", func(r chi.Router) {
		r.Get("/", s.listFiles)
		r.Get("/content", s.readFile)
		r.Get("/status", s.gitStatus)
	})

	// Search
	r.Route("/find", func(r chi.Router) {
		r.Get("/", s.searchText)
		r.Get("/file", s.searchFiles)
	})

	// Configuration
	r.Route("/config", func(r chi.Router) {
		r.Get("/", s.getConfig)
		r.Patch("/", s.updateConfig)
		r.Get("/providers", s.listProviders)
	})

	r.Get("/provider", s.listAllProviders)
	r.Get("/agent", s.listAgents)
	r.Get("/path", s.getPath)

	// Built-in command templates
	r.Route("/command", func(r chi.Router) {
		r.Get("/", s.listCommands)
		r.Get("/{name}", s.getCommand)
	})

	// MCP routes: status, tool execution, and runtime server admin
	r.Route("/mcp", func(r chi.Router) {
		r.Get("/", s.getMCPStatus)
		r.Post("/", s.addMCPServer)
		r.Delete("/{name}", s.removeMCPServer)
		r.Get("/tools", s.getMCPTools)
		r.Post("/tool/{name}", s.executeMCPTool)
		r.Get("/resources", s.getMCPResources)
		r.Get("/resource", s.readMCPResource)
	})

	// Formatter routes
	r.Route("/formatter", func(r chi.Router) {
		r.Get("/", s.getFormatterStatus)
		r.Post("/format", s.formatFile)
	})

	r.Get("/tool", s.getToolDefinitions)
	r.Get("/tool/ids", s.getToolIDs)
}
