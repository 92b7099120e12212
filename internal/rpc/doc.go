// Package rpc implements the transport-neutral External-Interface Adapter:
// the six-command surface (initialize, authenticate, new_session,
// load_session, prompt, cancel) that lets an IDE or other remote client
// drive the session manager without depending on any particular wire
// protocol. internal/server exposes this command set over HTTP+SSE.
package rpc
