// Package session implements the session manager and per-turn agent
// runner: it owns every session's message tree,
// arbitrates which UI is attached, starts and cancels agent turns, and
// persists state on every mutation.
//
// A Manager holds one *entry per session behind its own mutex, which
// protects only the session table and the active-UI binding; each entry additionally
// carries its own mutex so that one session's turn never blocks another
// session's read. Nothing here holds a lock across a provider call or a
// tool invocation.
package session
