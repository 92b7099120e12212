// Package agent defines the agent profiles the runtime can run a turn
// as: which tools each may call, its standing permissions, and its
// prompt/model overrides.
//
// Four profiles ship built in. "build" is the default primary agent
// with the full catalog and permissive policy; "plan" is its read-only
// sibling (file mutation denied, bash restricted to inspection
// commands); "general" and "explore" are subagent profiles the task
// tool runs nested conversations under. LoadFromConfig overlays user
// configuration on top of these — an overlaid built-in is cloned first,
// so the stock definitions stay pristine for other sessions.
//
// Tool access is subtractive: a profile's Tools table disables entries
// out of the full catalog (exact names or wildcard patterns), and
// anything unmentioned stays enabled. Permissions work the other way —
// an operation category the profile leaves unset resolves to "ask".
package agent
