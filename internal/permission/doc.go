// Package permission gates tool execution behind per-agent policy.
//
// Every sensitive operation — a shell command, a file edit, a web
// fetch, an excursion outside the project directory — resolves to one
// of three actions: allow, deny, or ask. Allow and deny settle
// immediately; ask publishes a Request on the event bus and parks the
// calling tool until the user answers through Checker.Respond. An
// "always" answer becomes a standing session grant, so the same
// operation stops prompting.
//
// Shell commands get finer treatment: ParseBashCommand lifts every
// simple command out of a line (through pipes, &&/|| chains, and
// subshells) with mvdan/sh, and MatchBashPermission resolves each one
// against the agent's pattern table, most specific key first
// ("git commit *" before "git *" before "*"). Commands that take path
// arguments are additionally boundary-checked against the project
// directory via ExtractPaths/ResolvePath/IsWithinDir.
//
// DoomLoopDetector watches for an agent reissuing the exact same tool
// call several times in a row — the classic stuck-model failure — and
// lets the caller route that through the doom_loop permission before
// letting the run continue.
package permission
