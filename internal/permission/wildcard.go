package permission

import "strings"

// MatchBashPermission resolves the action for one parsed command by
// probing the policy table most-specific key first:
//
//	"git commit *"  →  "git *"  →  "git"  →  "*"
//
// No hit means ActionAsk: an unlisted command is a question, never a
// silent allow.
func MatchBashPermission(cmd BashCommand, policy map[string]PermissionAction) PermissionAction {
	probes := make([]string, 0, 4)
	if cmd.Subcommand != "" {
		probes = append(probes, cmd.Name+" "+cmd.Subcommand+" *")
	}
	probes = append(probes, cmd.Name+" *", cmd.Name, "*")

	for _, p := range probes {
		if action, ok := policy[p]; ok {
			return action
		}
	}
	return ActionAsk
}

// MatchPattern reports whether a parsed command matches one policy
// pattern. Patterns are space-separated words; a trailing "*" matches
// any remaining arguments, a bare "*" matches every command, and a
// single-word pattern requires the command to have no arguments at all.
func MatchPattern(pattern string, cmd BashCommand) bool {
	words := strings.Split(pattern, " ")
	if len(words) == 0 {
		return false
	}
	if len(words) == 1 {
		if words[0] == "*" {
			return true
		}
		return words[0] == cmd.Name && len(cmd.Args) == 0
	}

	if words[0] != "*" && words[0] != cmd.Name {
		return false
	}

	trailing := words[len(words)-1] == "*"
	middle := words[1:]
	if trailing {
		middle = words[1 : len(words)-1]
	} else if len(middle) != len(cmd.Args) {
		// without a trailing wildcard the argument counts must line up
		return false
	}

	for i, w := range middle {
		if i >= len(cmd.Args) {
			return false
		}
		if w != "*" && w != cmd.Args[i] {
			return false
		}
	}
	return true
}

// BuildPattern derives the grant pattern an "always" approval of cmd
// should remember: "git commit -m x" becomes "git commit *", "ls -la"
// becomes "ls *".
func BuildPattern(cmd BashCommand) string {
	if cmd.Subcommand != "" {
		return cmd.Name + " " + cmd.Subcommand + " *"
	}
	return cmd.Name + " *"
}

// BuildPatterns derives deduplicated grant patterns for a whole parsed
// command line. "cd" is excluded; directory changes are validated by
// path, not by pattern grant.
func BuildPatterns(commands []BashCommand) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, cmd := range commands {
		if cmd.Name == "cd" {
			continue
		}
		p := BuildPattern(cmd)
		if seen[p] {
			continue
		}
		seen[p] = true
		patterns = append(patterns, p)
	}
	return patterns
}
