package agent

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opencode-ai/core/internal/permission"
)

// Mode says where a profile may run: driving a session directly,
// nested under the task tool, or both.
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// ModelRef pins a profile to one provider/model pair.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// AgentPermission is a profile's standing policy, one action per gated
// operation category plus a pattern table for bash.
type AgentPermission struct {
	Edit        permission.PermissionAction            `json:"edit,omitempty"`
	Bash        map[string]permission.PermissionAction `json:"bash,omitempty"`
	WebFetch    permission.PermissionAction            `json:"webfetch,omitempty"`
	ExternalDir permission.PermissionAction            `json:"external_directory,omitempty"`
	DoomLoop    permission.PermissionAction            `json:"doom_loop,omitempty"`
}

// Agent is one runnable profile.
type Agent struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Mode        Mode            `json:"mode"`
	BuiltIn     bool            `json:"builtIn"`
	Permission  AgentPermission `json:"permission"`
	Tools       map[string]bool `json:"tools"`
	Options     map[string]any  `json:"options,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	TopP        float64         `json:"topP,omitempty"`
	Model       *ModelRef       `json:"model,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Color       string          `json:"color,omitempty"`
}

// ToolEnabled reports whether the profile may call toolID. An exact
// entry wins; otherwise any matching wildcard entry decides; a tool the
// table never mentions is enabled — profiles subtract from the full
// catalog rather than enumerate it.
func (a *Agent) ToolEnabled(toolID string) bool {
	if enabled, ok := a.Tools[toolID]; ok {
		return enabled
	}
	for pattern, enabled := range a.Tools {
		if matchWildcard(pattern, toolID) {
			return enabled
		}
	}
	return true
}

// CheckBashPermission resolves the profile's action for a raw command
// line against its bash pattern table. Unmatched commands ask.
func (a *Agent) CheckBashPermission(command string) permission.PermissionAction {
	for pattern, action := range a.Permission.Bash {
		if matchWildcard(pattern, command) {
			return action
		}
	}
	return permission.ActionAsk
}

// GetPermission resolves the profile's action for one operation
// category, asking when the profile leaves it unset.
func (a *Agent) GetPermission(permType permission.PermissionType) permission.PermissionAction {
	var action permission.PermissionAction
	switch permType {
	case permission.PermEdit:
		action = a.Permission.Edit
	case permission.PermWebFetch:
		action = a.Permission.WebFetch
	case permission.PermExternalDir:
		action = a.Permission.ExternalDir
	case permission.PermDoomLoop:
		action = a.Permission.DoomLoop
	}
	if action == "" {
		return permission.ActionAsk
	}
	return action
}

// IsPrimary reports whether the profile may drive a session directly.
func (a *Agent) IsPrimary() bool { return a.Mode == ModePrimary || a.Mode == ModeAll }

// IsSubagent reports whether the profile may run nested under the task
// tool.
func (a *Agent) IsSubagent() bool { return a.Mode == ModeSubagent || a.Mode == ModeAll }

// Clone deep-copies the profile so config overlays never mutate a
// shared built-in.
func (a *Agent) Clone() *Agent {
	out := *a
	out.Permission.Bash = cloneMap(a.Permission.Bash)
	out.Tools = cloneMap(a.Tools)
	out.Options = cloneMap(a.Options)
	if a.Model != nil {
		ref := *a.Model
		out.Model = &ref
	}
	return &out
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// matchWildcard matches s against a glob-ish pattern. The common
// single-star prefix/suffix forms stay on the string fast path; "**"
// and interior stars go through doublestar.
func matchWildcard(pattern, s string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.Contains(pattern, "**"):
		ok, _ := doublestar.Match(pattern, s)
		return ok
	case strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*"):
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*"):
		return strings.HasSuffix(s, pattern[1:])
	case strings.Contains(pattern, "*"):
		ok, _ := doublestar.Match(pattern, s)
		return ok
	default:
		return pattern == s
	}
}

// BuiltInAgents builds the four stock profiles. Called per use so every
// caller gets private, mutation-safe copies.
func BuiltInAgents() map[string]*Agent {
	allow := permission.ActionAllow
	deny := permission.ActionDeny
	ask := permission.ActionAsk

	return map[string]*Agent{
		"build": {
			Name:        "build",
			Description: "Primary agent for executing tasks, writing code, and making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: AgentPermission{
				Edit:        allow,
				Bash:        map[string]permission.PermissionAction{"*": allow},
				WebFetch:    allow,
				ExternalDir: ask,
				DoomLoop:    ask,
			},
			Tools: map[string]bool{"*": true},
		},
		"plan": {
			Name:        "plan",
			Description: "Planning agent for analysis and exploration without making changes",
			Mode:        ModePrimary,
			BuiltIn:     true,
			Permission: AgentPermission{
				Edit: deny,
				Bash: map[string]permission.PermissionAction{
					"grep*":      allow,
					"find*":      allow,
					"ls*":        allow,
					"cat*":       allow,
					"git status": allow,
					"git diff*":  allow,
					"git log*":   allow,
					"*":          deny,
				},
				WebFetch:    allow,
				ExternalDir: deny,
				DoomLoop:    deny,
			},
			Tools: map[string]bool{
				"read":  true,
				"glob":  true,
				"grep":  true,
				"ls":    true,
				"bash":  true,
				"edit":  false,
				"write": false,
			},
		},
		"general": {
			Name:        "general",
			Description: "General-purpose subagent for searches and exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Permission: AgentPermission{
				Edit:        deny,
				Bash:        map[string]permission.PermissionAction{"*": deny},
				WebFetch:    allow,
				ExternalDir: deny,
				DoomLoop:    deny,
			},
			Tools: map[string]bool{
				"read":     true,
				"glob":     true,
				"grep":     true,
				"webfetch": true,
				"bash":     false,
				"edit":     false,
				"write":    false,
			},
		},
		"explore": {
			Name:        "explore",
			Description: "Fast agent specialized for codebase exploration",
			Mode:        ModeSubagent,
			BuiltIn:     true,
			Permission: AgentPermission{
				Edit:        deny,
				Bash:        map[string]permission.PermissionAction{"*": deny},
				WebFetch:    deny,
				ExternalDir: deny,
				DoomLoop:    deny,
			},
			Tools: map[string]bool{
				"read": true,
				"glob": true,
				"grep": true,
				"ls":   true,
				"bash": false,
				"edit": false,
			},
		},
	}
}
