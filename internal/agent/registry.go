package agent

import (
	"fmt"
	"sync"

	"github.com/opencode-ai/core/internal/permission"
)

// Registry holds the agent profiles available to this process: the
// built-ins, plus whatever LoadFromConfig layered over them.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates a registry pre-populated with the built-in
// profiles.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]*Agent)}
	for name, a := range BuiltInAgents() {
		r.agents[name] = a
	}
	return r
}

// Get looks a profile up by name.
func (r *Registry) Get(name string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent not found: %s", name)
	}
	return a, nil
}

// Register adds or replaces a profile.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Name] = a
}

// Unregister removes a profile by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, name)
}

// List returns every registered profile.
func (r *Registry) List() []*Agent {
	return r.filtered(func(*Agent) bool { return true })
}

// ListPrimary returns the profiles that may drive a session directly.
func (r *Registry) ListPrimary() []*Agent {
	return r.filtered((*Agent).IsPrimary)
}

// ListSubagents returns the profiles runnable under the task tool.
func (r *Registry) ListSubagents() []*Agent {
	return r.filtered((*Agent).IsSubagent)
}

func (r *Registry) filtered(keep func(*Agent) bool) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Agent
	for _, a := range r.agents {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// Names returns every registered profile name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Exists reports whether a profile name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[name]
	return ok
}

// Count returns how many profiles are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AgentConfig is the user-facing overlay for one profile: every field
// is optional and only set fields override.
type AgentConfig struct {
	Description string                 `json:"description,omitempty"`
	Mode        Mode                   `json:"mode,omitempty"`
	Model       *ModelRef              `json:"model,omitempty"`
	Prompt      string                 `json:"prompt,omitempty"`
	Temperature float64                `json:"temperature,omitempty"`
	TopP        float64                `json:"topP,omitempty"`
	Color       string                 `json:"color,omitempty"`
	Tools       map[string]bool        `json:"tools,omitempty"`
	Permission  *AgentPermissionConfig `json:"permission,omitempty"`
	Options     map[string]any         `json:"options,omitempty"`
}

// AgentPermissionConfig is the overlay form of AgentPermission.
type AgentPermissionConfig struct {
	Edit        permission.PermissionAction            `json:"edit,omitempty"`
	Bash        map[string]permission.PermissionAction `json:"bash,omitempty"`
	WebFetch    permission.PermissionAction            `json:"webfetch,omitempty"`
	ExternalDir permission.PermissionAction            `json:"external_directory,omitempty"`
	DoomLoop    permission.PermissionAction            `json:"doom_loop,omitempty"`
}

// LoadFromConfig overlays user configuration: an unknown name becomes a
// fresh primary-mode profile, a known one is cloned first so the
// built-in stays pristine, and either way the overlaid profile is no
// longer marked built-in.
func (r *Registry) LoadFromConfig(config map[string]AgentConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, cfg := range config {
		base, known := r.agents[name]
		var a *Agent
		if known {
			a = base.Clone()
			a.BuiltIn = false
		} else {
			a = &Agent{
				Name:  name,
				Mode:  ModePrimary,
				Tools: make(map[string]bool),
			}
		}
		applyOverlay(a, cfg)
		r.agents[name] = a
	}
}

// applyOverlay copies cfg's set fields onto a.
func applyOverlay(a *Agent, cfg AgentConfig) {
	if cfg.Description != "" {
		a.Description = cfg.Description
	}
	if cfg.Mode != "" {
		a.Mode = cfg.Mode
	}
	if cfg.Model != nil {
		a.Model = cfg.Model
	}
	if cfg.Prompt != "" {
		a.Prompt = cfg.Prompt
	}
	if cfg.Temperature > 0 {
		a.Temperature = cfg.Temperature
	}
	if cfg.TopP > 0 {
		a.TopP = cfg.TopP
	}
	if cfg.Color != "" {
		a.Color = cfg.Color
	}
	if cfg.Tools != nil {
		if a.Tools == nil {
			a.Tools = make(map[string]bool)
		}
		for k, v := range cfg.Tools {
			a.Tools[k] = v
		}
	}
	if cfg.Options != nil {
		if a.Options == nil {
			a.Options = make(map[string]any)
		}
		for k, v := range cfg.Options {
			a.Options[k] = v
		}
	}
	if cfg.Permission == nil {
		return
	}
	if cfg.Permission.Edit != "" {
		a.Permission.Edit = cfg.Permission.Edit
	}
	if cfg.Permission.WebFetch != "" {
		a.Permission.WebFetch = cfg.Permission.WebFetch
	}
	if cfg.Permission.ExternalDir != "" {
		a.Permission.ExternalDir = cfg.Permission.ExternalDir
	}
	if cfg.Permission.DoomLoop != "" {
		a.Permission.DoomLoop = cfg.Permission.DoomLoop
	}
	if cfg.Permission.Bash != nil {
		if a.Permission.Bash == nil {
			a.Permission.Bash = make(map[string]permission.PermissionAction)
		}
		for k, v := range cfg.Permission.Bash {
			a.Permission.Bash[k] = v
		}
	}
}
