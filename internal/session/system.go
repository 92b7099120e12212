package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencode-ai/core/internal/agent"
	"github.com/opencode-ai/core/pkg/types"
)

// systemPromptBuilder composes the static system prompt for one turn:
// provider header, agent profile prompt, model-specific notes,
// environment context, project rules files, and tool-usage guidance,
// decorated with the session's working-memory snapshot.
type systemPromptBuilder struct {
	session    *types.Session
	agent      *agent.Agent
	providerID string
	modelID    string
	custom     *types.CustomPrompt
}

func newSystemPromptBuilder(sess *types.Session, prof *agent.Agent, providerID, modelID string) *systemPromptBuilder {
	return &systemPromptBuilder{session: sess, agent: prof, providerID: providerID, modelID: modelID}
}

// withCustomPrompt overrides the agent profile's prompt text, loading it
// from disk first when Type is "file".
func (s *systemPromptBuilder) withCustomPrompt(custom *types.CustomPrompt) *systemPromptBuilder {
	s.custom = custom
	return s
}

// Build assembles the full system prompt as a sequence of sections
// joined by blank lines.
func (s *systemPromptBuilder) Build() string {
	var parts []string

	if header := s.providerHeader(); header != "" {
		parts = append(parts, header)
	}
	if prompt := s.agentPrompt(); prompt != "" {
		parts = append(parts, prompt)
	}
	if modelNote := s.modelNote(); modelNote != "" {
		parts = append(parts, modelNote)
	}
	parts = append(parts, s.environmentContext())
	parts = append(parts, s.memorySnapshot())
	if rules := s.loadProjectRules(); rules != "" {
		parts = append(parts, rules)
	}
	parts = append(parts, s.toolInstructions())

	return strings.Join(parts, "\n\n")
}

func (s *systemPromptBuilder) agentPrompt() string {
	if s.custom != nil {
		switch s.custom.Type {
		case "file":
			if content, err := os.ReadFile(s.custom.Value); err == nil {
				return s.substitute(string(content))
			}
		case "inline":
			return s.substitute(s.custom.Value)
		}
	}
	if s.agent != nil {
		return s.agent.Prompt
	}
	return ""
}

func (s *systemPromptBuilder) substitute(prompt string) string {
	if s.custom == nil {
		return prompt
	}
	for key, value := range s.custom.Variables {
		prompt = strings.ReplaceAll(prompt, "{{"+key+"}}", value)
	}
	return prompt
}

func (s *systemPromptBuilder) providerHeader() string {
	switch s.providerID {
	case "anthropic":
		return `You are Claude, an AI assistant made by Anthropic. You are helpful, harmless, and honest.

You have access to tools that read, write, and execute commands on the user's computer. Use them responsibly and prefer the minimal change that satisfies the request.`
	case "openai", "openai-responses":
		return `You are a helpful AI assistant with access to tools for reading, writing, and executing commands.

Use tools deliberately and follow the user's instructions precisely.`
	case "gemini":
		return `You are a helpful AI assistant with tool access.

You can read files, write code, and execute commands to help the user accomplish their task.`
	default:
		return ""
	}
}

func (s *systemPromptBuilder) modelNote() string {
	switch {
	case strings.Contains(s.modelID, "claude"):
		return `When using tools, be decisive and take action without asking for confirmation unless the action is destructive.

For file operations: read a file before editing it, make minimal focused changes, and preserve existing style.`
	case strings.Contains(s.modelID, "gpt"):
		return `When working with files: always read before writing, make precise targeted edits, and follow existing conventions.`
	case strings.Contains(s.modelID, "gemini"):
		return `For code tasks: examine the existing structure first, make the minimal necessary change, and keep the style consistent.`
	default:
		return ""
	}
}

func (s *systemPromptBuilder) environmentContext() string {
	var env strings.Builder
	env.WriteString("# Environment\n\n")

	workDir := ""
	if s.session != nil {
		workDir = s.session.Directory
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	fmt.Fprintf(&env, "Working directory: %s\n", workDir)
	fmt.Fprintf(&env, "Date: %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&env, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	if branch := gitBranch(workDir); branch != "" {
		fmt.Fprintf(&env, "Git branch: %s\n", branch)
	}
	if kind := detectProjectKind(workDir); kind != "" {
		fmt.Fprintf(&env, "Project type: %s\n", kind)
	}

	return env.String()
}

// memorySnapshot renders the session's WorkingMemory as the "decorated
// with working-memory snapshot" portion of the system prompt.
func (s *systemPromptBuilder) memorySnapshot() string {
	if s.session == nil {
		return ""
	}
	mem := s.session.WorkingMemory
	if len(mem.Projects) == 0 && len(mem.FileTrees) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("# Known Projects\n\n")
	for _, p := range mem.Projects {
		sb.WriteString("- " + p + "\n")
	}
	for root, files := range mem.FileTrees {
		fmt.Fprintf(&sb, "\n## %s\n", root)
		for _, f := range files {
			sb.WriteString("- " + f + "\n")
		}
	}
	return sb.String()
}

func (s *systemPromptBuilder) loadProjectRules() string {
	workDir := ""
	if s.session != nil {
		workDir = s.session.Directory
	}
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	locations := []string{
		filepath.Join(workDir, "AGENTS.md"),
		filepath.Join(workDir, "CLAUDE.md"),
		filepath.Join(workDir, ".opencode", "rules.md"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "opencode", "rules.md"))
	}

	for _, loc := range locations {
		if content, err := os.ReadFile(loc); err == nil && len(content) > 0 {
			return "# Project Rules\n\n" + string(content)
		}
	}
	return ""
}

func (s *systemPromptBuilder) toolInstructions() string {
	return `# Tool Usage

1. Read a file before editing it; use Edit for surgical changes and Write for new files.
2. Prefer built-in search tools (glob, grep) over shelling out to find/grep.
3. Give every bash command a short description and handle its failure.
4. Work iteratively: verify a change before moving to the next step.
5. Call complete_task once nothing further is needed this turn.`
}

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func detectProjectKind(dir string) string {
	if dir == "" {
		return ""
	}
	indicators := map[string][]string{
		"Go":      {"go.mod"},
		"Node.js": {"package.json"},
		"Python":  {"pyproject.toml", "setup.py", "requirements.txt"},
		"Rust":    {"Cargo.toml"},
		"Java":    {"pom.xml", "build.gradle"},
	}
	for kind, files := range indicators {
		for _, pattern := range files {
			if matches, _ := filepath.Glob(filepath.Join(dir, pattern)); len(matches) > 0 {
				return kind
			}
		}
	}
	return ""
}
