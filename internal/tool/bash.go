package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/opencode-ai/core/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	SigkillTimeout     = 200 * time.Millisecond
)

const bashDescription = `Executes a bash command; each call runs in a new shell process.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- Commands are run with process group for proper cleanup`

// BashTool implements shell command execution.
type BashTool struct {
	workDir     string
	shell       string
	permChecker *permission.Checker
	permissions map[string]permission.PermissionAction // bash command patterns
	externalDir permission.PermissionAction            // action for external directory access
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description"`
}

// BashToolOption configures the bash tool.
type BashToolOption func(*BashTool)

// WithPermissionChecker sets the permission checker for the bash tool.
func WithPermissionChecker(checker *permission.Checker) BashToolOption {
	return func(t *BashTool) {
		t.permChecker = checker
	}
}

// WithBashPermissions sets the bash command permission patterns.
func WithBashPermissions(perms map[string]permission.PermissionAction) BashToolOption {
	return func(t *BashTool) {
		t.permissions = perms
	}
}

// WithExternalDirAction sets the action for external directory access.
func WithExternalDirAction(action permission.PermissionAction) BashToolOption {
	return func(t *BashTool) {
		t.externalDir = action
	}
}

// NewBashTool creates a new bash tool.
func NewBashTool(workDir string, opts ...BashToolOption) *BashTool {
	shell := detectShell()
	t := &BashTool{
		workDir:     workDir,
		shell:       shell,
		permissions: make(map[string]permission.PermissionAction),
		externalDir: permission.ActionAsk,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// unsupportedShells can't run the POSIX-ish command lines models emit.
var unsupportedShells = map[string]bool{
	"/bin/fish":     true,
	"/usr/bin/fish": true,
	"/bin/nu":       true,
	"/usr/bin/nu":   true,
}

// detectShell picks the shell commands run under: the user's own when
// it speaks POSIX, then a platform default.
func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" && !unsupportedShells[s] {
		return s
	}
	switch runtime.GOOS {
	case "darwin":
		return "/bin/zsh"
	case "windows":
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command", "description"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	// Check permissions if checker is configured
	if t.permChecker != nil && toolCtx != nil {
		if err := t.checkPermissions(ctx, params.Command, toolCtx); err != nil {
			return nil, err
		}
	}

	// Calculate timeout
	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	// Create command with context
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(cmdCtx, t.shell, "/c", params.Command)
	} else {
		cmd = exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	}

	// Set working directory
	if toolCtx != nil && toolCtx.WorkDir != "" {
		cmd.Dir = toolCtx.WorkDir
	} else if t.workDir != "" {
		cmd.Dir = t.workDir
	}

	cmd.Env = os.Environ()

	// Set process group for Unix (allows killing child processes)
	if runtime.GOOS != "windows" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	// on timeout/cancel, take the whole process group down, not just
	// the shell
	cmd.Cancel = func() error {
		t.killProcess(cmd)
		return nil
	}

	// Initialize metadata
	if toolCtx != nil {
		toolCtx.SetMetadata(params.Description, map[string]any{
			"output":      "",
			"description": params.Description,
		})
	}

	// Stdout and stderr interleave into one buffer; each write is also
	// relayed live as a ToolOutput fragment while the command runs.
	sink := &streamingOutput{}
	if toolCtx != nil {
		sink.emit = toolCtx.EmitOutput
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	err := cmd.Run()
	timedOut := cmdCtx.Err() == context.DeadlineExceeded

	// Truncate output if needed
	result := sink.String()
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}

	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	// Add error message if command failed
	if err != nil && !timedOut {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			result += fmt.Sprintf("\n\nError: %v", err)
		}
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"output":      result,
			"exit":        exitCode,
			"description": params.Description,
		},
	}, nil
}

// streamingOutput accumulates command output while forwarding each
// write to an optional live chunk consumer. Stdout and stderr share one
// instance, so writes are serialized.
type streamingOutput struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func (s *streamingOutput) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	if s.emit != nil {
		s.emit(string(p))
	}
	return len(p), nil
}

func (s *streamingOutput) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (t *BashTool) killProcess(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid

	if runtime.GOOS == "windows" {
		exec.Command("taskkill", "/pid", fmt.Sprint(pid), "/f", "/t").Run()
		return
	}

	// Kill process group
	syscall.Kill(-pid, syscall.SIGTERM)
	time.Sleep(SigkillTimeout)

	// Force kill if still running
	if cmd.ProcessState == nil {
		syscall.Kill(-pid, syscall.SIGKILL)
	}
}


// checkPermissions runs the full policy gauntlet for one command line:
// parse it into simple commands, boundary-check path arguments, resolve
// each command against the pattern table, and finally raise one
// combined ask for everything the policy didn't settle.
func (t *BashTool) checkPermissions(ctx context.Context, command string, toolCtx *Context) error {
	commands, err := permission.ParseBashCommand(command)
	if err != nil {
		// unparseable input gets a human look instead of a guess
		return t.permChecker.Ask(ctx, permission.Request{
			Type:      permission.PermBash,
			Pattern:   []string{command},
			SessionID: toolCtx.SessionID,
			MessageID: toolCtx.MessageID,
			CallID:    toolCtx.CallID,
			Title:     command,
			Metadata: map[string]any{
				"command":      command,
				"parse_failed": true,
			},
		})
	}

	workDir := t.workDir
	if toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}

	var askPatterns []string
	for _, cmd := range commands {
		if permission.IsDangerousCommand(cmd.Name) {
			if err := t.checkPathBoundary(ctx, cmd, command, workDir, toolCtx); err != nil {
				return err
			}
		}
		if cmd.Name == "cd" {
			// directory changes are governed by the path check alone
			continue
		}

		switch permission.MatchBashPermission(cmd, t.permissions) {
		case permission.ActionDeny:
			return &permission.RejectedError{
				SessionID: toolCtx.SessionID,
				Type:      permission.PermBash,
				CallID:    toolCtx.CallID,
				Message:   fmt.Sprintf("Command not allowed: %s", cmd.Name),
				Metadata: map[string]any{
					"command":     command,
					"permissions": t.permissions,
				},
			}
		case permission.ActionAsk:
			askPatterns = appendUnique(askPatterns, permission.BuildPattern(cmd))
		}
	}

	if len(askPatterns) == 0 {
		return nil
	}
	return t.permChecker.Ask(ctx, permission.Request{
		Type:      permission.PermBash,
		Pattern:   askPatterns,
		SessionID: toolCtx.SessionID,
		MessageID: toolCtx.MessageID,
		CallID:    toolCtx.CallID,
		Title:     command,
		Metadata: map[string]any{
			"command":  command,
			"patterns": askPatterns,
		},
	})
}

// checkPathBoundary enforces the external-directory policy for one
// path-touching command: every path argument must resolve inside
// workDir, or the configured action (deny/ask) applies.
func (t *BashTool) checkPathBoundary(ctx context.Context, cmd permission.BashCommand, command, workDir string, toolCtx *Context) error {
	for _, raw := range permission.ExtractPaths(cmd) {
		resolved, err := permission.ResolvePath(ctx, raw, workDir)
		if err != nil || permission.IsWithinDir(resolved, workDir) {
			continue
		}

		switch t.externalDir {
		case permission.ActionDeny:
			return &permission.RejectedError{
				SessionID: toolCtx.SessionID,
				Type:      permission.PermExternalDir,
				CallID:    toolCtx.CallID,
				Message:   fmt.Sprintf("Command references paths outside of %s", workDir),
				Metadata: map[string]any{
					"command": command,
					"path":    resolved,
				},
			}
		case permission.ActionAsk:
			err := t.permChecker.Ask(ctx, permission.Request{
				Type:      permission.PermExternalDir,
				Pattern:   []string{filepath.Dir(resolved), filepath.Join(filepath.Dir(resolved), "*")},
				SessionID: toolCtx.SessionID,
				MessageID: toolCtx.MessageID,
				CallID:    toolCtx.CallID,
				Title:     fmt.Sprintf("Command references paths outside of %s", workDir),
				Metadata: map[string]any{
					"command": command,
					"path":    resolved,
				},
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
