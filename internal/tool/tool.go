// Package tool provides the tool framework for LLM tool execution: a
// pluggable catalog, JSON-schema input validation, and output rendering.
package tool

import (
	"context"
	"encoding/json"
)

// Scope filters which tools are advertised to a given caller: an
// in-process agent sees a broader catalog than an external MCP-style
// server.
type Scope string

const (
	ScopeAgent              Scope = "agent"
	ScopeAgentWithDiffBlock Scope = "agent_with_diff_blocks"
	ScopeMcpServer          Scope = "mcp_server"
)

// Spec is the provider-facing projection of a tool: name, description,
// JSON-schema parameters, and which scopes may invoke it.
type Spec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Annotations map[string]string
	Scopes      []Scope
	Hidden      bool
}

// AllowedFor reports whether the tool advertises itself to callers in
// the given scope.
func (s Spec) AllowedFor(scope Scope) bool {
	if len(s.Scopes) == 0 {
		return true
	}
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// Tool defines the interface every registered tool implements.
type Tool interface {
	// ID returns the tool identifier (the "name" in Spec).
	ID() string

	// Description returns the tool description.
	Description() string

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Spec returns the full provider-facing tool descriptor.
	Spec() Spec

	// Execute invokes the tool: ctx carries cancellation, input is the
	// (already schema-validated) call arguments.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools: session/message/call
// identity, working directory, abort signaling, and output streaming.
type Context struct {
	SessionID string
	MessageID string
	CallID    string
	Agent     string
	WorkDir   string
	AbortCh   <-chan struct{}
	Extra     map[string]any

	// OnMetadata streams incremental title/metadata updates while the
	// tool is still running (e.g. execute_command's ToolOutput chunks).
	OnMetadata func(title string, meta map[string]any)

	// OnOutputChunk streams raw output bytes as they're produced, for
	// tools that forward ToolOutput display fragments.
	OnOutputChunk func(chunk string)
}

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// EmitOutput streams a chunk of the tool's own running output.
func (c *Context) EmitOutput(chunk string) {
	if c.OnOutputChunk != nil {
		c.OnOutputChunk(chunk)
	}
}

// IsAborted checks if the tool execution has been aborted.
func (c *Context) IsAborted() bool {
	select {
	case <-c.AbortCh:
		return true
	default:
		return false
	}
}

// Result represents the output of a tool execution: enough to render
// the ToolResult content text the model sees, plus UI-facing extras.
type Result struct {
	Title       string         `json:"title"`
	Output      string         `json:"output"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	IsError     bool           `json:"isError,omitempty"`
	Error       error          `json:"-"`
}

// Attachment represents a file attachment.
type Attachment struct {
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"` // data: URL or file path
}

// BaseTool provides a base implementation for tools built from a plain
// function, used by the handful of tools with no dedicated struct.
type BaseTool struct {
	id          string
	description string
	parameters  json.RawMessage
	scopes      []Scope
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(id, description string, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	return &BaseTool{
		id:          id,
		description: description,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) ID() string                  { return t.id }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Spec() Spec {
	return Spec{Name: t.id, Description: t.description, Parameters: t.parameters, Scopes: t.scopes}
}

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}
