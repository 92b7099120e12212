package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/core/internal/storage"
	"github.com/opencode-ai/core/pkg/types"
)

const todoreadDescription = `Use this tool to read your todo list`

// TodoReadTool returns the session's current todo list.
type TodoReadTool struct {
	workDir string
	storage *storage.Storage
}

// NewTodoReadTool creates a new todoread tool.
func NewTodoReadTool(workDir string, store *storage.Storage) *TodoReadTool {
	return &TodoReadTool{workDir: workDir, storage: store}
}

func (t *TodoReadTool) ID() string          { return "todoread" }
func (t *TodoReadTool) Description() string { return todoreadDescription }

func (t *TodoReadTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *TodoReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {},
		"required": []
	}`)
}

func (t *TodoReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	// todos live in their own storage bucket, keyed by session, so the
	// tool layer doesn't need a handle on the session manager
	var todos []types.TodoInfo
	switch err := t.storage.Get(ctx, []string{"todo", toolCtx.SessionID}, &todos); err {
	case nil, storage.ErrNotFound:
	default:
		return nil, fmt.Errorf("failed to get todos: %w", err)
	}
	if todos == nil {
		todos = []types.TodoInfo{}
	}
	return todoResult(todos), nil
}

// todoResult renders a todo list the way both todo tools report it:
// open-item count in the title, the full list as indented JSON.
func todoResult(todos []types.TodoInfo) *Result {
	open := 0
	for _, td := range todos {
		if td.Status != "completed" {
			open++
		}
	}
	rendered, _ := json.MarshalIndent(todos, "", "  ")
	return &Result{
		Title:    fmt.Sprintf("%d todos", open),
		Output:   string(rendered),
		Metadata: map[string]any{"todos": todos},
	}
}
