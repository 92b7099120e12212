package tool

import (
	"context"
	"encoding/json"
)

const completeTaskDescription = `Signals that the current task is finished. Call this once you have
completed everything the user asked for and have nothing further to do this turn. This tool ends
the agent loop; it performs no action of its own.`

// CompleteTaskTool is the terminal tool: its presence in a turn's tool
// requests ends the agent loop.
type CompleteTaskTool struct{}

// NewCompleteTaskTool creates the complete_task tool.
func NewCompleteTaskTool() *CompleteTaskTool {
	return &CompleteTaskTool{}
}

func (t *CompleteTaskTool) ID() string          { return "complete_task" }
func (t *CompleteTaskTool) Description() string { return completeTaskDescription }

func (t *CompleteTaskTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *CompleteTaskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {
				"type": "string",
				"description": "A brief summary of what was accomplished"
			}
		},
		"required": []
	}`)
}

func (t *CompleteTaskTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(input, &params)
	return &Result{
		Title:  "Task complete",
		Output: params.Summary,
	}, nil
}
