package session

import (
	"context"
	"fmt"
	"time"

	"github.com/opencode-ai/core/internal/tool"
	"github.com/opencode-ai/core/pkg/types"
)

// subtaskPollInterval is how often ExecuteSubtask checks whether the
// nested agent run has returned to idle.
const subtaskPollInterval = 100 * time.Millisecond

// ExecuteSubtask implements tool.TaskExecutor: it runs one nested agent
// conversation in a fresh session under the parent session's working
// directory and returns the final assistant text. The nested run uses
// the same provider/model resolution as any other session; cancellation
// of the parent turn propagates through ctx.
func (m *Manager) ExecuteSubtask(ctx context.Context, parentSessionID, agentName, prompt string, opts tool.TaskOptions) (*tool.TaskResult, error) {
	directory := ""
	if parent, err := m.getSession(ctx, parentSessionID); err == nil {
		directory = parent.Directory
	}

	title := opts.Description
	if title == "" {
		title = "subtask (" + agentName + ")"
	}
	sub, err := m.CreateSession(ctx, directory, title)
	if err != nil {
		return nil, fmt.Errorf("subtask session: %w", err)
	}

	content := []types.ContentBlock{&types.TextBlock{Text: prompt}}
	if err := m.StartAgentForMessage(ctx, sub.ID, content); err != nil {
		return nil, fmt.Errorf("subtask start: %w", err)
	}

	ticker := time.NewTicker(subtaskPollInterval)
	defer ticker.Stop()
	for m.IsRunning(sub.ID) {
		select {
		case <-ctx.Done():
			_ = m.Cancel(sub.ID)
			for m.IsRunning(sub.ID) {
				time.Sleep(subtaskPollInterval)
			}
			return &tool.TaskResult{SessionID: sub.ID, Error: "cancelled"}, nil
		case <-ticker.C:
		}
	}

	path, err := m.LoadSession(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("subtask result: %w", err)
	}
	output := ""
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == "assistant" && path[i].Text() != "" {
			output = path[i].Text()
			break
		}
	}
	return &tool.TaskResult{Output: output, SessionID: sub.ID}, nil
}
