package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencode-ai/core/internal/formatter"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- The file_path parameter must be an absolute path
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

// WriteTool implements file writing.
type WriteTool struct {
	workDir string
	fmtMgr  *formatter.Manager // optional; nil disables format-on-save
}

// WriteInput represents the input for the write tool.
// SDK compatible: uses camelCase field names to match TypeScript.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool. fmtMgr may be nil to disable
// the format-on-save hook.
func NewWriteTool(workDir string, fmtMgr *formatter.Manager) *WriteTool {
	return &WriteTool{workDir: workDir, fmtMgr: fmtMgr}
}

func (t *WriteTool) ID() string          { return "write" }
func (t *WriteTool) Description() string { return writeDescription }

func (t *WriteTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	// what was there before, for the diff record; "" for a new file
	previous := ""
	if raw, err := os.ReadFile(params.FilePath); err == nil {
		previous = string(raw)
	}

	if err := os.MkdirAll(filepath.Dir(params.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(params.FilePath, []byte(params.Content), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	// The whole file is a single replacement span; there's no stable
	// text around it to anchor on, so reconstruction always succeeds
	// trivially and the formatted file stands on its own.
	runFormatOnSave(ctx, t.fmtMgr, params.FilePath, []formatter.MatchSpan{{Start: 0, End: len(params.Content), Text: params.Content}})
	publishFileEdited(toolCtx, params.FilePath)

	meta := map[string]any{
		"file":  params.FilePath,
		"bytes": len(params.Content),
	}
	attachDiffMetadata(meta, params.FilePath, previous, params.Content, t.workDir)

	return &Result{
		Title: fmt.Sprintf("Wrote %s", filepath.Base(params.FilePath)),
		Output: fmt.Sprintf("Successfully wrote %d bytes to %s",
			len(params.Content), params.FilePath),
		Metadata: meta,
	}, nil
}

