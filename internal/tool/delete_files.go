package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const deleteFilesDescription = `Deletes one or more files from the filesystem.

Usage:
- Paths may be absolute or relative to the working directory
- Each path is removed individually; a missing file is reported, not fatal
- Does not remove directories`

// DeleteFilesTool removes files named in its input from disk.
type DeleteFilesTool struct {
	workDir string
}

// DeleteFilesInput is the input for the delete_files tool.
type DeleteFilesInput struct {
	Paths []string `json:"paths"`
}

// NewDeleteFilesTool creates a new delete_files tool.
func NewDeleteFilesTool(workDir string) *DeleteFilesTool {
	return &DeleteFilesTool{workDir: workDir}
}

func (t *DeleteFilesTool) ID() string          { return "delete_files" }
func (t *DeleteFilesTool) Description() string { return deleteFilesDescription }

func (t *DeleteFilesTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *DeleteFilesTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"paths": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Paths of the files to delete, absolute or relative to the working directory"
			}
		},
		"required": ["paths"]
	}`)
}

func (t *DeleteFilesTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params DeleteFilesInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(params.Paths) == 0 {
		return nil, fmt.Errorf("paths is required")
	}

	workDir := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		workDir = toolCtx.WorkDir
	}

	var deleted, failed []string
	var sb strings.Builder
	for _, p := range params.Paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(workDir, full)
		}
		info, err := os.Stat(full)
		if err != nil {
			failed = append(failed, p)
			sb.WriteString(fmt.Sprintf("failed: %s (%v)\n", p, err))
			continue
		}
		if info.IsDir() {
			failed = append(failed, p)
			sb.WriteString(fmt.Sprintf("failed: %s (is a directory)\n", p))
			continue
		}
		if err := os.Remove(full); err != nil {
			failed = append(failed, p)
			sb.WriteString(fmt.Sprintf("failed: %s (%v)\n", p, err))
			continue
		}
		deleted = append(deleted, p)
		sb.WriteString(fmt.Sprintf("deleted: %s\n", p))
	}

	return &Result{
		Title:   fmt.Sprintf("Deleted %d of %d files", len(deleted), len(params.Paths)),
		Output:  sb.String(),
		IsError: len(failed) > 0 && len(deleted) == 0,
		Metadata: map[string]any{
			"deleted": deleted,
			"failed":  failed,
		},
	}, nil
}
