package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const listDescription = `Lists files and directories in a specified path.

Usage:
- Returns file names, types (file/directory), and sizes
- Set depth to also descend into subdirectories (default: 1, top level only)
- Useful for exploring directory structure`

// defaultIgnorePatterns name the directory clutter a listing skips
// unless the caller asks for it explicitly.
var defaultIgnorePatterns = []string{
	"node_modules/",
	"__pycache__/",
	".git/",
	"dist/",
	"build/",
	"target/",
	"vendor/",
	"bin/",
	"obj/",
	".idea/",
	".vscode/",
	".zig-cache/",
	"zig-out",
	".coverage",
	"coverage/",
	"tmp/",
	"temp/",
	".cache/",
	"cache/",
	"logs/",
	".venv/",
	"venv/",
	"env/",
}

// ListTool renders a directory's contents, optionally as a depth-bounded
// tree.
type ListTool struct {
	workDir string
}

// ListInput represents the input for the list tool.
type ListInput struct {
	Path   string   `json:"path,omitempty"`
	Ignore []string `json:"ignore,omitempty"`
	Depth  int      `json:"depth,omitempty"`
}

// FileEntry represents a file or directory entry.
type FileEntry struct {
	Name        string `json:"name"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
}

// NewListTool creates a new list tool.
func NewListTool(workDir string) *ListTool {
	return &ListTool{workDir: workDir}
}

func (t *ListTool) ID() string          { return "list" }
func (t *ListTool) Description() string { return listDescription }

func (t *ListTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *ListTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "The absolute path to the directory to list (must be absolute, not relative)"
			},
			"ignore": {
				"type": "array",
				"items": {"type": "string"},
				"description": "List of glob patterns to ignore"
			},
			"depth": {
				"type": "integer",
				"description": "How many directory levels to descend (default: 1)"
			}
		}
	}`)
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ListInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	root := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		root = toolCtx.WorkDir
	}
	if params.Path != "" {
		if filepath.IsAbs(params.Path) {
			root = params.Path
		} else {
			root = filepath.Join(root, params.Path)
		}
	}

	depth := params.Depth
	if depth <= 0 {
		depth = 1
	}
	ignore := append(append([]string{}, defaultIgnorePatterns...), params.Ignore...)

	var sb strings.Builder
	count, err := t.renderLevel(&sb, root, ignore, depth, 0)
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:  fmt.Sprintf("Listed %d items", count),
		Output: sb.String(),
		Metadata: map[string]any{
			"path":  root,
			"count": count,
		},
	}, nil
}

// renderLevel writes one directory level, indented by nesting, and
// recurses into subdirectories while depth allows. It returns how many
// entries it rendered in total. Only the top level propagates a read
// error; unreadable nested directories just end that branch.
func (t *ListTool) renderLevel(sb *strings.Builder, dir string, ignore []string, depth, level int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if level == 0 {
			return 0, fmt.Errorf("failed to read directory: %w", err)
		}
		return 0, nil
	}

	indent := strings.Repeat("  ", level)
	count := 0
	for _, entry := range entries {
		if shouldIgnore(entry.Name(), entry.IsDir(), ignore) {
			continue
		}
		count++

		if entry.IsDir() {
			fmt.Fprintf(sb, "%s[dir ] %s\n", indent, entry.Name())
			if level+1 < depth {
				nested, _ := t.renderLevel(sb, filepath.Join(dir, entry.Name()), ignore, depth, level+1)
				count += nested
			}
			continue
		}

		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(sb, "%s[file] %s (%d bytes)\n", indent, entry.Name(), size)
	}
	return count, nil
}

// shouldIgnore reports whether a directory entry matches any ignore
// pattern. A trailing "/" in a pattern restricts it to directories;
// other patterns go through filepath.Match against the bare name (and
// the name+"/" form for directories).
func shouldIgnore(name string, isDir bool, patterns []string) bool {
	for _, pattern := range patterns {
		if dirPattern, ok := strings.CutSuffix(pattern, "/"); ok {
			if isDir && name == dirPattern {
				return true
			}
			continue
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
		if isDir {
			if matched, _ := filepath.Match(pattern, name+"/"); matched {
				return true
			}
		}
	}
	return false
}
