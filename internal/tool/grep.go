package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const grepDescription = `A powerful content search tool.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with glob parameter (e.g., "*.js", "**/*.tsx")
- Returns matching lines with file paths and line numbers`

const (
	maxGrepMatches  = 100
	maxGrepFileSize = 4 << 20 // files larger than this are skipped
)

// GrepTool searches file contents by regular expression.
type GrepTool struct {
	workDir string
}

// GrepInput represents the input for the grep tool. Glob is an accepted
// alias for Include; models emit both.
type GrepInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
	Include string `json:"include,omitempty"` // file pattern to include (e.g., "*.js")
	Glob    string `json:"glob,omitempty"`
}

// NewGrepTool creates a new grep tool.
func NewGrepTool(workDir string) *GrepTool {
	return &GrepTool{workDir: workDir}
}

func (t *GrepTool) ID() string          { return "grep" }
func (t *GrepTool) Description() string { return grepDescription }

func (t *GrepTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *GrepTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The regex pattern to search for in file contents"
			},
			"path": {
				"type": "string",
				"description": "The directory to search in. Defaults to the current working directory."
			},
			"include": {
				"type": "string",
				"description": "File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"
			},
			"glob": {
				"type": "string",
				"description": "Alias for include"
			}
		},
		"required": ["pattern"]
	}`)
}

// GrepMatch represents a search match.
type GrepMatch struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

func (t *GrepTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GrepInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}

	root := t.workDir
	if toolCtx != nil && toolCtx.WorkDir != "" {
		root = toolCtx.WorkDir
	}
	if params.Path != "" {
		root = params.Path
	}

	include := params.Include
	if include == "" {
		include = params.Glob
	}
	matches, truncated := t.search(ctx, root, re, include)

	if len(matches) == 0 {
		return &Result{
			Title:  "Search results",
			Output: "No matches found",
			Metadata: map[string]any{
				"pattern": params.Pattern,
				"count":   0,
			},
		}, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.File, m.Line, m.Content)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n(Showing %d of more matches)", maxGrepMatches)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d matches", len(matches)),
		Output: sb.String(),
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(matches),
			"truncated": truncated,
		},
	}, nil
}

// search walks root and collects up to maxGrepMatches matching lines.
// Hidden directories, oversized files, and binary-looking content are
// skipped; include (when set) filters candidate files by base name or
// doublestar path pattern.
func (t *GrepTool) search(ctx context.Context, root string, re *regexp.Regexp, include string) ([]GrepMatch, bool) {
	var matches []GrepMatch
	truncated := false

	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || ctx.Err() != nil {
			return fs.SkipAll
		}
		if d.IsDir() {
			if name := d.Name(); path != root && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return fs.SkipDir
			}
			return nil
		}
		if include != "" && !includeMatches(include, path, root) {
			return nil
		}
		if info, err := d.Info(); err != nil || info.Size() > maxGrepFileSize {
			return nil
		}

		fileMatches, done := grepFile(path, re, maxGrepMatches-len(matches))
		matches = append(matches, fileMatches...)
		if done {
			truncated = true
			return fs.SkipAll
		}
		return nil
	})

	return matches, truncated
}

// includeMatches applies the include filter against the file's base
// name and its root-relative path.
func includeMatches(include, path, root string) bool {
	if ok, _ := doublestar.Match(include, filepath.Base(path)); ok {
		return true
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		if ok, _ := doublestar.Match(include, rel); ok {
			return true
		}
	}
	return false
}

// grepFile scans one file line by line, stopping once budget matches
// have been collected. done reports that the budget ran out.
func grepFile(path string, re *regexp.Regexp, budget int) (matches []GrepMatch, done bool) {
	if budget <= 0 {
		return nil, true
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if lineNo == 1 && strings.ContainsRune(line, '\x00') {
			return nil, false // binary
		}
		if !re.MatchString(line) {
			continue
		}
		matches = append(matches, GrepMatch{File: path, Line: lineNo, Content: line})
		if len(matches) >= budget {
			return matches, true
		}
	}
	return matches, false
}
