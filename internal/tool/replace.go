package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opencode-ai/core/internal/formatter"
)

const replaceInFileDescription = `Applies a batch of exact-text replacements to a file in one atomic write.

Usage:
- filePath must be an absolute path
- Each replacement's search text must match exactly once in the file, unless replaceAll is set
- If any non-replaceAll search matches zero or more than one time, the whole batch fails and the file is left unchanged
- Replacements must not overlap one another (adjacent ones are allowed)`

// Replacement is one {search, replace} pair in a replace_in_file batch
// (the batch form of the edit tool).
type Replacement struct {
	Search     string `json:"search"`
	Replace    string `json:"replace"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// ReplaceInFileInput is the input for the replace_in_file tool.
type ReplaceInFileInput struct {
	FilePath     string        `json:"filePath"`
	Replacements []Replacement `json:"replacements"`
}

// SearchBlockNotFoundError reports that a non-replaceAll search string
// had zero matches.
type SearchBlockNotFoundError struct {
	Search string
}

func (e *SearchBlockNotFoundError) Error() string {
	return fmt.Sprintf("search block not found: %q", e.Search)
}

// MultipleMatchesError reports that a non-replaceAll search string
// matched more than once.
type MultipleMatchesError struct {
	Search string
	Count  int
}

func (e *MultipleMatchesError) Error() string {
	return fmt.Sprintf("search block matches %d times, expected exactly 1 (set replaceAll to replace all): %q", e.Count, e.Search)
}

// OverlappingMatchesError reports that two replacements in the same
// batch claim overlapping byte ranges of the file; overlapping matches
// fail the whole batch. Adjacent ranges are applied.
type OverlappingMatchesError struct{}

func (e *OverlappingMatchesError) Error() string {
	return "replacements overlap"
}

// ReplaceInFileTool implements the batch search/replace tool with
// format-on-save reconstruction.
type ReplaceInFileTool struct {
	workDir string
	fmtMgr  *formatter.Manager // optional; nil disables format-on-save
}

// NewReplaceInFileTool creates a new replace_in_file tool. fmtMgr may be
// nil to disable the format-on-save hook.
func NewReplaceInFileTool(workDir string, fmtMgr *formatter.Manager) *ReplaceInFileTool {
	return &ReplaceInFileTool{workDir: workDir, fmtMgr: fmtMgr}
}

func (t *ReplaceInFileTool) ID() string          { return "replace_in_file" }
func (t *ReplaceInFileTool) Description() string { return replaceInFileDescription }

func (t *ReplaceInFileTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *ReplaceInFileTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The absolute path to the file to edit"
			},
			"replacements": {
				"type": "array",
				"description": "The set of search/replace pairs to apply",
				"items": {
					"type": "object",
					"properties": {
						"search": {"type": "string", "description": "The exact text to find"},
						"replace": {"type": "string", "description": "The text to replace it with"},
						"replaceAll": {"type": "boolean", "description": "Replace every occurrence instead of requiring exactly one"}
					},
					"required": ["search", "replace"]
				}
			}
		},
		"required": ["filePath", "replacements"]
	}`)
}

func (t *ReplaceInFileTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReplaceInFileInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if len(params.Replacements) == 0 {
		return nil, fmt.Errorf("replacements must be non-empty")
	}

	raw, err := os.ReadFile(params.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	content := normalizeLineEndings(string(raw))

	var matches []formatter.MatchSpan
	for _, r := range params.Replacements {
		search := normalizeLineEndings(r.Search)
		if search == "" {
			return nil, fmt.Errorf("search text must not be empty")
		}
		idxs := findAllIndexes(content, search)
		if r.ReplaceAll {
			for _, idx := range idxs {
				matches = append(matches, formatter.MatchSpan{Start: idx, End: idx + len(search), Text: r.Replace})
			}
			continue
		}
		switch len(idxs) {
		case 0:
			return nil, &SearchBlockNotFoundError{Search: r.Search}
		case 1:
			matches = append(matches, formatter.MatchSpan{Start: idxs[0], End: idxs[0] + len(search), Text: r.Replace})
		default:
			return nil, &MultipleMatchesError{Search: r.Search, Count: len(idxs)}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Start < matches[j].Start })
	for i := 1; i < len(matches); i++ {
		if matches[i].Start < matches[i-1].End {
			return nil, &OverlappingMatchesError{}
		}
	}

	newContent, newSpans := applyMatches(content, matches)

	if err := os.WriteFile(params.FilePath, []byte(newContent), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	reconstructed, _, ok := runFormatOnSave(ctx, t.fmtMgr, params.FilePath, newSpans)
	publishFileEdited(toolCtx, params.FilePath)

	meta := map[string]any{
		"file":         params.FilePath,
		"replacements": len(matches),
	}
	if ok {
		meta["formatted"] = reconstructed
	}
	attachDiffMetadata(meta, params.FilePath, content, newContent, t.workDir)
	return &Result{
		Title:    fmt.Sprintf("Edited %s", filepath.Base(params.FilePath)),
		Output:   fmt.Sprintf("Applied %d replacement(s)", len(matches)),
		Metadata: meta,
	}, nil
}

// findAllIndexes returns the start offsets of every non-overlapping
// occurrence of search in content, left to right (the same scan order
// strings.Count/ReplaceAll use).
func findAllIndexes(content, search string) []int {
	var out []int
	offset := 0
	for {
		idx := strings.Index(content[offset:], search)
		if idx < 0 {
			return out
		}
		out = append(out, offset+idx)
		offset += idx + len(search)
	}
}

// applyMatches rewrites content by substituting each match's range with
// its Text, given matches already sorted and non-overlapping. It
// returns the new content and the matches' extents within it (the
// format-on-save hook needs these as reconstruction anchors).
func applyMatches(content string, matches []formatter.MatchSpan) (string, []formatter.MatchSpan) {
	var b strings.Builder
	newSpans := make([]formatter.MatchSpan, len(matches))
	cursor := 0
	for i, m := range matches {
		b.WriteString(content[cursor:m.Start])
		start := b.Len()
		b.WriteString(m.Text)
		newSpans[i] = formatter.MatchSpan{Start: start, End: b.Len(), Text: m.Text}
		cursor = m.End
	}
	b.WriteString(content[cursor:])
	return b.String(), newSpans
}
