package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-ai/core/internal/formatter"
)

// appendNewlineFormatter registers a formatter for ext that appends a
// trailing newline to the file, a mutation entirely outside any edit
// span so reconstruction should always succeed.
func appendNewlineFormatter(ext string) *formatter.Manager {
	mgr := formatter.NewManager(".", nil)
	mgr.AddFormatter(&formatter.Formatter{
		Name:       "appendnl",
		Extensions: []string{ext},
		Command:    []string{"sh", "-c", `printf '\n' >> "$file"`},
	})
	return mgr
}

func TestEditTool_FormatOnSaveReconstructsSpan(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "code.stub")
	if err := os.WriteFile(testFile, []byte("func foo(){return 1}\n"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	fmtMgr := appendNewlineFormatter("stub")
	tool := NewEditTool(tmpDir, fmtMgr)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{
		"filePath": "` + testFile + `",
		"oldString": "{return 1}",
		"newString": "{ return 1 }"
	}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(data) != "func foo(){ return 1 }\n\n" {
		t.Fatalf("unexpected file content: %q", string(data))
	}

	spans, ok := result.Metadata["formatted"].([]formatter.MatchSpan)
	if !ok {
		t.Fatalf("expected reconstruction to succeed and record the formatted span, metadata: %v", result.Metadata)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 reconstructed span, got %d", len(spans))
	}
	if spans[0].Text != "{ return 1 }" {
		t.Errorf("reconstructed span text = %q, want %q", spans[0].Text, "{ return 1 }")
	}
}

func TestReplaceInFileTool_FormatOnSaveReconstructsSpans(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "code.stub")
	if err := os.WriteFile(testFile, []byte("alpha beta gamma"), 0644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	fmtMgr := appendNewlineFormatter("stub")
	tool := NewReplaceInFileTool(tmpDir, fmtMgr)
	ctx := context.Background()
	toolCtx := testContext()

	input := json.RawMessage(`{
		"filePath": "` + testFile + `",
		"replacements": [
			{"search": "beta", "replace": "BETA"}
		]
	}`)
	result, err := tool.Execute(ctx, input, toolCtx)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, err := os.ReadFile(testFile)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(data) != "alpha BETA gamma\n" {
		t.Fatalf("unexpected file content: %q", string(data))
	}

	spans, ok := result.Metadata["formatted"].([]formatter.MatchSpan)
	if !ok {
		t.Fatalf("expected reconstruction to succeed, metadata: %v", result.Metadata)
	}
	if len(spans) != 1 || spans[0].Text != "BETA" {
		t.Errorf("unexpected reconstructed spans: %+v", spans)
	}
}
