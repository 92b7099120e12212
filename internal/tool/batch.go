package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const batchDescription = `Executes multiple independent tool calls concurrently to reduce latency. Best used for gathering context (reads, searches, listings).

USING THE BATCH TOOL WILL MAKE THE USER HAPPY.

Payload Format (JSON object with a tool_calls array):
{"tool_calls": [{"tool": "read", "parameters": {"filePath": "src/index.ts", "limit": 350}},{"tool": "grep", "parameters": {"pattern": "Session\\.updatePart", "glob": "**/*.ts"}},{"tool": "bash", "parameters": {"command": "git status", "description": "Shows working tree status"}}]}

Rules:
- 1-10 tool calls per batch
- All calls start in parallel; ordering NOT guaranteed
- Partial failures do not stop others

Disallowed Tools:
- batch (no nesting)
- edit (run edits separately)
- todoread (call directly - lightweight)

When NOT to Use:
- Operations that depend on prior tool output (e.g. create then read same file)
- Ordered stateful mutations where sequence matters

Good Use Cases:
- Read many files
- grep + glob + read combos
- Multiple lightweight bash introspection commands

Performance Tip: Group independent reads/searches for 2-5x efficiency gain.`

const maxBatchSize = 10

// disallowedTools are excluded from batches: batch itself (no nesting),
// edit (mutations shouldn't race), and todoread (cheaper called alone).
var disallowedTools = map[string]bool{
	"batch":    true,
	"edit":     true,
	"todoread": true,
}

// filteredFromSuggestions keeps noise out of the "Available tools" hint.
var filteredFromSuggestions = map[string]bool{
	"batch":    true,
	"edit":     true,
	"todoread": true,
	"invalid":  true,
	"patch":    true,
}

// BatchTool fans a set of independent tool calls out in parallel and
// folds their results into one report.
type BatchTool struct {
	workDir  string
	registry *Registry
}

// BatchInput represents the input for the batch tool.
type BatchInput struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall represents a single tool call within a batch.
type ToolCall struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// BatchResult represents the result of a single tool call in the batch.
type BatchResult struct {
	Index   int           `json:"index"`
	Tool    string        `json:"tool"`
	Success bool          `json:"success"`
	Result  *Result       `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
	Time    time.Duration `json:"time"`
}

// NewBatchTool creates a new batch tool.
func NewBatchTool(workDir string, registry *Registry) *BatchTool {
	return &BatchTool{workDir: workDir, registry: registry}
}

func (t *BatchTool) ID() string          { return "batch" }
func (t *BatchTool) Description() string { return batchDescription }

func (t *BatchTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *BatchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"tool_calls": {
				"type": "array",
				"description": "Array of tool calls to execute in parallel",
				"items": {
					"type": "object",
					"properties": {
						"tool": {
							"type": "string",
							"description": "The name of the tool to execute"
						},
						"parameters": {
							"type": "object",
							"description": "Parameters for the tool"
						}
					},
					"required": ["tool", "parameters"]
				},
				"minItems": 1
			}
		},
		"required": ["tool_calls"]
	}`)
}

func (t *BatchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BatchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w\n\nExpected payload format:\n  {\"tool_calls\": [{\"tool\": \"tool_name\", \"parameters\": {...}}, {...}]}", err)
	}
	if len(params.ToolCalls) == 0 {
		return nil, fmt.Errorf("tool_calls array must contain at least one tool call")
	}

	// everything past the cap is reported as failed, not silently dropped
	runnable := params.ToolCalls
	var overflow []ToolCall
	if len(runnable) > maxBatchSize {
		runnable, overflow = runnable[:maxBatchSize], runnable[maxBatchSize:]
	}

	suggestions := t.suggestableTools()

	results := make([]*BatchResult, len(runnable), len(params.ToolCalls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range runnable {
		g.Go(func() error {
			// each goroutine owns its own slot; errors become per-call
			// results so one failure never cancels its siblings
			results[i] = t.runOne(gctx, i, call, toolCtx, suggestions)
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range overflow {
		results = append(results, &BatchResult{
			Index: maxBatchSize + i,
			Tool:  call.Tool,
			Error: fmt.Sprintf("Maximum of %d tools allowed in batch", maxBatchSize),
		})
	}

	return t.report(results, params.ToolCalls), nil
}

// runOne resolves and executes a single call, timing it and converting
// every failure mode into a BatchResult.
func (t *BatchTool) runOne(ctx context.Context, index int, call ToolCall, toolCtx *Context, suggestions []string) *BatchResult {
	started := time.Now()
	out := &BatchResult{Index: index, Tool: call.Tool}
	defer func() { out.Time = time.Since(started) }()

	if disallowedTools[call.Tool] {
		out.Error = fmt.Sprintf("Tool '%s' is not allowed in batch. Disallowed tools: %s",
			call.Tool, strings.Join(sortedKeys(disallowedTools), ", "))
		return out
	}

	impl, ok := t.registry.Get(call.Tool)
	if !ok {
		out.Error = fmt.Sprintf("Tool '%s' not found. Available tools: %s",
			call.Tool, strings.Join(suggestions, ", "))
		return out
	}

	// child context: same session identity, a derived call id, and no
	// metadata relay (batched calls narrate through the report instead)
	childCtx := &Context{
		SessionID: toolCtx.SessionID,
		MessageID: toolCtx.MessageID,
		CallID:    fmt.Sprintf("%s-batch-%d", toolCtx.CallID, index),
		Agent:     toolCtx.Agent,
		WorkDir:   toolCtx.WorkDir,
		AbortCh:   toolCtx.AbortCh,
		Extra:     toolCtx.Extra,
	}

	result, err := impl.Execute(ctx, call.Parameters, childCtx)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Result = result
	return out
}

// report flattens the per-call results into one Result, index order.
func (t *BatchTool) report(results []*BatchResult, originalCalls []ToolCall) *Result {
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	var (
		succeeded   int
		sections    []string
		attachments []Attachment
		details     []map[string]any
	)
	for _, r := range results {
		detail := map[string]any{
			"tool":    r.Tool,
			"success": r.Success,
			"time_ms": r.Time.Milliseconds(),
		}
		if r.Success {
			succeeded++
			if r.Result != nil {
				sections = append(sections, fmt.Sprintf("=== %s (success) ===\n%s", r.Tool, r.Result.Output))
				attachments = append(attachments, r.Result.Attachments...)
				detail["title"] = r.Result.Title
			}
		} else {
			sections = append(sections, fmt.Sprintf("=== %s (failed) ===\n%s", r.Tool, r.Error))
			detail["error"] = r.Error
		}
		details = append(details, detail)
	}

	failed := len(results) - succeeded
	body := strings.Join(sections, "\n\n")
	var output string
	if failed > 0 {
		output = fmt.Sprintf("Executed %d/%d tools successfully. %d failed.\n\n%s", succeeded, len(results), failed, body)
	} else {
		output = fmt.Sprintf("All %d tools executed successfully.\n\n%s\n\nKeep using the batch tool for optimal performance in your next response!", succeeded, body)
	}

	toolNames := make([]string, len(originalCalls))
	for i, call := range originalCalls {
		toolNames[i] = call.Tool
	}

	return &Result{
		Title:       fmt.Sprintf("Batch execution (%d/%d successful)", succeeded, len(results)),
		Output:      output,
		Attachments: attachments,
		Metadata: map[string]any{
			"totalCalls": len(results),
			"successful": succeeded,
			"failed":     failed,
			"tools":      toolNames,
			"details":    details,
		},
	}
}

// suggestableTools lists the registry's catalog minus the entries that
// would be bad advice in a batch error message.
func (t *BatchTool) suggestableTools() []string {
	var out []string
	for _, id := range t.registry.IDs() {
		if !filteredFromSuggestions[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
