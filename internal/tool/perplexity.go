package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
)

const perplexityAskDescription = `Ask Perplexity's online model a question and get a web-grounded answer with citations.

Usage notes:
  - Requires PERPLEXITY_API_KEY to be set; returns an error result otherwise.
  - Best for questions that need current, cited information rather than a
    list of links (use web_search for that).`

// PerplexityAskTool issues a single-turn chat completion against
// Perplexity's OpenAI Chat Completions-compatible API.
type PerplexityAskTool struct {
	client   *http.Client
	endpoint string
	model    string
}

// NewPerplexityAskTool creates a new perplexity_ask tool.
func NewPerplexityAskTool() *PerplexityAskTool {
	return &PerplexityAskTool{
		client:   &http.Client{Timeout: 60 * time.Second},
		endpoint: envOrDefault("OPENCODE_PERPLEXITY_ENDPOINT", "https://api.perplexity.ai/chat/completions"),
		model:    envOrDefault("OPENCODE_PERPLEXITY_MODEL", "sonar"),
	}
}

func (t *PerplexityAskTool) ID() string          { return "perplexity_ask" }
func (t *PerplexityAskTool) Description() string { return perplexityAskDescription }

func (t *PerplexityAskTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *PerplexityAskTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {
				"type": "string",
				"description": "The question to ask"
			}
		},
		"required": ["question"]
	}`)
}

type perplexityAskInput struct {
	Question string `json:"question"`
}

func (t *PerplexityAskTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params perplexityAskInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(params.Question) == "" {
		return nil, fmt.Errorf("question is required")
	}

	apiKey := os.Getenv("PERPLEXITY_API_KEY")
	if apiKey == "" {
		return &Result{
			Title:   "perplexity_ask",
			Output:  "PERPLEXITY_API_KEY is not configured",
			IsError: true,
		}, nil
	}

	reqBody := goopenai.ChatCompletionRequest{
		Model: t.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: params.Question},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return &Result{Title: "perplexity_ask", Output: fmt.Sprintf("request failed: %v", err), IsError: true}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{
			Title:   "perplexity_ask",
			Output:  fmt.Sprintf("perplexity returned status %d: %s", resp.StatusCode, string(body)),
			IsError: true,
		}, nil
	}

	var parsed goopenai.ChatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return &Result{Title: "perplexity_ask", Output: "no answer returned", IsError: true}, nil
	}

	answer := parsed.Choices[0].Message.Content
	var citations []string
	if raw, ok := extractCitations(body); ok {
		citations = raw
	}
	if len(citations) > 0 {
		answer += "\n\nSources:\n"
		for i, c := range citations {
			answer += fmt.Sprintf("  [%d] %s\n", i+1, c)
		}
	}

	return &Result{
		Title:  "perplexity_ask: " + params.Question,
		Output: answer,
		Metadata: map[string]any{
			"model":     parsed.Model,
			"citations": citations,
		},
	}, nil
}

// extractCitations pulls Perplexity's non-standard top-level "citations"
// array out of the raw response body (not part of goopenai's schema).
func extractCitations(body []byte) ([]string, bool) {
	var wrapper struct {
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, false
	}
	return wrapper.Citations, len(wrapper.Citations) > 0
}
