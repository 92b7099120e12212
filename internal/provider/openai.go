package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/opencode-ai/core/pkg/types"
)

// OpenAIConfig configures an OpenAI Chat Completions-compatible endpoint.
type OpenAIConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// OpenAIProvider implements Provider over the Chat Completions SSE
// protocol. It reuses go-openai's request/response struct definitions as
// wire schema but performs its own SSE read and tool-call-argument
// accumulation instead of using go-openai's bundled stream client, so it
// keeps per-chunk control.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	models []types.Model
}

func NewOpenAIProvider(cfg *OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &OpenAIProvider{cfg: *cfg, client: client, models: defaultOpenAIModels()}, nil
}

func (p *OpenAIProvider) ID() string            { return p.cfg.ID }
func (p *OpenAIProvider) Name() string          { return "OpenAI" }
func (p *OpenAIProvider) Models() []types.Model { return p.models }

func (p *OpenAIProvider) buildRequest(req LLMRequest) goopenai.ChatCompletionRequest {
	out := goopenai.ChatCompletionRequest{
		Model:  firstNonEmpty(p.cfg.Model, "gpt-4o"),
		Stream: true,
		Stop:   req.StopSequences,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		out.Temperature = &t
	}
	if req.TopP != nil {
		out.TopP = float32(*req.TopP)
	}

	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, convertMessageToOpenAI(m)...)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}
	return out
}

func convertMessageToOpenAI(m *types.Message) []goopenai.ChatCompletionMessage {
	var out []goopenai.ChatCompletionMessage
	if m.Role == "assistant" {
		msg := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant}
		for _, b := range m.Content {
			switch v := b.(type) {
			case *types.TextBlock:
				msg.Content += v.Text
			case *types.ToolUseBlock:
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   v.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      v.Name,
						Arguments: string(v.InputJSON),
					},
				})
			}
		}
		out = append(out, msg)
		return out
	}
	// user message: text/image parts become one "user" message, tool
	// results become one "tool" message per result (role="tool").
	userMsg := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			userMsg.Content += v.Text
		case *types.ToolResultBlock:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    v.ContentText,
				ToolCallID: v.ToolUseID,
			})
		}
	}
	if userMsg.Content != "" {
		out = append([]goopenai.ChatCompletionMessage{userMsg}, out...)
	}
	return out
}

type openaiToolAccum struct {
	id   string
	name string
	args bytes.Buffer
}

func (p *OpenAIProvider) SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Detail: "marshal request", Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "build request", Wrapped: err}
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "do request", Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitError(resp)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &Error{Kind: KindAuth, Detail: "unauthorized"}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransport, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
	}

	var textBuf bytes.Buffer
	toolsByIndex := map[int]*openaiToolAccum{}
	var toolOrder []int
	finishReason := "end_turn"
	var usage goopenai.Usage
	var cancelled bool

	err = scanSSE(resp.Body, func(f sseFrame) bool {
		if f.Data == "" || f.Data == "[DONE]" {
			return f.Data != "[DONE]"
		}
		var chunk goopenai.ChatCompletionStreamResponse
		if jsonErr := json.Unmarshal([]byte(f.Data), &chunk); jsonErr != nil {
			return true
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			return true
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			textBuf.WriteString(choice.Delta.Content)
			if !cb(nil, FragmentEvent{Kind: "text_delta", Delta: choice.Delta.Content}) {
				cancelled = true
				return false
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := toolsByIndex[idx]
			if !ok {
				acc = &openaiToolAccum{}
				toolsByIndex[idx] = acc
				toolOrder = append(toolOrder, idx)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.args.WriteString(tc.Function.Arguments)
				if !cb(nil, FragmentEvent{Kind: "input_json_delta", Index: idx, Delta: tc.Function.Arguments}) {
					cancelled = true
					return false
				}
			}
		}
		if choice.FinishReason != "" {
			finishReason = mapOpenAIFinishReason(string(choice.FinishReason))
		}
		return true
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "stream read", Wrapped: err}
	}

	var content []types.ContentBlock
	if textBuf.Len() > 0 {
		content = append(content, &types.TextBlock{Text: textBuf.String()})
	}
	for _, idx := range toolOrder {
		acc := toolsByIndex[idx]
		raw := acc.args.Bytes()
		if len(raw) == 0 {
			raw = []byte("{}")
		}
		if !json.Valid(raw) {
			return nil, &Error{Kind: KindParseError, Detail: "tool input json parse failure for " + acc.name}
		}
		id := acc.id
		if id == "" {
			id = fmt.Sprintf("tool-%s-%d", req.RequestID, idx+1)
		}
		content = append(content, &types.ToolUseBlock{ID: id, Name: acc.name, InputJSON: raw})
	}
	if cancelled {
		finishReason = "cancelled"
	}

	return &LLMResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage: Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}, nil
}

func mapOpenAIFinishReason(r string) string {
	switch r {
	case "stop":
		return "end_turn"
	case "tool_calls", "function_call":
		return "tool_use"
	case "length":
		return "max_tokens"
	default:
		return r
	}
}

func defaultOpenAIModels() []types.Model {
	return []types.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ProviderID: "openai", ContextLength: 128000, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ProviderID: "openai", ContextLength: 128000, SupportsTools: true, SupportsVision: true},
	}
}
