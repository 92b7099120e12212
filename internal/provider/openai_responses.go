package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opencode-ai/core/pkg/types"
)

// OpenAIResponsesConfig configures an OpenAI Responses API endpoint.
type OpenAIResponsesConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// OpenAIResponsesProvider implements Provider over the Responses API's
// typed SSE event stream (`response.output_item.*`, `response.output_text.delta`,
// `response.reasoning_text.delta`, `response.function_call_arguments.delta`).
// Every call runs stateless (store=false); encrypted reasoning content is
// round-tripped opaquely through RedactedThinkingBlock, the same way the
// Anthropic adapter carries redacted_thinking blocks it never interprets.
type OpenAIResponsesProvider struct {
	cfg    OpenAIResponsesConfig
	client *http.Client
	models []types.Model
}

func NewOpenAIResponsesProvider(cfg *OpenAIResponsesConfig) (*OpenAIResponsesProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &OpenAIResponsesProvider{cfg: *cfg, client: client, models: defaultOpenAIResponsesModels()}, nil
}

func (p *OpenAIResponsesProvider) ID() string            { return p.cfg.ID }
func (p *OpenAIResponsesProvider) Name() string          { return "OpenAI Responses" }
func (p *OpenAIResponsesProvider) Models() []types.Model { return p.models }

type respInputContent struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	CallID       string `json:"call_id,omitempty"`
	Output       string `json:"output,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	Name         string `json:"name,omitempty"`
	ID           string `json:"id,omitempty"`
	EncryptedCtx string `json:"encrypted_content,omitempty"`
}

type respInputItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []respInputContent `json:"content,omitempty"`
	// function_call / function_call_output / reasoning fields, flattened
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
	ID        string `json:"id,omitempty"`
}

type respTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIResponsesRequest struct {
	Model           string          `json:"model"`
	Instructions    string          `json:"instructions,omitempty"`
	Input           []respInputItem `json:"input"`
	Tools           []respTool      `json:"tools,omitempty"`
	Stream          bool            `json:"stream"`
	Store           bool            `json:"store"`
	MaxOutputTokens int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`
}

func (p *OpenAIResponsesProvider) buildRequest(req LLMRequest) openAIResponsesRequest {
	out := openAIResponsesRequest{
		Model:           firstNonEmpty(p.cfg.Model, "gpt-4o"),
		Instructions:    req.SystemPrompt,
		Stream:          true,
		Store:           false,
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
		TopP:            req.TopP,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, respTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	for _, m := range req.Messages {
		out.Input = append(out.Input, convertMessageToResponsesInput(m)...)
	}
	return out
}

func convertMessageToResponsesInput(m *types.Message) []respInputItem {
	var out []respInputItem
	if m.Role == "assistant" {
		var contents []respInputContent
		for _, b := range m.Content {
			switch v := b.(type) {
			case *types.TextBlock:
				contents = append(contents, respInputContent{Type: "output_text", Text: v.Text})
			case *types.ToolUseBlock:
				out = append(out, respInputItem{Type: "function_call", CallID: v.ID, Name: v.Name, Arguments: string(v.InputJSON)})
			case *types.RedactedThinkingBlock:
				out = append(out, respInputItem{Type: "reasoning", ID: v.ID, Content: []respInputContent{{Type: "reasoning_text", EncryptedCtx: v.EncryptedBlob}}})
			}
		}
		if len(contents) > 0 {
			out = append([]respInputItem{{Type: "message", Role: "assistant", Content: contents}}, out...)
		}
		return out
	}
	var userContents []respInputContent
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			userContents = append(userContents, respInputContent{Type: "input_text", Text: v.Text})
		case *types.ImageBlock:
			userContents = append(userContents, respInputContent{Type: "input_image", ImageURL: "data:" + v.MediaType + ";base64," + v.Base64Data})
		case *types.ToolResultBlock:
			out = append(out, respInputItem{Type: "function_call_output", CallID: v.ToolUseID, Output: v.ContentText})
		}
	}
	if len(userContents) > 0 {
		out = append([]respInputItem{{Type: "message", Role: "user", Content: userContents}}, out...)
	}
	return out
}

type respEventEnvelope struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
	// deltas
	Delta      string `json:"delta"`
	OutputIdx  int    `json:"output_index"`
	Response   *struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

type respOutputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Content   []struct {
		Type          string `json:"type"`
		Text          string `json:"text,omitempty"`
		EncryptedCtx  string `json:"encrypted_content,omitempty"`
	} `json:"content,omitempty"`
}

func (p *OpenAIResponsesProvider) SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Detail: "marshal request", Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/responses", bytes.NewReader(payload))
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
		return nil, &Error{Kind: KindTransport, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var textBuf, thinkingBuf bytes.Buffer
	var toolUses []*types.ToolUseBlock
	var redacted []*types.RedactedThinkingBlock
	finishReason := "end_turn"
	var inputTokens, outputTokens int
	toolIdx := 0
	var cancelled bool

	err = scanSSE(resp.Body, func(f sseFrame) bool {
		if f.Data == "" {
			return true
		}
		var ev respEventEnvelope
		if jsonErr := json.Unmarshal([]byte(f.Data), &ev); jsonErr != nil {
			return true
		}
		switch ev.Type {
		case "response.output_text.delta":
			textBuf.WriteString(ev.Delta)
			if !cb(nil, FragmentEvent{Kind: "text_delta", Delta: ev.Delta}) {
				cancelled = true
				return false
			}
		case "response.reasoning_text.delta":
			thinkingBuf.WriteString(ev.Delta)
			if !cb(nil, FragmentEvent{Kind: "thinking_delta", Delta: ev.Delta}) {
				cancelled = true
				return false
			}
		case "response.function_call_arguments.delta":
			if !cb(nil, FragmentEvent{Kind: "input_json_delta", Index: ev.OutputIdx, Delta: ev.Delta}) {
				cancelled = true
				return false
			}
		case "response.output_item.done":
			var item respOutputItem
			if jsonErr := json.Unmarshal(ev.Item, &item); jsonErr != nil {
				return true
			}
			switch item.Type {
			case "function_call":
				id := item.CallID
				if id == "" {
					id = fmt.Sprintf("tool-%s-%d", req.RequestID, toolIdx+1)
				}
				toolIdx++
				args := json.RawMessage(item.Arguments)
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				toolUses = append(toolUses, &types.ToolUseBlock{ID: id, Name: item.Name, InputJSON: args})
				finishReason = "tool_use"
			case "reasoning":
				for _, c := range item.Content {
					if c.EncryptedCtx != "" {
						redacted = append(redacted, &types.RedactedThinkingBlock{ID: item.ID, EncryptedBlob: c.EncryptedCtx})
					}
				}
			}
			if !cb(nil, FragmentEvent{Kind: "block_stop"}) {
				cancelled = true
				return false
			}
		case "response.completed", "response.incomplete":
			if ev.Response != nil && ev.Response.Usage != nil {
				inputTokens = ev.Response.Usage.InputTokens
				outputTokens = ev.Response.Usage.OutputTokens
			}
			if ev.Type == "response.incomplete" && finishReason != "tool_use" {
				finishReason = "max_tokens"
			}
			return false
		case "error":
			return false
		}
		return true
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "stream read", Wrapped: err}
	}

	var content []types.ContentBlock
	for _, r := range redacted {
		content = append(content, r)
	}
	if thinkingBuf.Len() > 0 {
		content = append(content, &types.ThinkingBlock{Text: thinkingBuf.String()})
	}
	if textBuf.Len() > 0 {
		content = append(content, &types.TextBlock{Text: textBuf.String()})
	}
	for _, tu := range toolUses {
		content = append(content, tu)
	}
	if cancelled {
		finishReason = "cancelled"
	}

	return &LLMResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage:        Usage{InputTokens: inputTokens, OutputTokens: outputTokens},
	}, nil
}

func defaultOpenAIResponsesModels() []types.Model {
	return []types.Model{
		{ID: "gpt-5", Name: "GPT-5", ProviderID: "openai-responses", ContextLength: 400000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true},
		{ID: "o3", Name: "o3", ProviderID: "openai-responses", ContextLength: 200000, SupportsTools: true, SupportsReasoning: true},
	}
}
