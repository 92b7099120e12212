package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/opencode-ai/core/pkg/types"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig configures one Anthropic (or Bedrock/Vertex
// invoke-compatible) endpoint.
type AnthropicConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// AnthropicProvider implements Provider over Anthropic's Messages SSE
// streaming wire protocol (message_start/content_block_*/message_delta/
// message_stop), hand-decoded so the per-block accumulation stays under
// this adapter's control rather than a client library's.
type AnthropicProvider struct {
	cfg    AnthropicConfig
	client *http.Client
	models []types.Model
}

func NewAnthropicProvider(cfg *AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0} // streaming: no global request timeout
	}
	return &AnthropicProvider{cfg: *cfg, client: client, models: defaultAnthropicModels()}, nil
}

func (p *AnthropicProvider) ID() string            { return p.cfg.ID }
func (p *AnthropicProvider) Name() string          { return "Anthropic" }
func (p *AnthropicProvider) Models() []types.Model { return p.models }

// wire request/response shapes — Anthropic's documented, stable SSE
// format, decoded locally rather than via the official SDK's streaming
// client.
type anthropicReqMessage struct {
	Role    string              `json:"role"`
	Content []anthropicReqBlock `json:"content"`
}

type anthropicReqBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text,omitempty"`
	Source       *anthropicImage        `json:"source,omitempty"`
	ID           string                 `json:"id,omitempty"`
	Name         string                 `json:"name,omitempty"`
	Input        json.RawMessage        `json:"input,omitempty"`
	ToolUseID    string                 `json:"tool_use_id,omitempty"`
	Content      string                 `json:"content,omitempty"`
	IsError      bool                   `json:"is_error,omitempty"`
	Signature    string                 `json:"signature,omitempty"`
	Data         string                 `json:"data,omitempty"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicRequest struct {
	Model         string                `json:"model"`
	MaxTokens     int                   `json:"max_tokens"`
	System        []anthropicReqBlock   `json:"system,omitempty"`
	Messages      []anthropicReqMessage `json:"messages"`
	Tools         []anthropicTool       `json:"tools,omitempty"`
	Stream        bool                  `json:"stream"`
	StopSequences []string              `json:"stop_sequences,omitempty"`
	Temperature   *float64              `json:"temperature,omitempty"`
	TopP          *float64              `json:"top_p,omitempty"`
}

// event payloads
type anthropicEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	Message      json.RawMessage `json:"message"`
	ContentBlock json.RawMessage `json:"content_block"`
	Delta        json.RawMessage `json:"delta"`
	Usage        json.RawMessage `json:"usage"`
	Error        json.RawMessage `json:"error"`
}

type anthropicContentBlockStart struct {
	Type string `json:"type"` // "text" | "thinking" | "redacted_thinking" | "tool_use"
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Data string `json:"data,omitempty"` // redacted_thinking opaque payload
}

type anthropicDelta struct {
	Type        string `json:"type"` // "text_delta" | "thinking_delta" | "signature_delta" | "input_json_delta"
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

func (p *AnthropicProvider) buildRequest(req LLMRequest) anthropicRequest {
	out := anthropicRequest{
		Model:         firstNonEmpty(p.cfg.Model, "claude-sonnet-4-20250514"),
		MaxTokens:     intOr(req.MaxTokens, 8192),
		Stream:        true,
		StopSequences: req.StopSequences,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
	}
	if req.SystemPrompt != "" {
		out.System = []anthropicReqBlock{{
			Type: "text", Text: req.SystemPrompt,
			CacheControl: &anthropicCacheControl{Type: "ephemeral"},
		}}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	if n := len(out.Tools); n > 0 {
		// cache breakpoint after the tool catalog, paired with the one on
		// the system block above
		out.Tools[n-1].CacheControl = &anthropicCacheControl{Type: "ephemeral"}
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, convertMessageToAnthropic(m))
	}
	return out
}

func convertMessageToAnthropic(m *types.Message) anthropicReqMessage {
	out := anthropicReqMessage{Role: m.Role}
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "text", Text: v.Text})
		case *types.ThinkingBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "thinking", Text: v.Text, Signature: v.Signature})
		case *types.RedactedThinkingBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "redacted_thinking", Data: v.EncryptedBlob, ID: v.ID})
		case *types.ImageBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "image", Source: &anthropicImage{Type: "base64", MediaType: v.MediaType, Data: v.Base64Data}})
		case *types.ToolUseBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.InputJSON})
		case *types.ToolResultBlock:
			out.Content = append(out.Content, anthropicReqBlock{Type: "tool_result", ToolUseID: v.ToolUseID, Content: v.ContentText, IsError: v.IsError})
		}
	}
	return out
}

// anthropicAccum tracks one in-flight content block by index.
type anthropicAccum struct {
	kind      string
	text      string
	signature string
	id        string
	name      string
	jsonBuf   bytes.Buffer
}

func (p *AnthropicProvider) SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Detail: "marshal request", Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "build request", Wrapped: err}
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "do request", Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 529 {
		return nil, rateLimitError(resp)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindAuth, Detail: "unauthorized"}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransport, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
	}

	blocks := map[int]*anthropicAccum{}
	var order []int
	var usage anthropicUsage
	finishReason := "end_turn"
	var cancelled bool

	err = scanSSE(resp.Body, func(f sseFrame) bool {
		if f.Data == "" {
			return true
		}
		var ev anthropicEvent
		if jsonErr := json.Unmarshal([]byte(f.Data), &ev); jsonErr != nil {
			return true
		}
		switch ev.Type {
		case "message_start":
			var msg struct {
				Usage anthropicUsage `json:"usage"`
			}
			_ = json.Unmarshal(ev.Message, &msg)
			usage = msg.Usage
		case "content_block_start":
			var start anthropicContentBlockStart
			_ = json.Unmarshal(ev.ContentBlock, &start)
			acc := &anthropicAccum{kind: start.Type, id: start.ID, name: start.Name}
			if start.Type == "redacted_thinking" {
				acc.jsonBuf.WriteString(start.Data)
			}
			blocks[ev.Index] = acc
			order = append(order, ev.Index)
			if !cb(nil, FragmentEvent{Kind: "block_start", Index: ev.Index}) {
				cancelled = true
				return false
			}
		case "content_block_delta":
			var d anthropicDelta
			_ = json.Unmarshal(ev.Delta, &d)
			acc := blocks[ev.Index]
			if acc == nil {
				return true
			}
			var fe FragmentEvent
			switch d.Type {
			case "text_delta":
				acc.text += d.Text
				fe = FragmentEvent{Kind: "text_delta", Index: ev.Index, Delta: d.Text}
			case "thinking_delta":
				acc.text += d.Thinking
				fe = FragmentEvent{Kind: "thinking_delta", Index: ev.Index, Delta: d.Thinking}
			case "signature_delta":
				acc.signature += d.Signature
			case "input_json_delta":
				acc.jsonBuf.WriteString(d.PartialJSON)
				fe = FragmentEvent{Kind: "input_json_delta", Index: ev.Index, Delta: d.PartialJSON}
			}
			if fe.Kind != "" && !cb(nil, fe) {
				cancelled = true
				return false
			}
		case "content_block_stop":
			if !cb(nil, FragmentEvent{Kind: "block_stop", Index: ev.Index}) {
				cancelled = true
				return false
			}
		case "message_delta":
			var d anthropicDelta
			_ = json.Unmarshal(ev.Delta, &d)
			var u anthropicUsage
			_ = json.Unmarshal(ev.Usage, &u)
			if u.OutputTokens > 0 {
				usage.OutputTokens = u.OutputTokens
			}
			if d.StopReason != "" {
				finishReason = mapAnthropicStopReason(d.StopReason)
			}
		case "message_stop":
			return false
		case "error":
			return false
		}
		return true
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "stream read", Wrapped: err}
	}

	content := make([]types.ContentBlock, 0, len(order))
	for _, idx := range order {
		acc := blocks[idx]
		switch acc.kind {
		case "text":
			content = append(content, &types.TextBlock{Text: acc.text})
		case "thinking":
			content = append(content, &types.ThinkingBlock{Text: acc.text, Signature: acc.signature})
		case "redacted_thinking":
			content = append(content, &types.RedactedThinkingBlock{ID: acc.id, EncryptedBlob: acc.jsonBuf.String()})
		case "tool_use":
			raw := acc.jsonBuf.Bytes()
			if len(raw) == 0 {
				raw = []byte("{}")
			}
			if !json.Valid(raw) {
				return nil, &Error{Kind: KindParseError, Detail: "tool input json parse failure for " + acc.name}
			}
			content = append(content, &types.ToolUseBlock{ID: acc.id, Name: acc.name, InputJSON: raw})
		}
	}
	content = types.CoalesceText(content)

	if cancelled {
		finishReason = "cancelled"
	}

	return &LLMResponse{
		Content:      content,
		FinishReason: finishReason,
		Usage: Usage{
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadInputTokens,
			CacheWriteTokens: usage.CacheCreationInputTokens,
		},
	}, nil
}

func mapAnthropicStopReason(r string) string {
	switch r {
	case "end_turn", "stop_sequence":
		return "end_turn"
	case "tool_use":
		return "tool_use"
	case "max_tokens":
		return "max_tokens"
	default:
		return r
	}
}

// rateLimitError extracts the requested delay from a 429/overload
// response. retry-after is either an integer second count (Anthropic) or
// a Go-parseable duration like "1s"/"6m0s" (OpenAI's reset headers).
func rateLimitError(resp *http.Response) *Error {
	seconds := 30
	if v := resp.Header.Get("retry-after"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			seconds = n
		} else if d, err := time.ParseDuration(v); err == nil {
			seconds = int(d.Seconds())
		}
	} else if v := resp.Header.Get("x-ratelimit-reset-requests"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			seconds = int(d.Seconds())
		}
	}
	return &Error{Kind: KindRateLimited, Detail: fmt.Sprintf("retry after %ds", seconds), RetryAfterSeconds: seconds}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func intOr(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}

func defaultAnthropicModels() []types.Model {
	return []types.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ProviderID: "anthropic", ContextLength: 200000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ProviderID: "anthropic", ContextLength: 200000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true},
	}
}
