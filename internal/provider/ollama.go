package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opencode-ai/core/pkg/types"
)

// OllamaConfig configures a local or remote Ollama daemon.
type OllamaConfig struct {
	ID        string
	BaseURL   string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// OllamaProvider implements Provider over Ollama's NDJSON chat streaming
// protocol (`/api/chat`, one JSON object per line, no SSE framing). Ollama
// has no native tool-call id concept, so ids are synthesized locally from
// RequestID + index, same as the Gemini adapter.
type OllamaProvider struct {
	cfg    OllamaConfig
	client *http.Client
	models []types.Model
}

func NewOllamaProvider(cfg *OllamaConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &OllamaProvider{cfg: *cfg, client: client, models: defaultOllamaModels()}, nil
}

func (p *OllamaProvider) ID() string            { return p.cfg.ID }
func (p *OllamaProvider) Name() string          { return "Ollama" }
func (p *OllamaProvider) Models() []types.Model { return p.models }

type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChunk struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	PromptEval int           `json:"prompt_eval_count"`
	EvalCount  int           `json:"eval_count"`
}

func (p *OllamaProvider) buildRequest(req LLMRequest) ollamaRequest {
	out := ollamaRequest{
		Model:  firstNonEmpty(p.cfg.Model, "llama3.1"),
		Stream: true,
		Options: &ollamaOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.StopSequences,
		},
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, convertMessageToOllama(m)...)
	}
	for _, t := range req.Tools {
		ot := ollamaTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ot)
	}
	return out
}

func convertMessageToOllama(m *types.Message) []ollamaMessage {
	var out []ollamaMessage
	if m.Role == "assistant" {
		msg := ollamaMessage{Role: "assistant"}
		for _, b := range m.Content {
			switch v := b.(type) {
			case *types.TextBlock:
				msg.Content += v.Text
			case *types.ToolUseBlock:
				tc := ollamaToolCall{}
				tc.Function.Name = v.Name
				tc.Function.Arguments = v.InputJSON
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
		}
		out = append(out, msg)
		return out
	}
	userMsg := ollamaMessage{Role: "user"}
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			userMsg.Content += v.Text
		case *types.ToolResultBlock:
			out = append(out, ollamaMessage{Role: "tool", Content: v.ContentText})
		}
	}
	if userMsg.Content != "" {
		out = append([]ollamaMessage{userMsg}, out...)
	}
	return out
}

func (p *OllamaProvider) SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Detail: "marshal request", Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "build request", Wrapped: err}
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "do request", Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &Error{Kind: KindTransport, Detail: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var textBuf bytes.Buffer
	var toolUses []*types.ToolUseBlock
	finishReason := "end_turn"
	var inputTokens, outputTokens int
	toolIdx := 0
	var cancelled bool

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChunk
		if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
			continue
		}
		if chunk.Message.Content != "" {
			textBuf.WriteString(chunk.Message.Content)
			if !cb(nil, FragmentEvent{Kind: "text_delta", Delta: chunk.Message.Content}) {
				cancelled = true
				break
			}
		}
		for _, tc := range chunk.Message.ToolCalls {
			id := fmt.Sprintf("tool-%s-%d", req.RequestID, toolIdx+1)
			toolIdx++
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolUses = append(toolUses, &types.ToolUseBlock{ID: id, Name: tc.Function.Name, InputJSON: args})
			finishReason = "tool_use"
			if !cb(nil, FragmentEvent{Kind: "block_start"}) {
				cancelled = true
				break
			}
		}
		if chunk.Done {
			inputTokens = chunk.PromptEval
			outputTokens = chunk.EvalCount
			if finishReason != "tool_use" {
				finishReason = mapOllamaDoneReason(chunk.DoneReason)
			}
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "stream read", Wrapped: err}
	}

	var content []types.ContentBlock
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

func mapOllamaDoneReason(r string) string {
	switch r {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return "end_turn"
	}
}

func defaultOllamaModels() []types.Model {
	return []types.Model{
		{ID: "llama3.1", Name: "Llama 3.1", ProviderID: "ollama", ContextLength: 128000, SupportsTools: true},
		{ID: "qwen2.5-coder", Name: "Qwen2.5 Coder", ProviderID: "ollama", ContextLength: 32000, SupportsTools: true},
	}
}
