package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opencode-ai/core/pkg/types"
)

// GeminiConfig configures a Gemini (Generative Language API) or Vertex AI
// endpoint.
type GeminiConfig struct {
	ID        string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Client    *http.Client
}

// GeminiProvider implements Provider over Gemini/Vertex's
// streamGenerateContent SSE protocol. Function-result messages reference
// the function *name*, not an id; tool-use ids are synthesized locally
// as "tool-" + RequestID + "-" + (index+1), the form the OpenAI adapter
// falls back to when a chunk carries no id.
type GeminiProvider struct {
	cfg    GeminiConfig
	client *http.Client
	models []types.Model
}

func NewGeminiProvider(cfg *GeminiConfig) (*GeminiProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 0}
	}
	return &GeminiProvider{cfg: *cfg, client: client, models: defaultGeminiModels()}, nil
}

func (p *GeminiProvider) ID() string            { return p.cfg.ID }
func (p *GeminiProvider) Name() string          { return "Gemini" }
func (p *GeminiProvider) Models() []types.Model { return p.models }

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	Thought      bool                `json:"thought,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResp *geminiFunctionResp `json:"functionResponse,omitempty"`
	InlineData   *geminiInlineData   `json:"inlineData,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTool    `json:"tools,omitempty"`
	GenerationConfig  *geminiGenCfg   `json:"generationConfig,omitempty"`
}

type geminiGenCfg struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *geminiUsageMeta `json:"usageMetadata"`
}

func (p *GeminiProvider) buildRequest(req LLMRequest) geminiRequest {
	out := geminiRequest{GenerationConfig: &geminiGenCfg{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   req.StopSequences,
	}}
	if req.SystemPrompt != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDecl{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	names := map[string]string{}
	for _, m := range req.Messages {
		for _, b := range m.Content {
			if tu, ok := b.(*types.ToolUseBlock); ok {
				names[tu.ID] = tu.Name
			}
		}
		c := convertMessageToGemini(m)
		for _, part := range c.Parts {
			if fr := part.FunctionResp; fr != nil && names[fr.Name] != "" {
				fr.Name = names[fr.Name]
			}
		}
		out.Contents = append(out.Contents, c)
	}
	return out
}

func convertMessageToGemini(m *types.Message) geminiContent {
	role := "user"
	if m.Role == "assistant" {
		role = "model"
	}
	c := geminiContent{Role: role}
	for _, b := range m.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			c.Parts = append(c.Parts, geminiPart{Text: v.Text})
		case *types.ThinkingBlock:
			c.Parts = append(c.Parts, geminiPart{Text: v.Text, Thought: true})
		case *types.ImageBlock:
			c.Parts = append(c.Parts, geminiPart{InlineData: &geminiInlineData{MimeType: v.MediaType, Data: v.Base64Data}})
		case *types.ToolUseBlock:
			c.Parts = append(c.Parts, geminiPart{FunctionCall: &geminiFunctionCall{Name: v.Name, Args: v.InputJSON}})
		case *types.ToolResultBlock:
			c.Parts = append(c.Parts, geminiPart{FunctionResp: &geminiFunctionResp{
				Name:     v.ToolUseID, // buildRequest replaces this with the name of the function call it answers
				Response: json.RawMessage(fmt.Sprintf(`{"result":%q}`, v.ContentText)),
			}})
		}
	}
	return c
}

func (p *GeminiProvider) SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error) {
	body := p.buildRequest(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindParseError, Detail: "marshal request", Wrapped: err}
	}

	model := firstNonEmpty(p.cfg.Model, "gemini-2.0-flash")
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", p.cfg.BaseURL, model, p.cfg.APIKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "build request", Wrapped: err}
	}
	httpReq.Header.Set("content-type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "do request", Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimitError(resp)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindAuth, Detail: "unauthorized"}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, &Error{Kind: KindTransport, Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
	}

	var textBuf, thinkingBuf bytes.Buffer
	var toolUses []*types.ToolUseBlock
	finishReason := "end_turn"
	var usage geminiUsageMeta
	toolIdx := 0
	var cancelled bool

	err = scanSSE(resp.Body, func(f sseFrame) bool {
		if f.Data == "" {
			return true
		}
		var chunk geminiChunk
		if jsonErr := json.Unmarshal([]byte(f.Data), &chunk); jsonErr != nil {
			return true
		}
		if chunk.UsageMetadata != nil {
			usage = *chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			return true
		}
		cand := chunk.Candidates[0]
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				id := fmt.Sprintf("tool-%s-%d", req.RequestID, toolIdx+1)
				toolIdx++
				toolUses = append(toolUses, &types.ToolUseBlock{ID: id, Name: part.FunctionCall.Name, InputJSON: part.FunctionCall.Args})
				finishReason = "tool_use"
				if !cb(nil, FragmentEvent{Kind: "block_start"}) {
					cancelled = true
					return false
				}
			case part.Thought:
				thinkingBuf.WriteString(part.Text)
				if !cb(nil, FragmentEvent{Kind: "thinking_delta", Delta: part.Text}) {
					cancelled = true
					return false
				}
			case part.Text != "":
				textBuf.WriteString(part.Text)
				if !cb(nil, FragmentEvent{Kind: "text_delta", Delta: part.Text}) {
					cancelled = true
					return false
				}
			}
		}
		if cand.FinishReason != "" && finishReason != "tool_use" {
			finishReason = mapGeminiFinishReason(cand.FinishReason)
		}
		return true
	})
	if err != nil {
		return nil, &Error{Kind: KindTransport, Detail: "stream read", Wrapped: err}
	}

	var content []types.ContentBlock
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
		Usage:        Usage{InputTokens: usage.PromptTokenCount, OutputTokens: usage.CandidatesTokenCount},
	}, nil
}

func mapGeminiFinishReason(r string) string {
	switch r {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return r
	}
}

func defaultGeminiModels() []types.Model {
	return []types.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ProviderID: "gemini", ContextLength: 1000000, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ProviderID: "gemini", ContextLength: 2000000, SupportsTools: true, SupportsVision: true, SupportsReasoning: true},
	}
}
