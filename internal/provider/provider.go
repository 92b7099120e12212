// Package provider implements the LLM provider contract: one async
// SendMessage entry point per wire protocol, each adapter producing the
// same canonical ContentBlock stream regardless of the underlying
// transport.
package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/core/pkg/types"
)

// Kind classifies a provider failure as recoverable or terminal.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindRateLimited Kind = "provider_rate_limited"
	KindOverloaded  Kind = "provider_overloaded"
	KindAuth        Kind = "provider_auth"
	KindParseError  Kind = "parse_error"
)

// Error is the taxonomy-tagged error every adapter returns for a failed
// call. Adapters do not retry; the runner's backoff loop consults
// IsRetryable.
type Error struct {
	Kind    Kind
	Detail  string
	Wrapped error

	// RetryAfterSeconds is the wait a rate-limited response asked for
	// (retry-after or reset headers); zero when the response named none.
	RetryAfterSeconds int
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// IsRetryable reports whether the runner's backoff loop should retry.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindTransport, KindRateLimited, KindOverloaded:
		return true
	default:
		return false
	}
}

// ToolInfo is the provider-facing projection of a registered tool.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// RateLimitInfo carries the delay a 429/overload response asked for.
type RateLimitInfo struct {
	SecondsRemaining int
}

// Usage is accumulated token usage for one completion.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	ReasoningTokens  int
	CacheReadTokens  int
	CacheWriteTokens int
}

// LLMRequest is the provider-agnostic request shape built by the agent
// runner for one provider call.
type LLMRequest struct {
	SystemPrompt  string
	Messages      []*types.Message
	Tools         []ToolInfo
	StopSequences []string
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	RequestID     string
	SessionID     string
}

// LLMResponse is what every adapter settles to once a stream (or
// non-streaming call) completes.
type LLMResponse struct {
	Content       []types.ContentBlock
	Usage         Usage
	FinishReason  string // "end_turn" | "tool_use" | "max_tokens" | "cancelled", or a provider's own unmapped reason
	RateLimitInfo *RateLimitInfo
}

// FragmentEvent narrates progress on the ContentBlock currently being
// accumulated, letting internal/streamproc render incremental fragments
// without the adapter knowing about DisplayFragment itself.
type FragmentEvent struct {
	Kind  string // "block_start" | "text_delta" | "thinking_delta" | "input_json_delta" | "block_stop"
	Index int
	Delta string
}

// StreamCallback receives fragments as the adapter decodes them.
// Returning false asks the adapter to stop reading the response body: a
// cooperative cancel, not a transport failure.
type StreamCallback func(block types.ContentBlock, ev FragmentEvent) bool

// Provider is the contract every wire-protocol adapter implements.
type Provider interface {
	ID() string
	Name() string
	Models() []types.Model
	SendMessage(ctx context.Context, req LLMRequest, cb StreamCallback) (*LLMResponse, error)
}
