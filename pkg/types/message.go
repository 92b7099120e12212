package types

import "encoding/json"

// Message is a node in a session's message tree. Role "user" messages
// carry Text/Image/ToolResult blocks; "assistant" messages carry
// Text/Thinking/RedactedThinking/ToolUse blocks.
type Message struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	ParentID  *string  `json:"parentID,omitempty"`
	ChildIDs  []string `json:"childIDs,omitempty"` // sibling branches, in creation order
	Role      string   `json:"role"`               // "user" | "assistant"

	Content []ContentBlock `json:"-"`

	// RequestID seeds deterministic tool-call id synthesis
	// ("tool-" + RequestID + "-" + (index+1)) for assistant messages.
	RequestID *string     `json:"requestID,omitempty"`
	Usage     *TokenUsage `json:"usage,omitempty"`

	Time  MessageTime   `json:"time"`
	Error *MessageError `json:"error,omitempty"`

	ProviderID string `json:"providerID,omitempty"`
	ModelID    string `json:"modelID,omitempty"`
	Finish     *string `json:"finish,omitempty"`

	// IsSummary marks an assistant message as a compaction summary: when
	// building a provider request, the active path is truncated to start
	// at the most recent IsSummary message instead of the session root
	// (ambient context-window management, not part of the persisted tree
	// shape itself).
	IsSummary bool `json:"isSummary,omitempty"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents a terminal error recorded against a message.
// Type is one of the error kinds that can end a turn:
// "transport" | "provider_rate_limited" | "provider_overloaded" |
// "provider_auth" | "parse_error" | "persistence" | "cancelled" |
// "output_length" | "agent_crashed".
type MessageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// messageWire is Message's on-disk shape: ContentBlock is an interface
// so it needs its own tagged-union marshaling via content.go helpers.
type messageWire struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"sessionID"`
	ParentID   *string           `json:"parentID,omitempty"`
	ChildIDs   []string          `json:"childIDs,omitempty"`
	Role       string            `json:"role"`
	Content    []json.RawMessage `json:"content"`
	RequestID  *string           `json:"requestID,omitempty"`
	Usage      *TokenUsage       `json:"usage,omitempty"`
	Time       MessageTime       `json:"time"`
	Error      *MessageError     `json:"error,omitempty"`
	ProviderID string            `json:"providerID,omitempty"`
	ModelID    string            `json:"modelID,omitempty"`
	Finish     *string           `json:"finish,omitempty"`
	IsSummary  bool              `json:"isSummary,omitempty"`
}

// MarshalJSON encodes the tagged ContentBlock union alongside the rest
// of the message's fields.
func (m *Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		ID: m.ID, SessionID: m.SessionID, ParentID: m.ParentID, ChildIDs: m.ChildIDs,
		Role: m.Role, RequestID: m.RequestID, Usage: m.Usage, Time: m.Time,
		Error: m.Error, ProviderID: m.ProviderID, ModelID: m.ModelID, Finish: m.Finish,
		IsSummary: m.IsSummary,
	}
	wire.Content = make([]json.RawMessage, 0, len(m.Content))
	for _, b := range m.Content {
		raw, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON recovers a Message and its ContentBlock union from JSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.ID, m.SessionID, m.ParentID, m.ChildIDs = wire.ID, wire.SessionID, wire.ParentID, wire.ChildIDs
	m.Role, m.RequestID, m.Usage, m.Time = wire.Role, wire.RequestID, wire.Usage, wire.Time
	m.Error, m.ProviderID, m.ModelID, m.Finish = wire.Error, wire.ProviderID, wire.ModelID, wire.Finish
	m.IsSummary = wire.IsSummary
	m.Content = make([]ContentBlock, 0, len(wire.Content))
	for _, raw := range wire.Content {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		m.Content = append(m.Content, b)
	}
	return nil
}

// ToolUses returns the ToolUseBlocks present in the message, in order.
func (m *Message) ToolUses() []*ToolUseBlock {
	var out []*ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(*ToolUseBlock); ok {
			out = append(out, tu)
		}
	}
	return out
}

// ToolResults returns the ToolResultBlocks present in the message, in order.
func (m *Message) ToolResults() []*ToolResultBlock {
	var out []*ToolResultBlock
	for _, b := range m.Content {
		if tr, ok := b.(*ToolResultBlock); ok {
			out = append(out, tr)
		}
	}
	return out
}

// Text concatenates every TextBlock in the message.
func (m *Message) Text() string {
	var s string
	for _, b := range m.Content {
		if tb, ok := b.(*TextBlock); ok {
			s += tb.Text
		}
	}
	return s
}
