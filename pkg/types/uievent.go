package types

// UiEvent is the contract the core emits toward any front-end (GUI, TUI,
// external IDE). Front-ends replay a session's UiEvent history to
// reconstruct visible state without a separate state-dump protocol
// without a separate state-dump protocol.
type UiEvent struct {
	Kind UiEventKind `json:"kind"`

	SessionID string `json:"sessionID,omitempty"`
	RequestID string `json:"requestID,omitempty"`

	// DisplayUserInput
	UserMessage *Message `json:"userMessage,omitempty"`

	// Fragment
	Fragment *DisplayFragment `json:"fragment,omitempty"`

	// StreamingStopped
	Cancelled bool `json:"cancelled,omitempty"`

	// UpdateToolStatus
	ToolID     string `json:"toolID,omitempty"`
	ToolStatus string `json:"toolStatus,omitempty"` // "running"|"success"|"error"
	Message    string `json:"message,omitempty"`

	// UpdateMemory
	Memory *WorkingMemory `json:"memory,omitempty"`

	// ActivityStateChanged
	Activity Activity `json:"activity,omitempty"`

	// RateLimitNotified
	SecondsRemaining int `json:"secondsRemaining,omitempty"`

	// SwitchBranch
	NewNodeID string `json:"newNodeID,omitempty"`
}

// UiEventKind discriminates UiEvent variants.
type UiEventKind string

const (
	UiEventDisplayUserInput    UiEventKind = "display_user_input"
	UiEventStreamingStarted    UiEventKind = "streaming_started"
	UiEventFragment            UiEventKind = "fragment"
	UiEventStreamingStopped    UiEventKind = "streaming_stopped"
	UiEventUpdateToolStatus    UiEventKind = "update_tool_status"
	UiEventUpdateMemory        UiEventKind = "update_memory"
	UiEventActivityChanged     UiEventKind = "activity_state_changed"
	UiEventRateLimitNotified   UiEventKind = "rate_limit_notified"
	UiEventRateLimitCleared    UiEventKind = "rate_limit_cleared"
	UiEventSwitchBranch        UiEventKind = "switch_branch"
)

// UserInterface is the capability surface the core requires of every
// front-end. A front-end implementation lives outside this module; only
// the contract is defined here.
type UserInterface interface {
	// SendEvent delivers a UiEvent asynchronously; backpressure is the
	// front-end's concern (a bounded channel, typically).
	SendEvent(event UiEvent) error

	// DisplayFragment is the synchronous fast path used by the stream
	// processor: no backpressure, no error return.
	DisplayFragment(fragment DisplayFragment)

	// ShouldStreamingContinue is polled by the provider's streaming loop
	// as a cancellation hint.
	ShouldStreamingContinue() bool

	NotifyRateLimit(secondsRemaining int)
	ClearRateLimit()
}
