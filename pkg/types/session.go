// Package types provides the core data types for the opencode-core runtime.
package types

import "encoding/json"

// Activity is a session's coarse-grained state machine.
type Activity string

const (
	ActivityIdle               Activity = "idle"
	ActivityWaitingForResponse Activity = "waiting_for_response"
	ActivityToolExecuting      Activity = "tool_executing"
	ActivityCancelling         Activity = "cancelling"
)

// Session represents a conversation session with the LLM: a rooted
// message tree with a designated active leaf, plus the working memory
// and queued input needed to resume or continue it.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectID"`
	Directory string `json:"directory"`
	Title     string `json:"title"`
	Version   string `json:"version"`

	// RootMessageID is empty until the first message is appended.
	RootMessageID string `json:"rootMessageID,omitempty"`
	// ActiveLeafID is the active-path leaf; its ancestor chain up to
	// RootMessageID is the active conversation.
	ActiveLeafID string `json:"activeLeafID,omitempty"`

	WorkingMemory WorkingMemory `json:"workingMemory"`
	LLMConfig     *LLMConfig    `json:"llmConfig,omitempty"`

	PendingQueue []PendingUserMessage `json:"pendingQueue,omitempty"`
	Activity     Activity             `json:"activity"`

	Summary SessionSummary `json:"summary"`
	Share   *SessionShare  `json:"share,omitempty"`
	Time    SessionTime    `json:"time"`
	Revert  *SessionRevert `json:"revert,omitempty"`
}

// WorkingMemory decorates the system prompt: known projects, their
// loaded file trees, and the initial project path.
type WorkingMemory struct {
	Projects       []string            `json:"projects,omitempty"`
	InitialProject string              `json:"initialProject,omitempty"`
	FileTrees      map[string][]string `json:"fileTrees,omitempty"`
}

// LLMConfig is a session's optional pinned provider/model configuration.
type LLMConfig struct {
	ProviderID    string `json:"providerID"`
	ModelID       string `json:"modelID"`
	ContextWindow int    `json:"contextWindow,omitempty"`
	RecordPath    string `json:"recordPath,omitempty"`
	PlaybackPath  string `json:"playbackPath,omitempty"`
}

// PendingUserMessage is a queued, not-yet-consumed user turn.
type PendingUserMessage struct {
	Content     []ContentBlock `json:"-"`
	Attachments []string       `json:"attachments,omitempty"`
}

// pendingUserMessageWire is PendingUserMessage's on-disk shape; Content
// needs tagged-union marshaling the same way Message.Content does.
type pendingUserMessageWire struct {
	Content     []json.RawMessage `json:"content"`
	Attachments []string          `json:"attachments,omitempty"`
}

// MarshalJSON encodes the tagged ContentBlock union alongside Attachments.
func (p PendingUserMessage) MarshalJSON() ([]byte, error) {
	wire := pendingUserMessageWire{Attachments: p.Attachments}
	wire.Content = make([]json.RawMessage, 0, len(p.Content))
	for _, b := range p.Content {
		raw, err := MarshalContentBlock(b)
		if err != nil {
			return nil, err
		}
		wire.Content = append(wire.Content, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON recovers a PendingUserMessage and its ContentBlock union from JSON.
func (p *PendingUserMessage) UnmarshalJSON(data []byte) error {
	var wire pendingUserMessageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	p.Attachments = wire.Attachments
	p.Content = make([]ContentBlock, 0, len(wire.Content))
	for _, raw := range wire.Content {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return err
		}
		p.Content = append(p.Content, b)
	}
	return nil
}

// ToolExecutionLog is one append-only record of a completed tool call,
// keyed by tool-call id. Entries are never mutated once written.
type ToolExecutionLog struct {
	ToolUseID  string `json:"toolUseID"`
	ToolName   string `json:"toolName"`
	InputJSON  string `json:"inputJSON"`
	OutputJSON string `json:"outputJSON"`
	Success    bool   `json:"success"`
	StartedAt  int64  `json:"startedAt"`
	FinishedAt int64  `json:"finishedAt"`
}

// SessionSummary contains statistics about code changes in a session.
type SessionSummary struct {
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Files     int        `json:"files"`
	Diffs     []FileDiff `json:"diffs,omitempty"`
}

// FileDiff represents a diff for a single file.
type FileDiff struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

// SessionTime contains timestamps for a session. Updated is
// monotonically non-decreasing and equal to the time of the last mutation.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}

// SessionShare contains sharing information for a session.
type SessionShare struct {
	URL string `json:"url"`
}

// SessionRevert contains information about session revert state.
type SessionRevert struct {
	MessageID string  `json:"messageID"`
	Snapshot  *string `json:"snapshot,omitempty"`
	Diff      *string `json:"diff,omitempty"`
}

// Metadata is the listing-only projection returned by list_sessions.
type Metadata struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Created      int64  `json:"created"`
	Updated      int64  `json:"updated"`
	MessageCount int    `json:"messageCount"`
}
