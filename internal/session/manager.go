package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/opencode-ai/core/internal/provider"
	"github.com/opencode-ai/core/internal/storage"
	"github.com/opencode-ai/core/internal/tool"
	"github.com/opencode-ai/core/pkg/types"
)

// entry is a Manager's in-memory handle on one session: the session
// header, a lock guarding mutation of that session only, and the
// cancellation plumbing for whatever turn (if any) is in flight.
type entry struct {
	mu      sync.Mutex
	session *types.Session
	cancel  context.CancelFunc // non-nil while a turn is running
}

// Manager owns every session's state, arbitrates UI attachment, and
// starts/cancels agent turns. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	mu       sync.Mutex // guards sessions + activeSessionID + activeUI only
	sessions map[string]*entry

	storage     *storage.Storage
	providerReg *provider.Registry
	toolReg     *tool.Registry

	defaultProviderID string
	defaultModelID    string

	activeSessionID string
	activeUI        types.UserInterface

	latestSessionID string
}

// NewManager constructs a session Manager. defaultProviderID/ModelID seed
// new sessions' LLMConfig when the caller doesn't pin one explicitly.
func NewManager(store *storage.Storage, providerReg *provider.Registry, toolReg *tool.Registry, defaultProviderID, defaultModelID string) *Manager {
	return &Manager{
		sessions:          make(map[string]*entry),
		storage:           store,
		providerReg:       providerReg,
		toolReg:           toolReg,
		defaultProviderID: defaultProviderID,
		defaultModelID:    defaultModelID,
	}
}

// CreateSession mints a new session id, initializes an empty active
// path, and persists it. directory pins the session's initial project
// path; an empty directory falls back to the "global" project bucket.
func (m *Manager) CreateSession(ctx context.Context, directory, name string) (*types.Session, error) {
	now := nowMillis()
	projectID := "global"
	if directory != "" {
		projectID = types.HashDirectory(directory)
	}
	sess := &types.Session{
		ID:        types.NewID(),
		ProjectID: projectID,
		Directory: directory,
		Title:     name,
		Version:   "1",
		Activity:  types.ActivityIdle,
		Time:      types.SessionTime{Created: now, Updated: now},
	}
	if m.defaultProviderID != "" {
		sess.LLMConfig = &types.LLMConfig{ProviderID: m.defaultProviderID, ModelID: m.defaultModelID}
	}

	if err := m.putSession(ctx, sess); err != nil {
		return nil, &PersistenceError{Op: "create_session", Err: err}
	}

	m.mu.Lock()
	m.sessions[sess.ID] = &entry{session: sess}
	m.latestSessionID = sess.ID
	m.mu.Unlock()

	return sess, nil
}

// LoadSession reads the persisted session into the in-memory table and
// returns its active-path messages, root to leaf.
func (m *Manager) LoadSession(ctx context.Context, id string) ([]*types.Message, error) {
	sess, err := m.getSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.sessions[id] = &entry{session: sess}
	}
	m.latestSessionID = id
	m.mu.Unlock()

	return m.activePath(ctx, sess)
}

// GetSession returns a session's current persisted header (not its
// messages); callers that also need the active-path messages should use
// LoadSession instead.
func (m *Manager) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return m.getSession(ctx, id)
}

// ListSessions returns listing-only metadata for every persisted session.
func (m *Manager) ListSessions(ctx context.Context) ([]types.Metadata, error) {
	ids, err := m.storage.List(ctx, []string{"session"})
	if err != nil {
		return nil, err
	}
	out := make([]types.Metadata, 0, len(ids))
	for _, id := range ids {
		var sess types.Session
		if err := m.storage.Get(ctx, []string{"session", id}, &sess); err != nil {
			continue
		}
		count := 0
		_ = m.storage.Scan(ctx, []string{"message", id}, func(string, json.RawMessage) error {
			count++
			return nil
		})
		out = append(out, types.Metadata{
			ID: sess.ID, Title: sess.Title,
			Created: sess.Time.Created, Updated: sess.Time.Updated,
			MessageCount: count,
		})
	}
	return out, nil
}

// DeleteSession cancels any running agent for the session and removes
// it from memory and persistence.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	m.Cancel(id)

	m.mu.Lock()
	delete(m.sessions, id)
	if m.activeSessionID == id {
		m.activeSessionID = ""
		m.activeUI = nil
	}
	m.mu.Unlock()

	messages, _ := m.storage.List(ctx, []string{"message", id})
	for _, msgID := range messages {
		_ = m.storage.Delete(ctx, []string{"message", id, msgID})
	}
	toolExecs, _ := m.storage.List(ctx, []string{"toolexec", id})
	for _, execID := range toolExecs {
		_ = m.storage.Delete(ctx, []string{"toolexec", id, execID})
	}

	if err := m.storage.Delete(ctx, []string{"session", id}); err != nil {
		return &PersistenceError{Op: "delete_session", Err: err}
	}
	return nil
}

// SetActiveSession marks a session as UI-connected and returns the
// ordered UiEvents that replay its visible state.
// Rebinding the active session from one id (or UI) to another flushes
// nothing explicitly: the new UI simply receives a fresh replay.
func (m *Manager) SetActiveSession(ctx context.Context, id string, ui types.UserInterface) ([]types.UiEvent, error) {
	sess, err := m.getSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.activeSessionID = id
	m.activeUI = ui
	m.mu.Unlock()

	messages, err := m.activePath(ctx, sess)
	if err != nil {
		return nil, err
	}
	return replayEvents(sess, messages), nil
}

// QueueUserMessage appends content to a session's pending queue. It has
// no effect on an idle session beyond the append: the agent loop
// consumes queued messages only at its own turn boundaries.
func (m *Manager) QueueUserMessage(ctx context.Context, id string, content []types.ContentBlock) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.PendingQueue = append(e.session.PendingQueue, types.PendingUserMessage{Content: content})
	return m.putSession(ctx, e.session)
}

// dequeuePending pops the oldest not-yet-consumed user message queued via
// QueueUserMessage; the agent loop consumes queued messages only on
// turn boundaries. Caller must not hold e.mu.
func (m *Manager) dequeuePending(ctx context.Context, e *entry) (types.PendingUserMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.session.PendingQueue) == 0 {
		return types.PendingUserMessage{}, false
	}
	msg := e.session.PendingQueue[0]
	e.session.PendingQueue = e.session.PendingQueue[1:]
	_ = m.putSession(ctx, e.session)
	return msg, true
}

// Cancel idempotently requests cancellation of any running turn for the
// session. A second call while already cancelling is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

// IsRunning reports whether an agent turn is currently in flight for
// the session. Unknown session ids report false.
func (m *Manager) IsRunning(id string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// GetLatestSessionID returns the most recently created-or-loaded
// session, for auto-resume.
func (m *Manager) GetLatestSessionID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latestSessionID, m.latestSessionID != ""
}

// SwitchBranch retargets a session's active leaf to targetNodeID, which
// must be a node already on disk for this session (an ancestor or a
// sibling-branch descendant created by a prior edit/regenerate).
func (m *Manager) SwitchBranch(ctx context.Context, id, targetNodeID string) error {
	e, err := m.entryFor(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var target types.Message
	if err := m.storage.Get(ctx, []string{"message", id, targetNodeID}, &target); err != nil {
		return fmt.Errorf("switch_branch: node %s not found: %w", targetNodeID, err)
	}

	e.session.ActiveLeafID = targetNodeID
	e.session.Time.Updated = nowMillis()
	if err := m.putSession(ctx, e.session); err != nil {
		return &PersistenceError{Op: "switch_branch", Err: err}
	}

	m.mu.Lock()
	ui := m.activeUI
	active := m.activeSessionID == id
	m.mu.Unlock()
	if active && ui != nil {
		_ = ui.SendEvent(types.UiEvent{Kind: types.UiEventSwitchBranch, SessionID: id, NewNodeID: targetNodeID})
	}
	return nil
}

// entryFor returns the in-memory entry for id, loading it from storage
// first if this is the process's first touch of the session.
func (m *Manager) entryFor(id string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return e, nil
	}

	sess, err := m.getSession(context.Background(), id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	e = &entry{session: sess}
	m.sessions[id] = e
	return e, nil
}

func (m *Manager) getSession(ctx context.Context, id string) (*types.Session, error) {
	var sess types.Session
	if err := m.storage.Get(ctx, []string{"session", id}, &sess); err != nil {
		if err == storage.ErrNotFound {
			return nil, &NotFoundError{SessionID: id}
		}
		return nil, err
	}
	return &sess, nil
}

func (m *Manager) putSession(ctx context.Context, sess *types.Session) error {
	return m.storage.Put(ctx, []string{"session", sess.ID}, sess)
}

// activePath walks ActiveLeafID back to the root, returning messages in
// root-to-leaf order: the active conversation.
func (m *Manager) activePath(ctx context.Context, sess *types.Session) ([]*types.Message, error) {
	if sess.ActiveLeafID == "" {
		return nil, nil
	}
	var chain []*types.Message
	nodeID := sess.ActiveLeafID
	for nodeID != "" {
		var msg types.Message
		if err := m.storage.Get(ctx, []string{"message", sess.ID, nodeID}, &msg); err != nil {
			return nil, fmt.Errorf("active path: load node %s: %w", nodeID, err)
		}
		chain = append(chain, &msg)
		if msg.ParentID == nil {
			break
		}
		nodeID = *msg.ParentID
	}
	// chain was built leaf-to-root; reverse it.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func (m *Manager) saveMessage(ctx context.Context, sessionID string, msg *types.Message) error {
	return m.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg)
}

func (m *Manager) saveToolExecution(ctx context.Context, sessionID string, log *types.ToolExecutionLog) error {
	return m.storage.Put(ctx, []string{"toolexec", sessionID, log.ToolUseID}, log)
}

// NotFoundError reports that a session id has no persisted state.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string { return "session not found: " + e.SessionID }

// PersistenceError wraps a storage failure with the operation that
// triggered it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// replayEvents reconstructs the UiEvent sequence a front-end needs to
// rebuild a session's visible state from its persisted active path
// without a separate state-dump protocol.
func replayEvents(sess *types.Session, messages []*types.Message) []types.UiEvent {
	events := make([]types.UiEvent, 0, len(messages)+1)
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			events = append(events, types.UiEvent{Kind: types.UiEventDisplayUserInput, SessionID: sess.ID, UserMessage: msg})
		case "assistant":
			for _, block := range msg.Content {
				if frag, ok := fragmentForBlock(block); ok {
					events = append(events, types.UiEvent{Kind: types.UiEventFragment, SessionID: sess.ID, Fragment: &frag})
				}
			}
		}
	}
	events = append(events, types.UiEvent{
		Kind: types.UiEventUpdateMemory, SessionID: sess.ID, Memory: &sess.WorkingMemory,
	})
	events = append(events, types.UiEvent{
		Kind: types.UiEventActivityChanged, SessionID: sess.ID, Activity: sess.Activity,
	})
	return events
}

// fragmentForBlock projects a persisted ContentBlock onto the
// DisplayFragment a replay would have produced live.
func fragmentForBlock(block types.ContentBlock) (types.DisplayFragment, bool) {
	switch b := block.(type) {
	case *types.TextBlock:
		return types.DisplayFragment{Kind: types.FragmentPlainText, Text: b.Text}, true
	case *types.ThinkingBlock:
		return types.DisplayFragment{Kind: types.FragmentThinkingText, Text: b.Text}, true
	case *types.ImageBlock:
		return types.DisplayFragment{Kind: types.FragmentImage, MediaType: b.MediaType, Base64Data: b.Base64Data}, true
	case *types.ToolUseBlock:
		return types.DisplayFragment{Kind: types.FragmentToolEnd, ToolID: b.ID, ToolName: b.Name}, true
	}
	return types.DisplayFragment{}, false
}
