package rpc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opencode-ai/core/internal/session"
	"github.com/opencode-ai/core/pkg/types"
)

// ProtocolVersion is advertised by Initialize and bumped whenever the
// UiEvent/ContentBlock wire shapes change incompatibly.
const ProtocolVersion = "1"

// pollInterval is how often Prompt checks for turn completion.
const pollInterval = 100 * time.Millisecond

// Capabilities is the result of Initialize: protocol version, the
// content kinds the core round-trips, and what the agent can do for
// this client (persisted-session reload, image prompts, embedded
// context; no audio).
type Capabilities struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ContentKinds    []string           `json:"contentKinds"`
	LoadSession     bool               `json:"loadSession"`
	Prompt          PromptCapabilities `json:"promptCapabilities"`
}

// PromptCapabilities advertises which prompt content kinds are accepted.
type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

// StopReason is the result of Prompt.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
)

// Adapter implements the external command set against a single
// session.Manager. It holds no session state of its own beyond whether
// a client has authenticated.
type Adapter struct {
	manager *session.Manager

	mu            sync.Mutex
	authenticated bool
}

// New constructs an Adapter over manager.
func New(manager *session.Manager) *Adapter {
	return &Adapter{manager: manager}
}

// Initialize advertises the protocol version and capability set.
func (a *Adapter) Initialize(ctx context.Context) (*Capabilities, error) {
	return &Capabilities{
		ProtocolVersion: ProtocolVersion,
		ContentKinds: []string{
			"text", "thinking", "redacted_thinking", "image", "tool_use", "tool_result",
		},
		LoadSession: true,
		Prompt:      PromptCapabilities{Image: true, EmbeddedContext: true},
	}, nil
}

// Authenticate is a no-op placeholder: this adapter has no
// remote auth backend of its own, so any call simply marks the caller as
// authenticated for bookkeeping purposes.
func (a *Adapter) Authenticate(ctx context.Context, token string) error {
	a.mu.Lock()
	a.authenticated = true
	a.mu.Unlock()
	return nil
}

// NewSession mints a session pinned to cwd as its initial project path.
func (a *Adapter) NewSession(ctx context.Context, cwd string) (string, error) {
	sess, err := a.manager.CreateSession(ctx, cwd, "")
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// LoadSession attaches ui to session id and replays every persisted
// message as streaming UiEvents so the remote client can reconstruct
// rendering without a separate state-dump call.
func (a *Adapter) LoadSession(ctx context.Context, id string, ui types.UserInterface) error {
	if _, err := a.manager.LoadSession(ctx, id); err != nil {
		return err
	}
	events, err := a.manager.SetActiveSession(ctx, id, ui)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := ui.SendEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// promptUI is the call-scoped UI capability Prompt attaches for the
// duration of one turn: it forwards everything to a caller-supplied
// sink and exposes a cancellable should-continue flag the poll loop can
// flip independently of the session's own cancellation.
type promptUI struct {
	sink types.UserInterface

	mu        sync.Mutex
	continued bool
}

func newPromptUI(sink types.UserInterface) *promptUI {
	return &promptUI{sink: sink, continued: true}
}

func (p *promptUI) SendEvent(e types.UiEvent) error {
	if p.sink != nil {
		return p.sink.SendEvent(e)
	}
	return nil
}

func (p *promptUI) DisplayFragment(f types.DisplayFragment) {
	if p.sink != nil {
		p.sink.DisplayFragment(f)
	}
}

func (p *promptUI) ShouldStreamingContinue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continued
}

func (p *promptUI) stop() {
	p.mu.Lock()
	p.continued = false
	p.mu.Unlock()
}

func (p *promptUI) NotifyRateLimit(seconds int) {
	if p.sink != nil {
		p.sink.NotifyRateLimit(seconds)
	}
}

func (p *promptUI) ClearRateLimit() {
	if p.sink != nil {
		p.sink.ClearRateLimit()
	}
}

// Prompt attaches a UI capability local to this call, starts the agent
// on content, and blocks until the session returns to Idle or sink's
// ShouldStreamingContinue (if sink is non-nil) reports false, at which
// point it cancels the turn and waits for it to unwind.
//
// A failure to start the agent is not a protocol error: the client gets
// an "ERROR: ..." text fragment and a normal end_turn, keeping the
// prompt/response cycle intact. Only an unknown session id errors out,
// so transports can apply their own not-found mapping.
func (a *Adapter) Prompt(ctx context.Context, sessionID string, content []types.ContentBlock, sink types.UserInterface) (StopReason, error) {
	ui := newPromptUI(sink)
	if _, err := a.manager.SetActiveSession(ctx, sessionID, ui); err != nil {
		return "", err
	}
	if err := a.manager.StartAgentForMessage(ctx, sessionID, content); err != nil {
		var notFound *session.NotFoundError
		if errors.As(err, &notFound) {
			return "", err
		}
		ui.DisplayFragment(types.DisplayFragment{
			Kind: types.FragmentPlainText,
			Text: "ERROR: " + err.Error(),
		})
		return StopEndTurn, nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	cancelled := false
	for {
		select {
		case <-ctx.Done():
			a.manager.Cancel(sessionID)
			cancelled = true
		case <-ticker.C:
		}

		if !a.manager.IsRunning(sessionID) {
			break
		}
		if sink != nil && !sink.ShouldStreamingContinue() {
			ui.stop()
			a.manager.Cancel(sessionID)
			cancelled = true
		}
		if ctx.Err() != nil {
			cancelled = true
		}
	}

	if cancelled {
		return StopCancelled, nil
	}
	return StopEndTurn, nil
}

// Cancel interrupts the session's agent task through the session
// manager. It does not flip the UI capability of a Prompt call in
// flight, so that call reports end_turn once the session goes idle
// unless its own context or sink stopped it. Safe to call on an idle or
// unknown session.
func (a *Adapter) Cancel(ctx context.Context, sessionID string) error {
	return a.manager.Cancel(sessionID)
}

// Manager exposes the underlying session.Manager for transports that
// need direct access beyond the six RPC commands (listing, deletion,
// branch switching).
func (a *Adapter) Manager() *session.Manager {
	return a.manager
}
