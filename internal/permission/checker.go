package permission

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/core/internal/event"
)

// sessionGrants remembers what a session's user has already approved
// with "always": whole permission types and individual bash patterns.
type sessionGrants struct {
	types    map[PermissionType]bool
	patterns map[string]bool
}

func newSessionGrants() *sessionGrants {
	return &sessionGrants{
		types:    make(map[PermissionType]bool),
		patterns: make(map[string]bool),
	}
}

// Checker resolves ask-mode permission requests: it publishes the
// request on the event bus, parks the calling tool on a channel, and
// wakes it when Respond delivers the user's verdict. "Always" grants
// accumulate per session so repeated operations stop prompting.
type Checker struct {
	mu      sync.Mutex
	grants  map[string]*sessionGrants // by session id
	pending map[string]chan Response  // by request id
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{
		grants:  make(map[string]*sessionGrants),
		pending: make(map[string]chan Response),
	}
}

// Check applies a resolved policy action to req: allow passes, deny
// refuses immediately, ask defers to the user.
func (c *Checker) Check(ctx context.Context, req Request, action PermissionAction) error {
	switch action {
	case ActionAllow:
		return nil
	case ActionDeny:
		return &RejectedError{
			SessionID: req.SessionID,
			Type:      req.Type,
			CallID:    req.CallID,
			Metadata:  req.Metadata,
			Message:   "Permission denied by configuration",
		}
	case ActionAsk:
		return c.Ask(ctx, req)
	}
	return nil
}

// Ask blocks until the user answers req (or ctx ends). A standing
// session grant — the whole type, or every pattern the request names —
// short-circuits without prompting.
func (c *Checker) Ask(ctx context.Context, req Request) error {
	if c.alreadyGranted(req) {
		return nil
	}

	if req.ID == "" {
		req.ID = ulid.Make().String()
	}

	answer := make(chan Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = answer
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			ID:             req.ID,
			SessionID:      req.SessionID,
			PermissionType: string(req.Type),
			Pattern:        req.Pattern,
			Title:          req.Title,
		},
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-answer:
		switch resp.Action {
		case "always":
			c.approve(req.SessionID, req.Type, req.Pattern)
			return nil
		case "reject":
			return &RejectedError{
				SessionID: req.SessionID,
				Type:      req.Type,
				CallID:    req.CallID,
				Metadata:  req.Metadata,
				Message:   "Permission rejected by user",
			}
		default: // "once"
			return nil
		}
	}
}

// Respond delivers the user's verdict for a pending request and
// broadcasts the resolution so every attached UI can drop its prompt.
func (c *Checker) Respond(requestID string, action string) {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if ok {
		ch <- Response{RequestID: requestID, Action: action}
	}

	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			ID:      requestID,
			Granted: action != "reject",
		},
	})
}

// alreadyGranted reports whether a standing grant covers req.
func (c *Checker) alreadyGranted(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[req.SessionID]
	if !ok {
		return false
	}
	if g.types[req.Type] {
		return true
	}
	if len(req.Pattern) == 0 {
		return false
	}
	for _, p := range req.Pattern {
		if !g.patterns[p] {
			return false
		}
	}
	return true
}

// approve records an "always" grant: the type plus every named pattern.
func (c *Checker) approve(sessionID string, permType PermissionType, patterns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[sessionID]
	if !ok {
		g = newSessionGrants()
		c.grants[sessionID] = g
	}
	if permType != "" {
		g.types[permType] = true
	}
	for _, p := range patterns {
		g.patterns[p] = true
	}
}

// IsApproved reports whether a whole permission type carries a standing
// grant for the session.
func (c *Checker) IsApproved(sessionID string, permType PermissionType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[sessionID]
	return ok && g.types[permType]
}

// IsPatternApproved reports whether one bash pattern carries a standing
// grant for the session.
func (c *Checker) IsPatternApproved(sessionID string, pattern string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.grants[sessionID]
	return ok && g.patterns[pattern]
}

// ApprovePattern records a standing grant for one bash pattern.
func (c *Checker) ApprovePattern(sessionID string, pattern string) {
	c.approve(sessionID, "", []string{pattern})
}

// ClearSession forgets every standing grant for a session.
func (c *Checker) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, sessionID)
}
