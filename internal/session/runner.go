package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/opencode-ai/core/internal/agent"
	"github.com/opencode-ai/core/internal/logging"
	"github.com/opencode-ai/core/internal/provider"
	"github.com/opencode-ai/core/internal/streamproc"
	"github.com/opencode-ai/core/internal/tool"
	"github.com/opencode-ai/core/pkg/types"
)

var log = logging.Logger

const (
	maxTurnSteps        = 50
	maxRepromptRetries  = 2
	retryInitialWait    = time.Second
	retryMaxWait        = 30 * time.Second
	retryMaxElapsed     = 2 * time.Minute
	maxProviderAttempts = 4
	defaultMaxTokens    = 4096
)

// ErrAlreadyRunning is returned by StartAgentForMessage when a turn is
// already in flight for the session.
var ErrAlreadyRunning = fmt.Errorf("agent already running for session")

// StartAgentForMessage appends a user message to the session's active
// path and starts the agent runner loop for it in the background. It
// returns once the turn has been durably queued, not once it completes;
// the attached UI observes completion via UiEvents.
func (m *Manager) StartAgentForMessage(ctx context.Context, sessionID string, content []types.ContentBlock) error {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	userMsg, err := m.appendMessageLocked(ctx, e, "user", content)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.session.Activity = types.ActivityWaitingForResponse
	_ = m.putSession(ctx, e.session)
	e.mu.Unlock()

	m.mu.Lock()
	ui := m.activeUI
	m.mu.Unlock()
	if ui != nil {
		ui.SendEvent(types.UiEvent{Kind: types.UiEventDisplayUserInput, SessionID: sessionID, UserMessage: userMsg})
	}

	go m.runTurns(turnCtx, sessionID, ui)
	return nil
}

// appendMessageLocked creates a message as a child of the session's
// current active leaf, links the parent's ChildIDs, persists both, and
// advances ActiveLeafID. Caller must hold e.mu.
func (m *Manager) appendMessageLocked(ctx context.Context, e *entry, role string, content []types.ContentBlock) (*types.Message, error) {
	msg := &types.Message{
		ID:        types.NewID(),
		SessionID: e.session.ID,
		Role:      role,
		Content:   types.CoalesceText(content),
		Time:      types.MessageTime{Created: nowMillis()},
	}
	if e.session.ActiveLeafID != "" {
		parentID := e.session.ActiveLeafID
		msg.ParentID = &parentID
		var parent types.Message
		if err := m.storage.Get(ctx, []string{"message", e.session.ID, parentID}, &parent); err == nil {
			parent.ChildIDs = append(parent.ChildIDs, msg.ID)
			if err := m.saveMessage(ctx, e.session.ID, &parent); err != nil {
				return nil, &PersistenceError{Op: "link_child", Err: err}
			}
		}
	} else {
		e.session.RootMessageID = msg.ID
	}

	if err := m.saveMessage(ctx, e.session.ID, msg); err != nil {
		return nil, &PersistenceError{Op: "save_message", Err: err}
	}

	e.session.ActiveLeafID = msg.ID
	e.session.Time.Updated = nowMillis()
	if err := m.putSession(ctx, e.session); err != nil {
		return nil, &PersistenceError{Op: "save_session", Err: err}
	}
	return msg, nil
}

// runTurns drives turns until the model emits no tool request, a
// terminal tool fires, the turn is cancelled, or a hard error occurs.
// It always clears the session's in-flight cancel func and restores
// Activity to idle on return.
func (m *Manager) runTurns(ctx context.Context, sessionID string, ui types.UserInterface) {
	e, err := m.entryFor(sessionID)
	if err != nil {
		return
	}
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.session.Activity = types.ActivityIdle
		_ = m.putSession(context.Background(), e.session)
		e.mu.Unlock()
		if ui != nil {
			ui.SendEvent(types.UiEvent{Kind: types.UiEventActivityChanged, SessionID: sessionID, Activity: types.ActivityIdle})
		}
	}()

	prof := agent.BuiltInAgents()["build"]
	prov, model, err := m.resolveProvider(e)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("resolve provider")
		m.persistRunError(ctx, e, "transport", err.Error())
		return
	}

	reprompts := 0
	for step := 0; step < maxTurnSteps; step++ {
		if ctx.Err() != nil {
			m.persistCancellation(ctx, e)
			return
		}

		path, err := m.activePath(ctx, e.session)
		if err != nil {
			m.persistRunError(ctx, e, "persistence", err.Error())
			return
		}

		if needsCompaction(path, model, DefaultCompactionConfig) {
			if cerr := m.compactSession(ctx, e, prov, model, path); cerr != nil {
				log.Warn().Err(cerr).Str("session", sessionID).Msg("compaction failed, continuing with full context")
			} else if path, err = m.activePath(ctx, e.session); err != nil {
				m.persistRunError(ctx, e, "persistence", err.Error())
				return
			}
		}

		requestID := types.NewID()
		toolInfos := toolInfosForAgent(m.toolReg, prof, model)
		mode := streamproc.ModeNative
		if !model.SupportsTools {
			mode = streamproc.ModeXML
		}

		var toolRequests []types.ToolRequest
		proc := streamproc.New(mode, requestID, func(f types.DisplayFragment) {
			if ui != nil {
				ui.DisplayFragment(f)
			}
		}, func(tr types.ToolRequest) {
			toolRequests = append(toolRequests, tr)
		})

		req := provider.LLMRequest{
			SystemPrompt: newSystemPromptBuilder(e.session, prof, prov.ID(), model.ID).Build(),
			Messages:     requestPath(path),
			Tools:        toolInfos,
			MaxTokens:    maxTokensFor(model),
			RequestID:    requestID,
			SessionID:    sessionID,
		}

		if ui != nil {
			ui.SendEvent(types.UiEvent{Kind: types.UiEventStreamingStarted, SessionID: sessionID, RequestID: requestID})
		}

		resp, err := m.callWithRetry(ctx, prov, req, ui, func(block types.ContentBlock, ev provider.FragmentEvent) bool {
			if ctx.Err() != nil || (ui != nil && !ui.ShouldStreamingContinue()) {
				return false
			}
			switch ev.Kind {
			case "text_delta":
				proc.ProcessText(ev.Delta)
			case "thinking_delta":
				proc.ProcessThinking(ev.Delta)
			}
			return true
		})

		respCancelled := err == nil && resp != nil && resp.FinishReason == "cancelled"
		cancelled := ctx.Err() != nil || respCancelled
		if ui != nil {
			ui.SendEvent(types.UiEvent{Kind: types.UiEventStreamingStopped, SessionID: sessionID, Cancelled: cancelled})
		}
		if cancelled {
			if respCancelled {
				m.persistPartialAssistant(ctx, e, resp, prov.ID(), model.ID, requestID)
			}
			m.persistCancellation(ctx, e)
			return
		}
		if err != nil {
			m.persistRunError(ctx, e, classifyProviderErr(err), err.Error())
			return
		}

		if mode == streamproc.ModeNative {
			for _, block := range resp.Content {
				if tu, ok := block.(*types.ToolUseBlock); ok {
					proc.ProcessToolUse(tu.ID, tu.Name, tu.InputJSON)
				} else if img, ok := block.(*types.ImageBlock); ok {
					proc.ProcessImage(img.MediaType, img.Base64Data)
				}
			}
		}

		assistantMsg, err := m.appendAssistantMessage(ctx, e, resp, prov.ID(), model.ID, requestID)
		if err != nil {
			m.persistRunError(ctx, e, "persistence", err.Error())
			return
		}

		if len(toolRequests) == 0 {
			if queued, ok := m.dequeuePending(ctx, e); ok {
				queuedMsg, err := m.appendMessageWith(ctx, e, "user", queued.Content)
				if err != nil {
					m.persistRunError(ctx, e, "persistence", err.Error())
					return
				}
				if ui != nil {
					ui.SendEvent(types.UiEvent{Kind: types.UiEventDisplayUserInput, SessionID: sessionID, UserMessage: queuedMsg})
				}
				continue
			}
			return
		}

		unknown := firstUnknownTool(m.toolReg, toolRequests)
		if unknown != "" && reprompts < maxRepromptRetries {
			reprompts++
			m.appendReprompt(ctx, e, fmt.Sprintf(
				"The tool %q does not exist. Use only the tools listed in your catalog.", unknown))
			continue
		}

		results, terminal := m.executeTools(ctx, e, assistantMsg, toolRequests, prof, ui)
		if _, err := m.appendMessageWith(ctx, e, "user", results); err != nil {
			m.persistRunError(ctx, e, "persistence", err.Error())
			return
		}
		if terminal {
			return
		}
	}

	m.persistRunError(ctx, e, "agent_crashed", "maximum turn steps exceeded")
}

// callWithRetry retries transport/rate-limit/overload errors with
// jittered exponential backoff; other error kinds are returned
// immediately. A rate-limited attempt waits the response's retry-after
// instead of the computed backoff and tells the UI how long
// (NotifyRateLimit / ClearRateLimit).
func (m *Manager) callWithRetry(ctx context.Context, prov provider.Provider, req provider.LLMRequest, ui types.UserInterface, cb provider.StreamCallback) (*provider.LLMResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialWait
	b.MaxInterval = retryMaxWait
	b.MaxElapsedTime = retryMaxElapsed
	b.RandomizationFactor = 0.5
	b.Reset()

	rateLimited := false
	for attempt := 0; ; attempt++ {
		resp, err := prov.SendMessage(ctx, req, cb)
		if err == nil {
			if rateLimited && ui != nil {
				ui.ClearRateLimit()
			}
			return resp, nil
		}

		perr, retryable := err.(*provider.Error)
		if !retryable || !perr.IsRetryable() || attempt >= maxProviderAttempts-1 {
			return nil, err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, err
		}
		if perr.Kind == provider.KindRateLimited {
			rateLimited = true
			if perr.RetryAfterSeconds > 0 {
				wait = time.Duration(perr.RetryAfterSeconds) * time.Second
			}
			if ui != nil {
				ui.NotifyRateLimit(int(wait / time.Second))
			}
		}

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(wait):
		}
	}
}

func (m *Manager) resolveProvider(e *entry) (provider.Provider, *types.Model, error) {
	providerID, modelID := m.defaultProviderID, m.defaultModelID
	if cfg := e.session.LLMConfig; cfg != nil && cfg.ProviderID != "" {
		providerID, modelID = cfg.ProviderID, cfg.ModelID
	}
	prov, err := m.providerReg.Get(providerID)
	if err != nil {
		return nil, nil, err
	}
	model, err := m.providerReg.GetModel(providerID, modelID)
	if err != nil {
		return nil, nil, err
	}
	return prov, model, nil
}

func maxTokensFor(model *types.Model) int {
	if model.MaxOutputTokens > 0 {
		return model.MaxOutputTokens
	}
	return defaultMaxTokens
}

func toolInfosForAgent(reg *tool.Registry, prof *agent.Agent, model *types.Model) []provider.ToolInfo {
	if !model.SupportsTools {
		return nil
	}
	specs := reg.Specs(tool.ScopeAgent)
	out := make([]provider.ToolInfo, 0, len(specs))
	for _, s := range specs {
		if prof != nil && !prof.ToolEnabled(s.Name) {
			continue
		}
		out = append(out, provider.ToolInfo{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}

func firstUnknownTool(reg *tool.Registry, requests []types.ToolRequest) string {
	for _, r := range requests {
		if _, ok := reg.Get(r.Name); !ok {
			return r.Name
		}
	}
	return ""
}

// appendAssistantMessage persists the finalized assistant turn as a
// child of the active leaf.
func (m *Manager) appendAssistantMessage(ctx context.Context, e *entry, resp *provider.LLMResponse, providerID, modelID, requestID string) (*types.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, err := m.appendMessageLocked(ctx, e, "assistant", resp.Content)
	if err != nil {
		return nil, err
	}
	msg.ProviderID = providerID
	msg.ModelID = modelID
	msg.RequestID = &requestID
	finish := resp.FinishReason
	msg.Finish = &finish
	msg.Usage = &types.TokenUsage{
		Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens, Reasoning: resp.Usage.ReasoningTokens,
		Cache: types.CacheUsage{Read: resp.Usage.CacheReadTokens, Write: resp.Usage.CacheWriteTokens},
	}
	if err := m.saveMessage(ctx, e.session.ID, msg); err != nil {
		return nil, &PersistenceError{Op: "save_assistant_message", Err: err}
	}
	return msg, nil
}

// appendMessageWith is appendMessageLocked with the entry's own lock
// acquired, for call sites outside the locked sections above.
func (m *Manager) appendMessageWith(ctx context.Context, e *entry, role string, content []types.ContentBlock) (*types.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.appendMessageLocked(ctx, e, role, content)
}

func (m *Manager) appendReprompt(ctx context.Context, e *entry, text string) {
	_, _ = m.appendMessageWith(ctx, e, "user", []types.ContentBlock{&types.TextBlock{Text: text}})
}

// executeTools validates and runs every requested tool call in source
// order, returning the ToolResultBlocks to send back and whether a
// terminal tool (complete_task) fired.
func (m *Manager) executeTools(ctx context.Context, e *entry, assistantMsg *types.Message, requests []types.ToolRequest, prof *agent.Agent, ui types.UserInterface) ([]types.ContentBlock, bool) {
	results := make([]types.ContentBlock, 0, len(requests))
	terminal := false

	for _, req := range requests {
		if ctx.Err() != nil {
			results = append(results, &types.ToolResultBlock{ToolUseID: req.ID, ContentText: "cancelled", IsError: true})
			continue
		}

		t, ok := m.toolReg.Get(req.Name)
		if !ok {
			results = append(results, &types.ToolResultBlock{
				ToolUseID: req.ID, IsError: true,
				ContentText: fmt.Sprintf("unknown tool %q", req.Name),
			})
			continue
		}

		if err := validateToolInput(t, req.InputJSON); err != nil {
			results = append(results, &types.ToolResultBlock{ToolUseID: req.ID, IsError: true, ContentText: err.Error()})
			continue
		}

		if ui != nil {
			ui.SendEvent(types.UiEvent{Kind: types.UiEventUpdateToolStatus, SessionID: e.session.ID, ToolID: req.ID, ToolStatus: "running"})
		}

		started := nowMillis()
		toolCtx := &tool.Context{
			SessionID: e.session.ID,
			MessageID: assistantMsg.ID,
			CallID:    req.ID,
			Agent:     prof.Name,
			WorkDir:   e.session.Directory,
			AbortCh:   ctx.Done(),
			OnOutputChunk: func(chunk string) {
				if ui != nil {
					ui.DisplayFragment(types.DisplayFragment{Kind: types.FragmentToolOutput, ToolID: req.ID, ToolName: req.Name, Chunk: chunk})
				}
			},
		}

		result, execErr := t.Execute(ctx, req.InputJSON, toolCtx)
		finished := nowMillis()

		outcome := "success"
		var resultBlock *types.ToolResultBlock
		if execErr != nil {
			outcome = "error"
			resultBlock = &types.ToolResultBlock{ToolUseID: req.ID, IsError: true, ContentText: execErr.Error()}
		} else {
			if result.IsError {
				outcome = "error"
			}
			resultBlock = &types.ToolResultBlock{ToolUseID: req.ID, IsError: result.IsError, ContentText: result.Output}
		}
		results = append(results, resultBlock)

		m.logToolExecution(ctx, e.session.ID, req, resultBlock, started, finished)

		if ui != nil {
			ui.SendEvent(types.UiEvent{Kind: types.UiEventUpdateToolStatus, SessionID: e.session.ID, ToolID: req.ID, ToolStatus: outcome})
		}

		if req.Name == "complete_task" {
			terminal = true
		}
	}

	return results, terminal
}

func (m *Manager) logToolExecution(ctx context.Context, sessionID string, req types.ToolRequest, result *types.ToolResultBlock, started, finished int64) {
	logEntry := &types.ToolExecutionLog{
		ToolUseID: req.ID, ToolName: req.Name,
		InputJSON:  string(req.InputJSON),
		OutputJSON: result.ContentText,
		Success:    !result.IsError,
		StartedAt:  started, FinishedAt: finished,
	}
	if err := m.saveToolExecution(ctx, sessionID, logEntry); err != nil {
		log.Warn().Err(err).Str("tool", req.Name).Msg("failed to persist tool execution log")
	}
}

// validateToolInput checks a tool call's arguments against the tool's
// JSON Schema before execution.
func validateToolInput(t tool.Tool, input json.RawMessage) error {
	schema := t.Parameters()
	if len(schema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(input)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid tool input: %v", msgs)
	}
	return nil
}

func classifyProviderErr(err error) string {
	if perr, ok := err.(*provider.Error); ok {
		switch perr.Kind {
		case provider.KindAuth:
			return "provider_auth"
		case provider.KindParseError:
			return "parse_error"
		case provider.KindRateLimited:
			return "provider_rate_limited"
		case provider.KindOverloaded:
			return "provider_overloaded"
		default:
			return "transport"
		}
	}
	return "transport"
}

// persistRunError appends an error-only assistant message carrying kind
// and message as the session's new active leaf. Activity returns to idle
// in runTurns' deferred cleanup.
func (m *Manager) persistRunError(ctx context.Context, e *entry, kind, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, err := m.appendMessageLocked(ctx, e, "assistant", nil)
	if err != nil {
		return
	}
	msg.Error = &types.MessageError{Type: kind, Message: message}
	_ = m.saveMessage(ctx, e.session.ID, msg)
}

// persistPartialAssistant saves whatever content a cancelled stream had
// accumulated before the stop, so the transcript keeps everything the
// UI already showed. Tool uses in the partial message get synthetic
// "cancelled" error results to preserve the ToolUse/ToolResult pairing.
func (m *Manager) persistPartialAssistant(ctx context.Context, e *entry, resp *provider.LLMResponse, providerID, modelID, requestID string) {
	if len(resp.Content) == 0 {
		return
	}
	msg, err := m.appendAssistantMessage(ctx, e, resp, providerID, modelID, requestID)
	if err != nil {
		return
	}
	uses := msg.ToolUses()
	if len(uses) == 0 {
		return
	}
	results := make([]types.ContentBlock, 0, len(uses))
	for _, tu := range uses {
		results = append(results, &types.ToolResultBlock{ToolUseID: tu.ID, ContentText: "cancelled", IsError: true})
	}
	_, _ = m.appendMessageWith(ctx, e, "user", results)
}

// persistCancellation marks the session as cancelling and persists it;
// runTurns' deferred cleanup then returns it to idle. Content from a
// stream that ended as cancelled is saved by persistPartialAssistant; no
// error is recorded in the transcript.
func (m *Manager) persistCancellation(ctx context.Context, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Activity = types.ActivityCancelling
	_ = m.putSession(ctx, e.session)
}
