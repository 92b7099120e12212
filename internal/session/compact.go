package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencode-ai/core/internal/event"
	"github.com/opencode-ai/core/internal/provider"
	"github.com/opencode-ai/core/pkg/types"
)

// CompactionConfig controls when and how the agent runner summarizes the
// oldest portion of a session's active conversation to stay under the
// model's context window. Provider requests carry no global timeout and
// long reasoning is supported, so nothing else bounds how large a
// long-running session's request can grow.
type CompactionConfig struct {
	// MinMessagesToKeep is the active-path length at or below which
	// compaction is skipped; a longer path is summarized whole.
	MinMessagesToKeep int

	// SummaryMaxTokens bounds the summarization call's MaxTokens.
	SummaryMaxTokens int

	// ContextThreshold is the fraction of the model's context window
	// that, once estimated usage crosses it, triggers compaction.
	ContextThreshold float64
}

// DefaultCompactionConfig is the tuning used when nothing overrides it.
var DefaultCompactionConfig = CompactionConfig{
	MinMessagesToKeep: 4,
	SummaryMaxTokens:  2000,
	ContextThreshold:  0.75,
}

// estimateTokens is a rough, provider-agnostic token estimate (~4
// characters per token) used only to decide whether to compact; actual
// accounting comes from each response's Usage.
func estimateTokens(text string) int {
	return len(text) / 4
}

// estimateMessageTokens sums the rough token estimate of every text-bearing
// block in a message.
func estimateMessageTokens(msg *types.Message) int {
	total := 0
	for _, b := range msg.Content {
		switch v := b.(type) {
		case *types.TextBlock:
			total += estimateTokens(v.Text)
		case *types.ThinkingBlock:
			total += estimateTokens(v.Text)
		case *types.ToolUseBlock:
			total += estimateTokens(string(v.InputJSON))
		case *types.ToolResultBlock:
			total += estimateTokens(v.ContentText)
		}
	}
	return total
}

// needsCompaction reports whether path's estimated token footprint has
// crossed the configured fraction of model's context window. A
// ContextLength of zero (unknown/unbounded model) disables the check.
func needsCompaction(path []*types.Message, model *types.Model, cfg CompactionConfig) bool {
	if model == nil || model.ContextLength <= 0 {
		return false
	}
	if len(path) <= cfg.MinMessagesToKeep {
		return false
	}
	total := 0
	for _, msg := range path {
		total += estimateMessageTokens(msg)
	}
	return total > int(float64(model.ContextLength)*cfg.ContextThreshold)
}

// lastSummaryIndex returns the index of the most recent IsSummary
// message in path, or -1 if there is none.
func lastSummaryIndex(path []*types.Message) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Role == "assistant" && path[i].IsSummary {
			return i
		}
	}
	return -1
}

// requestPath narrows path to what is actually sent to the provider: if
// the active path already carries a compaction summary, only the
// messages from that summary onward are included, since the summary
// text stands in for everything before it.
func requestPath(path []*types.Message) []*types.Message {
	if i := lastSummaryIndex(path); i >= 0 {
		return path[i:]
	}
	return path
}

// buildSummaryPrompt renders the messages to be folded into a summary as
// plain text for the summarization call.
func buildSummaryPrompt(messages []*types.Message) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation between a user and a coding assistant. ")
	b.WriteString("Preserve: what was accomplished, files that were modified, current work in ")
	b.WriteString("progress, next steps, and any constraints the user stated. Be concise but ")
	b.WriteString("detailed enough that work can continue seamlessly once this summary is the ")
	b.WriteString("only context available.\n\n---\n\n")

	for _, msg := range messages {
		if msg.Role == "user" {
			b.WriteString("USER:\n")
		} else {
			b.WriteString("ASSISTANT:\n")
		}
		for _, block := range msg.Content {
			switch v := block.(type) {
			case *types.TextBlock:
				b.WriteString(v.Text)
				b.WriteString("\n")
			case *types.ToolUseBlock:
				fmt.Fprintf(&b, "[called tool %s with %s]\n", v.Name, string(v.InputJSON))
			case *types.ToolResultBlock:
				out := v.ContentText
				if len(out) > 500 {
					out = out[:500] + "..."
				}
				b.WriteString(out)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// compactSession summarizes the session's whole active path into a
// synthetic IsSummary assistant message appended as the new active leaf
// (a no-op at MinMessagesToKeep messages or fewer, to avoid compacting
// trivial sessions). Subsequent requestPath calls treat that message as the new
// effective root for provider calls; the full tree (and every branch)
// stays intact on disk, so branch-switching and the persisted-session
// round-trip invariant are unaffected.
func (m *Manager) compactSession(ctx context.Context, e *entry, prov provider.Provider, model *types.Model, path []*types.Message) error {
	cfg := DefaultCompactionConfig
	if len(path) <= cfg.MinMessagesToKeep {
		return nil
	}
	// The summary stands in for the whole active path: it is appended as
	// the new leaf, so requestPath's "start at the last IsSummary
	// message" rule makes it (and whatever comes after it) the entire
	// effective context for the next provider call.
	toSummarize := path

	e.mu.Lock()
	now := nowMillis()
	e.session.Time.Compacting = &now
	_ = m.putSession(ctx, e.session)
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.session.Time.Compacting = nil
		_ = m.putSession(ctx, e.session)
		e.mu.Unlock()
	}()

	summaryPrompt := buildSummaryPrompt(toSummarize)
	req := provider.LLMRequest{
		SystemPrompt: "You are a conversation summarizer. Produce a concise, information-dense summary; do not ask questions or add commentary.",
		Messages:     []*types.Message{{Role: "user", Content: []types.ContentBlock{&types.TextBlock{Text: summaryPrompt}}}},
		MaxTokens:    cfg.SummaryMaxTokens,
		RequestID:    types.NewID(),
		SessionID:    e.session.ID,
	}

	// Every adapter invokes cb unconditionally while decoding a stream, so
	// a no-op stand-in is required even though this call discards
	// incremental output; compaction has no UI to narrate it to.
	noop := func(types.ContentBlock, provider.FragmentEvent) bool { return true }
	resp, err := prov.SendMessage(ctx, req, noop)
	if err != nil {
		return fmt.Errorf("compact session: summarize: %w", err)
	}

	var summaryText strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.(*types.TextBlock); ok {
			summaryText.WriteString(tb.Text)
		}
	}

	summaryMsg, err := m.appendMessageWith(ctx, e, "assistant", []types.ContentBlock{&types.TextBlock{Text: summaryText.String()}})
	if err != nil {
		return fmt.Errorf("compact session: append summary: %w", err)
	}

	e.mu.Lock()
	summaryMsg.IsSummary = true
	summaryMsg.ProviderID = prov.ID()
	summaryMsg.ModelID = model.ID
	summaryMsg.Usage = &types.TokenUsage{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens}
	saveErr := m.saveMessage(ctx, e.session.ID, summaryMsg)
	e.mu.Unlock()
	if saveErr != nil {
		return fmt.Errorf("compact session: persist summary: %w", saveErr)
	}

	event.Publish(event.Event{
		Type: event.SessionCompacted,
		Data: event.SessionCompactedData{SessionID: e.session.ID, SummaryMessageID: summaryMsg.ID},
	})
	return nil
}
