package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/opencode-ai/core/internal/provider"
	"github.com/opencode-ai/core/internal/storage"
	"github.com/opencode-ai/core/internal/tool"
	"github.com/opencode-ai/core/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir, err := os.MkdirTemp("", "session-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	store := storage.New(dir)
	toolReg := tool.NewRegistry(dir, store)
	toolReg.Register(tool.NewCompleteTaskTool())
	provReg := provider.NewRegistry(&types.Config{})
	return NewManager(store, provReg, toolReg, "anthropic", "claude-sonnet-4-20250514")
}

func TestManager_CreateAndLoadSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "", "my session")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected non-empty session id")
	}

	messages, err := m.LoadSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty active path for new session, got %d messages", len(messages))
	}

	latest, ok := m.GetLatestSessionID()
	if !ok || latest != sess.ID {
		t.Fatalf("GetLatestSessionID = %q, %v; want %q, true", latest, ok, sess.ID)
	}
}

func TestManager_LoadSession_NotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.LoadSession(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("expected error for missing session")
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestManager_AppendAndSwitchBranch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "", "branching")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	e, err := m.entryFor(sess.ID)
	if err != nil {
		t.Fatalf("entryFor: %v", err)
	}

	first, err := m.appendMessageWith(ctx, e, "user", []types.ContentBlock{&types.TextBlock{Text: "hello"}})
	if err != nil {
		t.Fatalf("appendMessageWith: %v", err)
	}
	second, err := m.appendMessageWith(ctx, e, "assistant", []types.ContentBlock{&types.TextBlock{Text: "hi there"}})
	if err != nil {
		t.Fatalf("appendMessageWith: %v", err)
	}

	if e.session.ActiveLeafID != second.ID {
		t.Fatalf("ActiveLeafID = %q, want %q", e.session.ActiveLeafID, second.ID)
	}

	path, err := m.activePath(ctx, e.session)
	if err != nil {
		t.Fatalf("activePath: %v", err)
	}
	if len(path) != 2 || path[0].ID != first.ID || path[1].ID != second.ID {
		t.Fatalf("unexpected active path: %+v", path)
	}

	if err := m.SwitchBranch(ctx, sess.ID, first.ID); err != nil {
		t.Fatalf("SwitchBranch: %v", err)
	}
	path, err = m.activePath(ctx, e.session)
	if err != nil {
		t.Fatalf("activePath after switch: %v", err)
	}
	if len(path) != 1 || path[0].ID != first.ID {
		t.Fatalf("unexpected active path after switch: %+v", path)
	}
}

func TestManager_DeleteSession(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "", "to-delete")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.DeleteSession(ctx, sess.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := m.LoadSession(ctx, sess.ID); err == nil {
		t.Fatal("expected error loading deleted session")
	}
}

func TestManager_ListSessions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, "", "a"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := m.CreateSession(ctx, "", "b"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	list, err := m.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
}

func TestManager_QueueUserMessage(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "", "queue")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.QueueUserMessage(ctx, sess.ID, []types.ContentBlock{&types.TextBlock{Text: "later"}}); err != nil {
		t.Fatalf("QueueUserMessage: %v", err)
	}

	e, err := m.entryFor(sess.ID)
	if err != nil {
		t.Fatalf("entryFor: %v", err)
	}
	if len(e.session.PendingQueue) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(e.session.PendingQueue))
	}
}

func TestManager_CancelIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Cancel("nonexistent"); err != nil {
		t.Fatalf("Cancel on unknown session should be a no-op, got %v", err)
	}
}
