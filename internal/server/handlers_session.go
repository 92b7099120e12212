package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/core/internal/event"
	"github.com/opencode-ai/core/internal/session"
	"github.com/opencode-ai/core/pkg/types"
)

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Directory string `json:"directory"`
	Title     string `json:"title,omitempty"`
}

// listSessions handles GET /session (the list_sessions command).
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []types.Metadata{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session (the new_session command).
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	directory := req.Directory
	if directory == "" {
		directory = getDirectory(r.Context())
	}

	sess, err := s.manager.CreateSession(r.Context(), directory, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	event.Publish(event.Event{
		Type: event.SessionCreated,
		Data: event.SessionCreatedData{Info: sess},
	})

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID} (the delete_session
// command).
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, _ := s.manager.GetSession(r.Context(), sessionID)
	if err := s.manager.DeleteSession(r.Context(), sessionID); err != nil {
		writeSessionError(w, err)
		return
	}

	event.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{Info: sess},
	})

	writeSuccess(w)
}

// getActivePath handles GET /session/{sessionID}/branch: the session's
// current active leaf and root, so a client can walk sibling branches
// of the message tree.
func (s *Server) getActivePath(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"rootMessageID": sess.RootMessageID,
		"activeLeafID":  sess.ActiveLeafID,
	})
}

// SwitchBranchRequest is the body for POST /session/{sessionID}/branch.
type SwitchBranchRequest struct {
	NodeID string `json:"nodeID"`
}

// switchBranch handles POST /session/{sessionID}/branch (the
// switch_branch command).
func (s *Server) switchBranch(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SwitchBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "nodeID is required")
		return
	}

	if err := s.manager.SwitchBranch(r.Context(), sessionID, req.NodeID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeSuccess(w)
}

// ContentRequest carries a raw tagged-union ContentBlock list, used by
// both queueMessage and sendMessage.
type ContentRequest struct {
	Content []json.RawMessage `json:"content"`
}

// decodeContentBlocks recovers the ContentBlock union from its tagged
// JSON wire form.
func decodeContentBlocks(raw []json.RawMessage) ([]types.ContentBlock, error) {
	blocks := make([]types.ContentBlock, 0, len(raw))
	for _, r := range raw {
		b, err := types.UnmarshalContentBlock(r)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// queueMessage handles POST /session/{sessionID}/queue (the
// queue_user_message command).
func (s *Server) queueMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	blocks, err := decodeContentBlocks(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if err := s.manager.QueueUserMessage(r.Context(), sessionID, blocks); err != nil {
		writeSessionError(w, err)
		return
	}
	writeSuccess(w)
}

// abortSession handles POST /session/{sessionID}/abort (the cancel
// command).
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.adapter.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// initializeHandler handles POST /initialize.
func (s *Server) initializeHandler(w http.ResponseWriter, r *http.Request) {
	caps, err := s.adapter.Initialize(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// AuthenticateRequest is the body for POST /authenticate.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// authenticateHandler handles POST /authenticate.
func (s *Server) authenticateHandler(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if err := s.adapter.Authenticate(r.Context(), req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// writeSessionError maps session package errors onto HTTP status codes.
func writeSessionError(w http.ResponseWriter, err error) {
	var notFound *session.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
}
