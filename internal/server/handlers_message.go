package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// getMessages handles GET /session/{sessionID}/message: the active-path
// transcript, root to leaf.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := s.manager.LoadSession(r.Context(), sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// SendMessageResponse reports the outcome of a blocking prompt call.
type SendMessageResponse struct {
	StopReason string `json:"stopReason"`
}

// sendMessage handles POST /session/{sessionID}/message (the prompt
// command): it appends the message and blocks until the agent loop goes
// Idle or the request is cancelled.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
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
	if len(blocks) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content must not be empty")
		return
	}

	reason, err := s.adapter.Prompt(r.Context(), sessionID, blocks, nil)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SendMessageResponse{StopReason: string(reason)})
}
