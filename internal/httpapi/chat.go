package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/assistant"
	"github.com/antoniostano/taskpilot/internal/conversation"
	"github.com/antoniostano/taskpilot/internal/gateway"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
	Approved  *bool  `json:"approved"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	assistant.Reply
}

type chatErrorResponse struct {
	errorResponse
	SessionID string                    `json:"session_id,omitempty"`
	Applied   []assistant.AppliedAction `json:"applied,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	sess, ok := s.resolveSession(w, req.SessionID, req.UserID)
	if !ok {
		return
	}
	release, err := sess.BeginTurn(r.Context())
	if err != nil {
		respondError(w, http.StatusRequestTimeout, "turn_cancelled", err.Error())
		return
	}
	defer release()

	reply, err := s.assistant.ProcessUserMessage(r.Context(), sess, req.Message)
	if err != nil {
		s.respondTurnError(w, sess, reply, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{SessionID: sess.ID, Reply: reply})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || req.Approved == nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id and approved are required")
		return
	}

	sess, ok := s.resolveSession(w, req.SessionID, "")
	if !ok {
		return
	}
	release, err := sess.BeginTurn(r.Context())
	if err != nil {
		respondError(w, http.StatusRequestTimeout, "turn_cancelled", err.Error())
		return
	}
	defer release()

	reply, err := s.assistant.Confirm(r.Context(), sess, *req.Approved)
	if errors.Is(err, assistant.ErrNoPendingConfirmation) {
		respondError(w, http.StatusConflict, "no_pending_confirmation", err.Error())
		return
	}
	if err != nil {
		s.respondTurnError(w, sess, reply, err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{SessionID: sess.ID, Reply: reply})
}

// resolveSession picks the session by id, or the user's active session when no id is given.
func (s *Server) resolveSession(w http.ResponseWriter, sessionID, userID string) (*conversation.Session, bool) {
	sessionID = strings.TrimSpace(sessionID)
	userID = strings.TrimSpace(userID)
	if sessionID != "" {
		sess, err := s.sessions.Get(sessionID)
		if err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return nil, false
		}
		if userID != "" && userID != sess.UserID {
			respondError(w, http.StatusForbidden, "session_user_mismatch", "session belongs to another user")
			return nil, false
		}
		return sess, true
	}
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session_id or user_id is required")
		return nil, false
	}
	sess := s.sessions.ForUser(userID)
	s.observeSession("resolved")
	return sess, true
}

func (s *Server) respondTurnError(w http.ResponseWriter, sess *conversation.Session, reply assistant.Reply, err error) {
	status, code := http.StatusInternalServerError, "turn_failed"
	var (
		perr     *gateway.ProviderError
		batchErr *assistant.BatchError
	)
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.As(err, &perr), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusBadGateway, "model_unavailable"
	case errors.As(err, &batchErr):
		code = "batch_aborted"
	}
	s.logger.Warn("chat turn failed",
		zap.String("session_id", sess.ID),
		zap.String("code", code),
		zap.Error(err),
	)
	respondJSON(w, status, chatErrorResponse{
		errorResponse: errorResponse{Error: assistant.ApologyMessage(err), Code: code},
		SessionID:     sess.ID,
		Applied:       reply.Applied,
	})
}
