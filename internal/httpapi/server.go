package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/assistant"
	"github.com/antoniostano/taskpilot/internal/config"
	"github.com/antoniostano/taskpilot/internal/conversation"
	"github.com/antoniostano/taskpilot/internal/notify"
	"github.com/antoniostano/taskpilot/internal/observability"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg       config.Config
	sessions  *conversation.Manager
	assistant *assistant.Service
	hub       *notify.Hub
	store     Pinger
	provider  string
	metrics   *observability.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

type Deps struct {
	Sessions  *conversation.Manager
	Assistant *assistant.Service
	Hub       *notify.Hub
	Store     Pinger
	Provider  string
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       cfg,
		sessions:  deps.Sessions,
		assistant: deps.Assistant,
		hub:       deps.Hub,
		store:     deps.Store,
		provider:  deps.Provider,
		metrics:   deps.Metrics,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only subscribe from the same origin unless explicitly allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/confirm", s.handleConfirm)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/projects", s.handleListProjects)
	r.Get("/v1/events/ws", s.handleEventsWS)
	r.Get("/v1/stats/turns", s.handleTurnStats)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"store_driver":   s.cfg.StoreDriver,
		"model_provider": s.provider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"store_driver": s.cfg.StoreDriver,
	})
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

type createSessionResponse struct {
	conversation.Info
	InactivityTTLMS int64 `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	sess := s.sessions.Create(req.UserID)
	s.observeSession("created")

	respondJSON(w, http.StatusCreated, createSessionResponse{
		Info:            sess.Info(),
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	info, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.observeSession("ended")
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleTurnStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{Stages: []observability.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.TurnStageSnapshot())
}

func (s *Server) observeSession(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues(event).Inc()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
