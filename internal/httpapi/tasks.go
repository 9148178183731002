package httpapi

import (
	"net/http"
	"strings"

	"github.com/antoniostano/taskpilot/internal/tasks"
)

type listTasksResponse struct {
	UserID string       `json:"user_id"`
	Tasks  []tasks.Task `json:"tasks"`
}

type listProjectsResponse struct {
	UserID   string          `json:"user_id"`
	Projects []tasks.Project `json:"projects"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter user_id is required")
		return
	}
	snap, err := s.assistant.Snapshot(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if snap.Tasks == nil {
		snap.Tasks = []tasks.Task{}
	}
	respondJSON(w, http.StatusOK, listTasksResponse{UserID: userID, Tasks: snap.Tasks})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameter user_id is required")
		return
	}
	snap, err := s.assistant.Snapshot(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if snap.Projects == nil {
		snap.Projects = []tasks.Project{}
	}
	respondJSON(w, http.StatusOK, listProjectsResponse{UserID: userID, Projects: snap.Projects})
}
