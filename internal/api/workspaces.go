package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"codehub/internal/idgen"
	"codehub/internal/workspace"
)

type createRequest struct {
	OwnerUserID string `json:"owner_user_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Memo        string `json:"memo"`
}

type updateDesiredStateRequest struct {
	DesiredState string `json:"desired_state"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OwnerUserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "owner_user_id and name are required")
		return
	}

	id, err := idgen.NewWorkspaceID()
	if err != nil {
		s.logger.Error("api: generating workspace id", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not allocate workspace id")
		return
	}

	ws := &workspace.Workspace{
		ID:           id,
		OwnerUserID:  req.OwnerUserID,
		Name:         req.Name,
		Description:  req.Description,
		Memo:         req.Memo,
		DesiredState: workspace.DesiredStandby,
		Phase:        workspace.PhasePending,
		Operation:    workspace.OpNone,
	}
	if err := s.repo.Create(r.Context(), ws); err != nil {
		s.logger.Error("api: creating workspace", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create workspace")
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner_user_id")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner_user_id query parameter is required")
		return
	}
	workspaces, err := s.repo.ListByOwner(r.Context(), owner)
	if err != nil {
		s.logger.Error("api: listing workspaces", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list workspaces")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workspaces": workspaces})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ws, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("api: getting workspace", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not get workspace")
		return
	}
	if ws == nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleUpdateDesiredState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateDesiredStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	desired := workspace.DesiredState(req.DesiredState)
	switch desired {
	case workspace.DesiredArchived, workspace.DesiredStandby, workspace.DesiredRunning, workspace.DesiredDeleted:
	default:
		writeError(w, http.StatusBadRequest, "desired_state must be one of ARCHIVED, STANDBY, RUNNING, DELETED")
		return
	}

	if err := s.repo.UpdateDesiredState(r.Context(), id, desired); err != nil {
		s.logger.Error("api: updating desired state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update desired state")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.SoftDelete(r.Context(), id); err != nil {
		s.logger.Error("api: soft-deleting workspace", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not delete workspace")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"message": message}})
}
