package agentserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"codehub/internal/agentrt"
)

// observeResponse and observedWorkspace mirror agentclient's wire DTOs
// exactly (§6.2): this package and internal/agentclient are the two ends of
// the same contract and must never drift independently.
type observeResponse struct {
	Workspaces []observedWorkspace `json:"workspaces"`
}

type observedWorkspace struct {
	WorkspaceID string             `json:"workspace_id"`
	Container   *containerObserved `json:"container"`
	Volume      *volumeObserved    `json:"volume"`
	Archive     *archiveObserved   `json:"archive"`
	Restore     *restoreObserved   `json:"restore"`
	Error       *errorObserved     `json:"error"`
}

type containerObserved struct {
	Running bool `json:"running"`
	Healthy bool `json:"healthy"`
}

type volumeObserved struct {
	Exists bool `json:"exists"`
}

type archiveObserved struct {
	Exists     bool   `json:"exists"`
	ArchiveKey string `json:"archive_key"`
}

type restoreObserved struct {
	RestoreOpID string `json:"restore_op_id"`
	ArchiveKey  string `json:"archive_key"`
}

type errorObserved struct {
	Operation   string    `json:"operation"`
	ErrorCode   int       `json:"error_code"`
	ErrorAt     time.Time `json:"error_at"`
	ArchiveOpID string    `json:"archive_op_id,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	observed, err := s.runtime.Observe(r.Context())
	if err != nil {
		s.logger.Error("agent: observe failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "OBSERVE_FAILED", err.Error())
		return
	}

	resp := observeResponse{Workspaces: make([]observedWorkspace, 0, len(observed))}
	for _, ow := range observed {
		resp.Workspaces = append(resp.Workspaces, toWireWorkspace(ow))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toWireWorkspace(ow agentrt.ObservedWorkspace) observedWorkspace {
	out := observedWorkspace{WorkspaceID: ow.WorkspaceID}
	if ow.Container != nil {
		out.Container = &containerObserved{Running: ow.Container.Running, Healthy: ow.Container.Healthy}
	}
	if ow.Volume != nil {
		out.Volume = &volumeObserved{Exists: ow.Volume.Exists}
	}
	if ow.Archive != nil {
		out.Archive = &archiveObserved{Exists: ow.Archive.Exists, ArchiveKey: ow.Archive.ArchiveKey}
	}
	if ow.Restore != nil {
		out.Restore = &restoreObserved{RestoreOpID: ow.Restore.RestoreOpID, ArchiveKey: ow.Restore.ArchiveKey}
	}
	if ow.Error != nil {
		out.Error = &errorObserved{
			Operation:   ow.Error.Operation,
			ErrorCode:   int(ow.Error.Code),
			ErrorAt:     ow.Error.ErrorAt,
			ArchiveOpID: ow.Error.ArchiveOpID,
		}
	}
	return out
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.runtime.Provision(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ArchiveKey  string `json:"archive_key"`
		RestoreOpID string `json:"restore_op_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	status, err := s.runtime.Start(r.Context(), id, req.ArchiveKey, req.RestoreOpID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.runtime.Stop(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.runtime.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ArchiveOpID string `json:"archive_op_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ArchiveOpID == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "archive_op_id is required")
		return
	}
	status, err := s.runtime.Archive(r.Context(), id, req.ArchiveOpID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		ArchiveKey  string `json:"archive_key"`
		RestoreOpID string `json:"restore_op_id"`
	}
	if err := decodeBody(r, &req); err != nil || req.ArchiveKey == "" || req.RestoreOpID == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "archive_key and restore_op_id are required")
		return
	}
	status, err := s.runtime.Restore(r.Context(), id, req.ArchiveKey, req.RestoreOpID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	s.writeResult(w, id, status)
}

func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	archiveKey := r.URL.Query().Get("archive_key")
	if archiveKey == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "archive_key is required")
		return
	}
	if err := s.runtime.DeleteArchive(r.Context(), archiveKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, "ARCHIVE_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleUpstream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	up, err := s.runtime.Upstream(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "VOLUME_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname": up.Hostname,
		"port":     up.Port,
		"url":      "http://" + up.Hostname + ":" + itoa(up.Port),
	})
}

func (s *Server) handleGC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArchiveKeys         []string `json:"archive_keys"`
		ProtectedWorkspaces []string `json:"protected_workspaces"`
		RetentionCount      int      `json:"retention_count"`
		OrphanGraceSeconds  int64    `json:"orphan_grace_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	err := s.runtime.GC(r.Context(), agentrt.GCRequest{
		ArchiveKeys:         req.ArchiveKeys,
		ProtectedWorkspaces: req.ProtectedWorkspaces,
		RetentionCount:      req.RetentionCount,
		OrphanGrace:         time.Duration(req.OrphanGraceSeconds) * time.Second,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "JOB_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
