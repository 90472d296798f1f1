// Package agentserver exposes an agentrt.Runtime backend over the HTTP
// contract spec.md §6.1 defines for a Workspace Runtime Agent. cmd/agent
// wires one concrete backend (docker today, kubernetes later) behind this
// router; internal/agentclient is the coordinator-side counterpart that
// speaks the same wire shapes.
package agentserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"codehub/internal/agentrt"
)

// Server adapts an agentrt.Runtime to the coordinator-facing HTTP contract.
type Server struct {
	runtime agentrt.Runtime
	logger  *zap.Logger
}

// New builds a Server over runtime. logger may be nil (defaults to a no-op
// logger).
func New(runtime agentrt.Runtime, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{runtime: runtime, logger: logger}
}

// Router builds the chi router exposing §6.1's endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1/workspaces", func(r chi.Router) {
		r.Get("/", s.handleObserve)
		r.Delete("/archives", s.handleDeleteArchive)
		r.Post("/gc", s.handleGC)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/provision", s.handleProvision)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Delete("/", s.handleDelete)
			r.Post("/archive", s.handleArchive)
			r.Post("/restore", s.handleRestore)
			r.Get("/upstream", s.handleUpstream)
		})
	})

	return r
}

func statusString(st agentrt.Status) string {
	switch st {
	case agentrt.StatusCompleted:
		return "completed"
	case agentrt.StatusAlreadyExists:
		return "already_exists"
	default:
		return "in_progress"
	}
}

func (s *Server) writeResult(w http.ResponseWriter, workspaceID string, status agentrt.Status) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       statusString(status),
		"workspace_id": workspaceID,
	})
}

func (s *Server) writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	writeJSON(w, httpStatus, map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, out interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
