// Package api implements the stateless, horizontally scalable HTTP surface
// the coordinator's "serve" subcommand exposes to the UI: workspace CRUD,
// the §6.7 SSE stream, and the workspace reverse proxy. It holds no locks
// and owns no background loop — every write here is a single repository
// call that the CDC pipeline (internal/eventlistener) turns into the SSE
// events clients actually see, matching the teacher's separation between
// its GraphQL resolvers (request/response only) and its monitor package
// (the stateful loop).
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"codehub/internal/agentclient"
	"codehub/internal/proxy"
	"codehub/internal/pubsub"
	"codehub/internal/repository"
	"codehub/internal/ttl"
)

// Server wires the repository, broker, and proxy into one HTTP surface.
type Server struct {
	repo            *repository.Repository
	ps              pubsub.PubSub
	proxy           *proxy.Proxy
	logger          *zap.Logger
	sseHeartbeat    time.Duration
}

// New builds a Server. agent and recorder feed the reverse proxy's upstream
// resolution and activity-tracking side effect respectively.
func New(repo *repository.Repository, ps pubsub.PubSub, agent *agentclient.Client, recorder *ttl.Recorder, sseHeartbeat time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		repo:         repo,
		ps:           ps,
		proxy:        proxy.New(agent, recorder, logger),
		logger:       logger,
		sseHeartbeat: sseHeartbeat,
	}
}

// Router builds the chi router exposing the workspace CRUD surface (§3.1),
// the SSE stream (§6.7), and the reverse proxy (§6.3).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1/workspaces", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Patch("/", s.handleUpdateDesiredState)
			r.Delete("/", s.handleSoftDelete)
		})
	})

	r.Get("/api/v1/events", s.handleSSE)

	r.Route("/proxy/{id}", func(r chi.Router) {
		r.Handle("/*", s.proxy.Handler())
	})

	return r
}
