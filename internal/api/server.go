// Package api serves the run registry read-only over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/httputil"
)

// Registry is the read side of the run registry.
type Registry interface {
	ListRuns(ctx context.Context, limit int) ([]*db.Run, error)
	GetRun(ctx context.Context, runID string) (*db.Run, error)
	ListEpochs(ctx context.Context, runID string) ([]*db.Epoch, error)
	ListCheckpoints(ctx context.Context, runID string) ([]*db.Checkpoint, error)
	ListEvaluations(ctx context.Context, f db.EvaluationFilter) ([]*db.Evaluation, error)
}

type Server struct {
	reg Registry
}

func NewServer(reg Registry) *Server {
	return &Server{reg: reg}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.showVersion)
		r.Get("/runs", s.listRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Get("/epochs", s.listEpochs)
			r.Get("/checkpoints", s.listCheckpoints)
			r.Get("/loss", s.lossChart)
		})
		r.Get("/evaluations", s.listEvaluations)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, r, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httputil.MethodNotAllowed(w, r)
	})
	return r
}
