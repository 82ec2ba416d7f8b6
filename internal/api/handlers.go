package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/httputil"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/version"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, version.Current())
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxRunLimit {
			httputil.BadRequest(w, r, fmt.Sprintf("limit must be between 1 and %d", maxRunLimit))
			return
		}
		limit = n
	}
	runs, err := s.reg.ListRuns(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, r, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// lookupRun writes the error response itself and returns nil when the run
// cannot be served.
func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *db.Run {
	id := chi.URLParam(r, "runID")
	run, err := s.reg.GetRun(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		httputil.NotFound(w, r, "run not found")
		return nil
	case err != nil:
		httputil.InternalError(w, r, "failed to load run", err)
		return nil
	}
	return run
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if run := s.lookupRun(w, r); run != nil {
		httputil.WriteJSON(w, http.StatusOK, run)
	}
}

func (s *Server) listEpochs(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	epochs, err := s.reg.ListEpochs(r.Context(), run.RunID)
	if err != nil {
		httputil.InternalError(w, r, "failed to list epochs", err)
		return
	}
	if epochs == nil {
		epochs = []*db.Epoch{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"run_id": run.RunID, "epochs": epochs})
}

func (s *Server) listCheckpoints(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	cks, err := s.reg.ListCheckpoints(r.Context(), run.RunID)
	if err != nil {
		httputil.InternalError(w, r, "failed to list checkpoints", err)
		return
	}
	if cks == nil {
		cks = []*db.Checkpoint{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"run_id": run.RunID, "checkpoints": cks})
}

// lossChart renders the run's epoch history as an echarts page.
func (s *Server) lossChart(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	epochs, err := s.reg.ListEpochs(r.Context(), run.RunID)
	if err != nil {
		httputil.InternalError(w, r, "failed to list epochs", err)
		return
	}
	points := make([]monitoring.LossPoint, len(epochs))
	for i, e := range epochs {
		val := math.NaN()
		if e.ValLoss != nil {
			val = *e.ValLoss
		}
		points[i] = monitoring.LossPoint{Epoch: e.Epoch, Train: e.TrainLoss, Val: val}
	}
	title := run.Name
	if title == "" {
		title = run.RunID
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := monitoring.RenderLossChart(w, title, points); err != nil {
		logf("render loss chart %s: %v", run.RunID, err)
	}
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	evals, err := s.reg.ListEvaluations(r.Context(), db.EvaluationFilter{
		RunID:   q.Get("run_id"),
		SceneID: q.Get("scene_id"),
	})
	if err != nil {
		httputil.InternalError(w, r, "failed to list evaluations", err)
		return
	}
	if evals == nil {
		evals = []*db.Evaluation{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"evaluations": evals})
}
