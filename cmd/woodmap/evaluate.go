package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/metrics"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/scene"
)

type sceneMetrics struct {
	SceneID        string         `json:"scene_id"`
	RunID          string         `json:"run_id,omitempty"`
	CheckpointPath string         `json:"checkpoint_path,omitempty"`
	Result         metrics.Result `json:"metrics"`
}

func runEvaluate(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "evaluate")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	scenes := fset.String("scenes", "", "comma separated scene IDs (overrides the config)")
	out := fset.String("out", "", "directory for metrics JSON")
	runID := fset.String("run", "", "registry run the predictions came from")
	ckPath := fset.String("checkpoint", "", "checkpoint the predictions came from")
	record := fset.Bool("record", true, "record evaluations in the registry")
	if err := fset.Parse(args); err != nil {
		return err
	}

	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	store, err := a.store(rc)
	if err != nil {
		return err
	}
	ids, err := sceneIDs(ctx, store, rc, splitList(*scenes))
	if err != nil {
		return err
	}

	var reg *db.DB
	if *record {
		if reg, err = a.openRegistry(); err != nil {
			return err
		}
		defer reg.Close()
	}

	dir := assetDir(rc, *out)
	var total metrics.Matrix
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := a.evaluateScene(ctx, store, dir, id, *runID, *ckPath)
		var ile *scene.InsufficientLabelError
		switch {
		case errors.As(err, &ile):
			monitoring.Warnf("evaluate", "skipping %s: %v", id, err)
			continue
		case err != nil:
			failed++
			fmt.Fprintf(a.stdout, "%-24s FAILED: %v\n", id, err)
			continue
		}
		total.Add(res.Matrix)
		fmt.Fprintf(a.stdout, "%-24s %s\n", id, res)
		if reg != nil {
			if err := reg.InsertEvaluation(ctx, db.NewEvaluation(*runID, id, *ckPath, res)); err != nil {
				monitoring.Warnf("evaluate", "record %s: %v", id, err)
			}
		}
	}
	fmt.Fprintf(a.stdout, "%-24s %s\n", "TOTAL", metrics.Compute(total))
	if failed > 0 {
		return fmt.Errorf("%d of %d scenes failed", failed, len(ids))
	}
	return nil
}

// evaluateScene scores the stored prediction of id and writes
// {id}_metrics.json under dir.
func (a *app) evaluateScene(ctx context.Context, store *scene.Store, dir, id, runID, ckPath string) (metrics.Result, error) {
	pred, ref, err := store.Comparison(ctx, id)
	if err != nil {
		return metrics.Result{}, err
	}
	m, err := metrics.Confusion(pred, ref)
	if err != nil {
		return metrics.Result{}, fmt.Errorf("scene %s: %w", id, err)
	}
	res := metrics.Compute(m)

	data, err := json.MarshalIndent(sceneMetrics{SceneID: id, RunID: runID, CheckpointPath: ckPath, Result: res}, "", "  ")
	if err != nil {
		return metrics.Result{}, err
	}
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return metrics.Result{}, fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, id+"_metrics.json")
	if err := fsutil.WriteFileAtomic(a.fs, path, append(data, '\n'), 0o644); err != nil {
		return metrics.Result{}, fmt.Errorf("write %s: %w", path, err)
	}
	return res, nil
}
