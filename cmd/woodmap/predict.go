package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/banshee-data/woodland.report/internal/config"
	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/inference"
	"github.com/banshee-data/woodland.report/internal/unet"
)

// assetDir is where derived rasters go by default: next to the scenes for
// a local store, the run's output directory otherwise.
func assetDir(rc *config.RunConfig, override string) string {
	if override != "" {
		return override
	}
	if rc.GetSceneBackend() == config.BackendLocal {
		return rc.GetSceneRoot()
	}
	return rc.GetOutputDir()
}

func (a *app) loadCheckpoint(path string) (*unet.Checkpoint, error) {
	data, err := a.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	ck, err := unet.Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return ck, nil
}

func runPredict(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "predict")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	ckPath := fset.String("checkpoint", "", "checkpoint file (required)")
	scenes := fset.String("scenes", "", "comma separated scene IDs (overrides the config)")
	out := fset.String("out", "", "directory for prediction rasters")
	window := fset.Int("window", 0, "tile size; defaults to the checkpoint patch size")
	stride := fset.Int("stride", 0, "tile stride; defaults to tile_stride or half the window")
	parallel := fset.Int("parallel", 1, "scenes predicted at once")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *ckPath == "" {
		fset.Usage()
		return fmt.Errorf("-checkpoint is required")
	}

	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	ck, err := a.loadCheckpoint(*ckPath)
	if err != nil {
		return err
	}
	set, err := features.LookupChannelSet(rc.GetChannelSet())
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

	if *stride == 0 && rc.TileStride != nil && *rc.TileStride > 0 {
		*stride = *rc.TileStride
	}
	eng, err := inference.NewEngine(store, ck, set, inference.Options{
		Workers:  rc.GetWorkers(),
		Window:   *window,
		Stride:   *stride,
		Scenes:   *parallel,
		Progress: a.env.Progress,
	})
	if err != nil {
		return err
	}

	dir := assetDir(rc, *out)
	results := eng.PredictScenes(ctx, ids, func(ctx context.Context, p *inference.Prediction) error {
		_, err := inference.Write(a.fs, dir, p)
		return err
	})

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(a.stdout, "%-24s FAILED: %v\n", r.SceneID, r.Err)
			continue
		}
		s := r.Summary
		fmt.Fprintf(a.stdout, "%-24s wooded=%d non_wooded=%d nodata=%d tiles=%d\n",
			r.SceneID, s.Wooded, s.NonWooded, s.NoData, s.Tiles)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenes failed", failed, len(results))
	}
	return ctx.Err()
}
