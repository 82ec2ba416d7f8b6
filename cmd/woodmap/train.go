package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/woodland.report/internal/config"
	"github.com/banshee-data/woodland.report/internal/db"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/sampler"
	"github.com/banshee-data/woodland.report/internal/training"
	"github.com/banshee-data/woodland.report/internal/unet"
	"github.com/banshee-data/woodland.report/internal/version"
)

func runTrain(ctx context.Context, a *app, args []string) error {
	fset := newFlagSet(a, "train")
	cfgPath := fset.String("config", "", "run config JSON (defaults when empty)")
	resume := fset.String("resume", "", "checkpoint to resume from")
	scenes := fset.String("scenes", "", "comma separated scene IDs (overrides the config)")
	plot := fset.Bool("plot", true, "also write loss.png")
	epochs := fset.Int("epochs", 0, "total epochs, overriding the config (use to extend a resumed run)")
	if err := fset.Parse(args); err != nil {
		return err
	}

	rc, err := loadRunConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *epochs > 0 {
		rc.Epochs = epochs
	}
	store, err := a.store(rc)
	if err != nil {
		return err
	}
	ids, err := sceneIDs(ctx, store, rc, splitList(*scenes))
	if err != nil {
		return err
	}
	scfg, err := sampler.ConfigFromRun(rc)
	if err != nil {
		return err
	}
	smp, err := sampler.New(ctx, store, ids, scfg)
	if err != nil {
		return err
	}

	arch := unet.Arch{InChannels: scfg.Channels.Len(), BaseFilters: rc.GetBaseFilters(), Depth: rc.GetDepth()}
	model, err := unet.New(arch, rc.GetSeed())
	if err != nil {
		return err
	}

	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	runID := ""
	if *resume != "" {
		data, err := a.fs.ReadFile(*resume)
		if err != nil {
			return fmt.Errorf("read checkpoint %s: %w", *resume, err)
		}
		ck, err := unet.Load(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("checkpoint %s: %w", *resume, err)
		}
		runID = ck.RunID
	}
	runID, err = registerRun(ctx, reg, runID, rc.GetRunName(), scfg, arch, rc)
	if err != nil {
		return err
	}

	tr, err := training.NewTrainer(training.ConfigFromRun(rc), smp, model, training.Options{
		FS:           a.fs,
		OutputDir:    rc.GetOutputDir(),
		Recorder:     reg,
		Clock:        a.clock,
		RunID:        runID,
		BuildVersion: version.Current().String(),
		Progress:     a.env.Progress,
		PlotPNG:      *plot,
	})
	if err != nil {
		return err
	}
	if *resume != "" {
		if err := tr.Resume(*resume); err != nil {
			finishRun(ctx, reg, runID, err)
			return err
		}
	}

	res, err := tr.Run(ctx)
	finishRun(ctx, reg, runID, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "run %s: %d epochs, %d steps, best loss %.5f\n", res.RunID, res.Epochs, res.Steps, res.BestLoss)
	if res.StoppedEarly {
		fmt.Fprintln(a.stdout, "stopped early: no improvement within patience")
	}
	fmt.Fprintf(a.stdout, "final checkpoint: %s\n", res.FinalPath)
	if res.BestPath != "" {
		fmt.Fprintf(a.stdout, "best checkpoint:  %s\n", res.BestPath)
	}
	return nil
}

// registerRun creates the registry row, reusing an existing one when a
// resumed checkpoint names a known run.
func registerRun(ctx context.Context, reg *db.DB, runID, name string, scfg sampler.Config, arch unet.Arch, rc *config.RunConfig) (string, error) {
	if runID != "" {
		if _, err := reg.GetRun(ctx, runID); err == nil {
			return runID, nil
		} else if !errors.Is(err, db.ErrNotFound) {
			return "", err
		}
	}
	cfgJSON, err := json.Marshal(rc)
	if err != nil {
		return "", fmt.Errorf("encode run config: %w", err)
	}
	run := &db.Run{
		RunID:        runID,
		Name:         name,
		ChannelSet:   scfg.Channels.ID,
		PatchSize:    scfg.PatchSize,
		BaseFilters:  arch.BaseFilters,
		Depth:        arch.Depth,
		ConfigJSON:   cfgJSON,
		BuildVersion: version.Current().Version,
	}
	if err := reg.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("register run: %w", err)
	}
	return run.RunID, nil
}

func finishRun(ctx context.Context, reg *db.DB, runID string, runErr error) {
	// The run context may already be cancelled.
	if err := reg.FinishRun(context.WithoutCancel(ctx), runID, runErr); err != nil {
		monitoring.Warnf("train", "finish run %s: %v", runID, err)
	}
}
