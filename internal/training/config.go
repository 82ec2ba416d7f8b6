package training

import (
	"fmt"

	"github.com/banshee-data/woodland.report/internal/config"
)

// Config holds the optimisation settings of a run.
type Config struct {
	Epochs          int
	BatchSize       int
	PatchesPerEpoch int
	ValPatches      int
	LearningRate    float64
	Workers         int
	PrefetchDepth   int
	// CheckpointEvery writes checkpoint_epoch_NNNN every N epochs; 0 disables.
	CheckpointEvery int
	SaveBest        bool
	// Patience stops the run after this many epochs without improvement; 0
	// disables early stopping.
	Patience int
	// MinDelta is the decrease in monitored loss that counts as an
	// improvement.
	MinDelta float64
}

// ConfigFromRun extracts the training settings of a run.
func ConfigFromRun(rc *config.RunConfig) Config {
	return Config{
		Epochs:          rc.GetEpochs(),
		BatchSize:       rc.GetBatchSize(),
		PatchesPerEpoch: rc.GetPatchesPerEpoch(),
		ValPatches:      rc.GetValPatches(),
		LearningRate:    rc.GetLearningRate(),
		Workers:         rc.GetWorkers(),
		PrefetchDepth:   rc.GetPrefetchDepth(),
		CheckpointEvery: rc.GetCheckpointEvery(),
		SaveBest:        rc.GetSaveBest(),
		Patience:        rc.GetPatience(),
		MinDelta:        rc.GetMinDelta(),
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.BatchSize < 1:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.PatchesPerEpoch < c.BatchSize:
		return fmt.Errorf("patches per epoch (%d) must be at least one batch (%d)", c.PatchesPerEpoch, c.BatchSize)
	case c.ValPatches < 0:
		return fmt.Errorf("validation patches must not be negative, got %d", c.ValPatches)
	case c.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	case c.CheckpointEvery < 0 || c.Patience < 0 || c.MinDelta < 0:
		return fmt.Errorf("checkpoint_every, patience and min_delta must not be negative")
	}
	return nil
}

// StepsPerEpoch is the number of optimiser steps in one epoch.
func (c Config) StepsPerEpoch() int {
	return (c.PatchesPerEpoch + c.BatchSize - 1) / c.BatchSize
}
