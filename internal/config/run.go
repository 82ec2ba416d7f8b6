package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/woodmap.defaults.json"

// Scene backends understood by the scene store.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
	BackendSTAC  = "stac"
)

// RunConfig is the explicit configuration value for a training or inference
// run. Omitted fields fall back to the defaults returned by the Get* methods,
// so partial JSON files are safe.
type RunConfig struct {
	RunName *string `json:"run_name,omitempty"`

	// Scene access
	SceneRoot    *string  `json:"scene_root,omitempty"`    // directory, base URL, or STAC item root
	SceneBackend *string  `json:"scene_backend,omitempty"` // local | http | stac
	Scenes       []string `json:"scenes,omitempty"`        // empty means discover
	CacheEntries *int     `json:"cache_entries,omitempty"`

	// Model
	ChannelSet  *string `json:"channel_set,omitempty"` // bands | indices | extended | temporal
	PatchSize   *int    `json:"patch_size,omitempty"`
	BaseFilters *int    `json:"base_filters,omitempty"`
	Depth       *int    `json:"depth,omitempty"`

	// Sampling
	MinCoverage    *float64 `json:"min_coverage,omitempty"`
	WoodedFraction *float64 `json:"wooded_fraction,omitempty"`
	MaxAttempts    *int     `json:"max_attempts,omitempty"`
	Augment        *bool    `json:"augment,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	PrefetchDepth  *int     `json:"prefetch_depth,omitempty"`

	// Training
	Epochs          *int     `json:"epochs,omitempty"`
	BatchSize       *int     `json:"batch_size,omitempty"`
	PatchesPerEpoch *int     `json:"patches_per_epoch,omitempty"`
	ValPatches      *int     `json:"val_patches,omitempty"`
	LearningRate    *float64 `json:"learning_rate,omitempty"`
	CheckpointEvery *int     `json:"checkpoint_every,omitempty"` // 0 disables periodic checkpoints
	SaveBest        *bool    `json:"save_best,omitempty"`
	Patience        *int     `json:"patience,omitempty"`  // 0 disables early stopping
	MinDelta        *float64 `json:"min_delta,omitempty"` // loss decrease that counts as improvement
	Workers         *int     `json:"workers,omitempty"`   // 0 means runtime.NumCPU

	// Inference
	TileStride *int `json:"tile_stride,omitempty"` // 0 means patch_size/2

	OutputDir *string `json:"output_dir,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// DefaultRunConfig returns a RunConfig with every field set to its default.
func DefaultRunConfig() *RunConfig {
	e := EmptyRunConfig()
	return &RunConfig{
		RunName:         ptrString(e.GetRunName()),
		SceneRoot:       ptrString(e.GetSceneRoot()),
		SceneBackend:    ptrString(e.GetSceneBackend()),
		CacheEntries:    ptrInt(e.GetCacheEntries()),
		ChannelSet:      ptrString(e.GetChannelSet()),
		PatchSize:       ptrInt(e.GetPatchSize()),
		BaseFilters:     ptrInt(e.GetBaseFilters()),
		Depth:           ptrInt(e.GetDepth()),
		MinCoverage:     ptrFloat64(e.GetMinCoverage()),
		WoodedFraction:  ptrFloat64(e.GetWoodedFraction()),
		MaxAttempts:     ptrInt(e.GetMaxAttempts()),
		Augment:         ptrBool(e.GetAugment()),
		Seed:            ptrInt64(e.GetSeed()),
		PrefetchDepth:   ptrInt(e.GetPrefetchDepth()),
		Epochs:          ptrInt(e.GetEpochs()),
		BatchSize:       ptrInt(e.GetBatchSize()),
		PatchesPerEpoch: ptrInt(e.GetPatchesPerEpoch()),
		ValPatches:      ptrInt(e.GetValPatches()),
		LearningRate:    ptrFloat64(e.GetLearningRate()),
		CheckpointEvery: ptrInt(e.GetCheckpointEvery()),
		SaveBest:        ptrBool(e.GetSaveBest()),
		Patience:        ptrInt(e.GetPatience()),
		MinDelta:        ptrFloat64(e.GetMinDelta()),
		Workers:         ptrInt(0),
		TileStride:      ptrInt(0),
		OutputDir:       ptrString(e.GetOutputDir()),
	}
}

// LoadRunConfig loads a RunConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	switch b := c.GetSceneBackend(); b {
	case BackendLocal, BackendHTTP, BackendSTAC:
	default:
		return fmt.Errorf("scene_backend must be one of local, http, stac; got %q", b)
	}

	depth := c.GetDepth()
	if depth < 1 || depth > 6 {
		return fmt.Errorf("depth must be between 1 and 6, got %d", depth)
	}
	patch := c.GetPatchSize()
	if patch < 4 {
		return fmt.Errorf("patch_size must be at least 4, got %d", patch)
	}
	if factor := 1 << (depth - 1); patch%factor != 0 {
		return fmt.Errorf("patch_size %d must be divisible by %d for depth %d", patch, factor, depth)
	}
	if c.GetBaseFilters() < 1 {
		return fmt.Errorf("base_filters must be positive, got %d", c.GetBaseFilters())
	}

	if v := c.GetMinCoverage(); v < 0 || v > 1 {
		return fmt.Errorf("min_coverage must be between 0 and 1, got %f", v)
	}
	if v := c.GetWoodedFraction(); v < 0 || v > 1 {
		return fmt.Errorf("wooded_fraction must be between 0 and 1, got %f", v)
	}
	if c.GetMaxAttempts() < 1 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.GetMaxAttempts())
	}
	if c.GetPrefetchDepth() < 1 {
		return fmt.Errorf("prefetch_depth must be positive, got %d", c.GetPrefetchDepth())
	}

	if c.GetEpochs() < 1 {
		return fmt.Errorf("epochs must be positive, got %d", c.GetEpochs())
	}
	if c.GetBatchSize() < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.GetBatchSize())
	}
	if c.GetPatchesPerEpoch() < c.GetBatchSize() {
		return fmt.Errorf("patches_per_epoch (%d) must be at least batch_size (%d)", c.GetPatchesPerEpoch(), c.GetBatchSize())
	}
	if c.GetValPatches() < 0 {
		return fmt.Errorf("val_patches must be non-negative, got %d", c.GetValPatches())
	}
	if lr := c.GetLearningRate(); lr <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", lr)
	}
	if c.GetCheckpointEvery() < 0 {
		return fmt.Errorf("checkpoint_every must be non-negative, got %d", c.GetCheckpointEvery())
	}
	if c.GetPatience() < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", c.GetPatience())
	}
	if d := c.GetMinDelta(); d < 0 || math.IsNaN(d) {
		return fmt.Errorf("min_delta must be non-negative, got %g", d)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.CacheEntries != nil && *c.CacheEntries < 0 {
		return fmt.Errorf("cache_entries must be non-negative, got %d", *c.CacheEntries)
	}

	if c.TileStride != nil && *c.TileStride != 0 {
		if *c.TileStride < 1 || *c.TileStride >= patch {
			return fmt.Errorf("tile_stride must be in [1, patch_size), got %d", *c.TileStride)
		}
	}
	return nil
}

// GetRunName returns the run name or the default.
func (c *RunConfig) GetRunName() string {
	if c.RunName == nil || *c.RunName == "" {
		return "woodmap"
	}
	return *c.RunName
}

// GetSceneRoot returns the scene locator or the default.
func (c *RunConfig) GetSceneRoot() string {
	if c.SceneRoot == nil || *c.SceneRoot == "" {
		return "scenes"
	}
	return *c.SceneRoot
}

// GetSceneBackend returns the scene backend or the default.
func (c *RunConfig) GetSceneBackend() string {
	if c.SceneBackend == nil || *c.SceneBackend == "" {
		return BackendLocal
	}
	return *c.SceneBackend
}

// GetCacheEntries returns the window cache size or the default.
func (c *RunConfig) GetCacheEntries() int {
	if c.CacheEntries == nil {
		return 64
	}
	return *c.CacheEntries
}

// GetChannelSet returns the channel set name or the default.
func (c *RunConfig) GetChannelSet() string {
	if c.ChannelSet == nil || *c.ChannelSet == "" {
		return "indices"
	}
	return *c.ChannelSet
}

// GetPatchSize returns the patch size or the default.
func (c *RunConfig) GetPatchSize() int {
	if c.PatchSize == nil {
		return 64
	}
	return *c.PatchSize
}

// GetBaseFilters returns the first-level filter count or the default.
func (c *RunConfig) GetBaseFilters() int {
	if c.BaseFilters == nil {
		return 16
	}
	return *c.BaseFilters
}

// GetDepth returns the number of U-Net levels or the default.
func (c *RunConfig) GetDepth() int {
	if c.Depth == nil {
		return 3
	}
	return *c.Depth
}

// GetMinCoverage returns the minimum labelled fraction per patch or the default.
func (c *RunConfig) GetMinCoverage() float64 {
	if c.MinCoverage == nil {
		return 0.1
	}
	return *c.MinCoverage
}

// GetWoodedFraction returns the share of draws from the wooded stratum or the default.
func (c *RunConfig) GetWoodedFraction() float64 {
	if c.WoodedFraction == nil {
		return 0.5
	}
	return *c.WoodedFraction
}

// GetMaxAttempts returns the rejection sampling limit per patch or the default.
func (c *RunConfig) GetMaxAttempts() int {
	if c.MaxAttempts == nil {
		return 200
	}
	return *c.MaxAttempts
}

// GetAugment returns whether flip/rotate augmentation is enabled.
func (c *RunConfig) GetAugment() bool {
	if c.Augment == nil {
		return true
	}
	return *c.Augment
}

// GetSeed returns the sampling seed or the default.
func (c *RunConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 42
	}
	return *c.Seed
}

// GetPrefetchDepth returns the prefetch queue capacity or the default.
func (c *RunConfig) GetPrefetchDepth() int {
	if c.PrefetchDepth == nil {
		return 4
	}
	return *c.PrefetchDepth
}

// GetEpochs returns the epoch count or the default.
func (c *RunConfig) GetEpochs() int {
	if c.Epochs == nil {
		return 50
	}
	return *c.Epochs
}

// GetBatchSize returns the mini-batch size or the default.
func (c *RunConfig) GetBatchSize() int {
	if c.BatchSize == nil {
		return 16
	}
	return *c.BatchSize
}

// GetPatchesPerEpoch returns the number of training patches per epoch or the default.
func (c *RunConfig) GetPatchesPerEpoch() int {
	if c.PatchesPerEpoch == nil {
		return 1000
	}
	return *c.PatchesPerEpoch
}

// GetValPatches returns the size of the fixed validation batch or the default.
func (c *RunConfig) GetValPatches() int {
	if c.ValPatches == nil {
		return 64
	}
	return *c.ValPatches
}

// GetLearningRate returns the Adam learning rate or the default.
func (c *RunConfig) GetLearningRate() float64 {
	if c.LearningRate == nil {
		return 1e-3
	}
	return *c.LearningRate
}

// GetCheckpointEvery returns the periodic checkpoint interval in epochs.
func (c *RunConfig) GetCheckpointEvery() int {
	if c.CheckpointEvery == nil {
		return 0
	}
	return *c.CheckpointEvery
}

// GetSaveBest returns whether to checkpoint on improved validation loss.
func (c *RunConfig) GetSaveBest() bool {
	if c.SaveBest == nil {
		return true
	}
	return *c.SaveBest
}

// GetPatience returns the early stopping patience or the default.
func (c *RunConfig) GetPatience() int {
	if c.Patience == nil {
		return 10
	}
	return *c.Patience
}

// GetMinDelta returns the minimum improvement in monitored loss.
func (c *RunConfig) GetMinDelta() float64 {
	if c.MinDelta == nil {
		return 0
	}
	return *c.MinDelta
}

// GetWorkers returns the worker count, resolving 0 to the CPU count.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetTileStride returns the inference stride, resolving 0 to half the patch.
func (c *RunConfig) GetTileStride() int {
	if c.TileStride == nil || *c.TileStride == 0 {
		s := c.GetPatchSize() / 2
		if s < 1 {
			s = 1
		}
		return s
	}
	return *c.TileStride
}

// GetOutputDir returns the output directory or the default.
func (c *RunConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "output"
	}
	return *c.OutputDir
}
