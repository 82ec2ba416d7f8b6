// Package sampler draws training patches from a pool of scenes.
//
// Sampling is seeded and sequential: the same seed and pool always produce
// the same patch sequence, including when patches are prefetched.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/banshee-data/woodland.report/internal/config"
	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/scene"
)

var logf = monitoring.Component("sampler")

// ErrNoEligiblePatch is returned when no candidate passed the coverage and
// stratum checks within the attempt budget.
var ErrNoEligiblePatch = errors.New("no eligible patch")

// Config controls patch selection.
type Config struct {
	PatchSize int
	Channels  features.ChannelSet
	// MinCoverage is the minimum fraction of labelled, valid pixels.
	MinCoverage float64
	// WoodedFraction is the probability of drawing from the stratum of
	// patches that contain wooded pixels.
	WoodedFraction float64
	// MaxAttempts bounds candidates per draw and stratum.
	MaxAttempts int
	Augment     bool
	Seed        int64
}

// ConfigFromRun extracts the sampling settings of a run.
func ConfigFromRun(rc *config.RunConfig) (Config, error) {
	set, err := features.LookupChannelSet(rc.GetChannelSet())
	if err != nil {
		return Config{}, err
	}
	return Config{
		PatchSize:      rc.GetPatchSize(),
		Channels:       set,
		MinCoverage:    rc.GetMinCoverage(),
		WoodedFraction: rc.GetWoodedFraction(),
		MaxAttempts:    rc.GetMaxAttempts(),
		Augment:        rc.GetAugment(),
		Seed:           rc.GetSeed(),
	}, nil
}

// Patch is one training sample. Features are channel-major, C x Size x Size.
type Patch struct {
	SceneID  string
	Origin   raster.Window
	Size     int
	Channels int
	Features []float32
	Labels   []uint8
	// Mask marks pixels that count towards the loss: labelled and valid.
	Mask []bool
}

// Coverage returns the fraction of pixels in the loss mask.
func (p *Patch) Coverage() float64 {
	n := 0
	for _, m := range p.Mask {
		if m {
			n++
		}
	}
	return float64(n) / float64(len(p.Mask))
}

// HasWooded reports whether any masked pixel is labelled wooded.
func (p *Patch) HasWooded() bool {
	for i, m := range p.Mask {
		if m && p.Labels[i] == raster.LabelWooded {
			return true
		}
	}
	return false
}

type stratum int

const (
	woodedFree stratum = iota
	containsWooded
)

func (s stratum) String() string {
	if s == containsWooded {
		return "contains-wooded"
	}
	return "wooded-free"
}

// Sampler is a lazy, unbounded patch iterator. It is not safe for concurrent
// use; Prefetch runs it on a single producer goroutine.
type Sampler struct {
	store  *scene.Store
	cfg    Config
	scenes []*scene.Scene
	rng    *rand.Rand
	// empty marks strata that no scene in the pool can ever yield.
	empty  [2]bool
}

// New validates cfg and loads every scene of pool. Misaligned scenes and
// scenes without usable labels are excluded with a warning; other errors
// are returned.
func New(ctx context.Context, store *scene.Store, pool []string, cfg Config) (*Sampler, error) {
	if cfg.PatchSize < 1 {
		return nil, fmt.Errorf("patch size must be positive, got %d", cfg.PatchSize)
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.Channels.Len() == 0 {
		return nil, fmt.Errorf("empty channel set")
	}
	s := &Sampler{store: store, cfg: cfg}
	var woodedPixels int
	for _, id := range pool {
		sc, err := store.LoadScene(ctx, id)
		var ae *scene.AlignmentError
		if errors.As(err, &ae) {
			monitoring.Warnf("sampler", "excluding %s: %v", id, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		counts, err := store.CountLabels(ctx, id)
		if err != nil {
			var ile *scene.InsufficientLabelError
			if errors.As(err, &ile) {
				monitoring.Warnf("sampler", "excluding %s: %v", id, err)
				continue
			}
			return nil, err
		}
		if sc.Grid.Width < cfg.PatchSize || sc.Grid.Height < cfg.PatchSize {
			monitoring.Warnf("sampler", "excluding %s: %dx%d is smaller than the %d pixel patch",
				id, sc.Grid.Width, sc.Grid.Height, cfg.PatchSize)
			continue
		}
		if cfg.Channels.NeedsTemporal() && !sc.HasTemporal() {
			monitoring.Warnf("sampler", "excluding %s: channel set %s needs temporal layers", id, cfg.Channels.ID)
			continue
		}
		s.scenes = append(s.scenes, sc)
		woodedPixels += counts.Wooded
	}
	if len(s.scenes) == 0 {
		return nil, fmt.Errorf("no eligible scenes in a pool of %d", len(pool))
	}
	if woodedPixels == 0 {
		s.empty[containsWooded] = true
		logf("no wooded reference pixels in the pool; drawing wooded-free patches only")
	}
	s.Reset(cfg.Seed)
	logf("sampling from %d of %d scenes (seed %d)", len(s.scenes), len(pool), cfg.Seed)
	return s, nil
}

// Scenes returns the IDs of the scenes being sampled.
func (s *Sampler) Scenes() []string {
	ids := make([]string, len(s.scenes))
	for i, sc := range s.scenes {
		ids[i] = sc.ID
	}
	return ids
}

// Config returns the sampler's configuration.
func (s *Sampler) Config() Config { return s.cfg }

// Reset restarts the sequence from seed.
func (s *Sampler) Reset(seed int64) {
	s.rng = rand.New(rand.NewSource(seed))
}

// Next draws the next patch. When the chosen stratum yields no candidate
// within MaxAttempts, that draw alone falls back to the other stratum. It
// returns ErrNoEligiblePatch when neither stratum yields a candidate.
func (s *Sampler) Next(ctx context.Context) (*Patch, error) {
	want := woodedFree
	if s.rng.Float64() < s.cfg.WoodedFraction {
		want = containsWooded
	}
	if s.empty[want] {
		want = 1 - want
	}
	p, err := s.draw(ctx, want)
	if !errors.Is(err, ErrNoEligiblePatch) || s.empty[1-want] {
		return p, err
	}
	logf("stratum %s yielded nothing in %d attempts; falling back to %s for this patch", want, s.cfg.MaxAttempts, 1-want)
	return s.draw(ctx, 1-want)
}

// Draw returns the next n patches.
func (s *Sampler) Draw(ctx context.Context, n int) ([]*Patch, error) {
	out := make([]*Patch, 0, n)
	for len(out) < n {
		p, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Sampler) draw(ctx context.Context, want stratum) (*Patch, error) {
	size := s.cfg.PatchSize
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sc := s.scenes[s.rng.Intn(len(s.scenes))]
		win := raster.Window{
			X: s.rng.Intn(sc.Grid.Width - size + 1),
			Y: s.rng.Intn(sc.Grid.Height - size + 1),
			W: size,
			H: size,
		}
		p, err := s.candidate(ctx, sc.ID, win)
		if err != nil {
			return nil, err
		}
		if p.Coverage() < s.cfg.MinCoverage {
			continue
		}
		if got := stratumOf(p); got != want {
			continue
		}
		if s.cfg.Augment {
			augment(p, s.rng.Intn(4), s.rng.Intn(2) == 1, s.rng.Intn(2) == 1)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %d attempts for the %s stratum", ErrNoEligiblePatch, s.cfg.MaxAttempts, want)
}

func stratumOf(p *Patch) stratum {
	if p.HasWooded() {
		return containsWooded
	}
	return woodedFree
}

// candidate reads win and builds a patch that owns its buffers.
func (s *Sampler) candidate(ctx context.Context, id string, win raster.Window) (*Patch, error) {
	st, w, err := s.store.Features(ctx, id, s.cfg.Channels, win)
	if err != nil {
		return nil, err
	}
	n := win.Pixels()
	p := &Patch{
		SceneID:  id,
		Origin:   w.Bounds,
		Size:     win.W,
		Channels: st.Set.Len(),
		Features: st.Data,
		Labels:   make([]uint8, n),
		Mask:     make([]bool, n),
	}
	copy(p.Labels, w.Labels)
	for i := range p.Mask {
		p.Mask[i] = st.Valid[i] && p.Labels[i] != raster.NoData
	}
	return p, nil
}
