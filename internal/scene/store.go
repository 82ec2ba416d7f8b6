package scene

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"tailscale.com/util/lru"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/security"
)

var logf = monitoring.Component("scene")

// Normalisation statistics come from at most this many evenly spaced rows
// and this many pixels per band.
const (
	normSampleRows = 32
	normMaxSamples = 1 << 16
)

// scanRows is the strip height used when a whole layer is scanned.
const scanRows = 256

// StoreOptions configures a Store.
type StoreOptions struct {
	// CacheEntries bounds the window cache; zero disables it.
	CacheEntries int
}

// Scene is the validated metadata of a loaded scene. Optional layers are nil
// when absent.
type Scene struct {
	ID       string
	Grid     raster.Grid
	Bands    *raster.Header
	UDM      *raster.Header
	Labels   *raster.Header
	Temporal *raster.Header
	// Norm is the per-band stretch shared by every window of the scene.
	Norm features.Normalization
}

// HasLabels reports whether the scene carries reference labels.
func (s *Scene) HasLabels() bool { return s.Labels != nil }

// HasTemporal reports whether the scene carries temporal layers.
func (s *Scene) HasTemporal() bool { return s.Temporal != nil }

// Window is the data of one pixel rectangle of a scene. Windows returned by
// a Store may be shared through its cache and must not be modified.
type Window struct {
	SceneID string
	// Bounds is the window actually read, after clipping to the grid.
	Bounds raster.Window
	features.Input
	// Labels is nil when the scene has no reference layer. Values outside
	// {0, 1} are NoData.
	Labels []uint8
}

// CacheStats reports window cache usage.
type CacheStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Entries  int   `json:"entries"`
	Capacity int   `json:"capacity"`
}

type cacheKey struct {
	id  string
	win raster.Window
}

// Store reads scenes from a Backend. It is safe for concurrent use.
type Store struct {
	backend Backend

	mu       sync.Mutex
	scenes   map[string]*Scene
	cache    *lru.Cache[cacheKey, *Window]
	capacity int
	hits     int64
	misses   int64
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, opts StoreOptions) *Store {
	s := &Store{backend: backend, scenes: make(map[string]*Scene)}
	if opts.CacheEntries > 0 {
		s.cache = &lru.Cache[cacheKey, *Window]{MaxEntries: opts.CacheEntries}
		s.capacity = opts.CacheEntries
	}
	return s
}

// Backend returns the store's backend.
func (s *Store) Backend() Backend { return s.backend }

// ListScenes enumerates scene IDs when the backend supports it.
func (s *Store) ListScenes(ctx context.Context) ([]string, error) {
	l, ok := s.backend.(Lister)
	if !ok {
		return nil, fmt.Errorf("backend %T cannot list scenes", s.backend)
	}
	return l.ListScenes(ctx)
}

// LoadScene reads every layer header of id and checks that all layers share
// the band grid. A mismatch returns *AlignmentError. Loaded scenes are
// remembered for the life of the store.
func (s *Store) LoadScene(ctx context.Context, id string) (*Scene, error) {
	if err := security.ValidateSceneID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sc, ok := s.scenes[id]
	s.mu.Unlock()
	if ok {
		return sc, nil
	}

	bands, err := s.header(ctx, id, LayerBands)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", id, err)
	}
	if bands.Bands != features.NumBands {
		return nil, fmt.Errorf("scene %s: %s has %d bands, want %d", id, LayerBands, bands.Bands, features.NumBands)
	}
	sc = &Scene{ID: id, Grid: bands.Grid, Bands: bands}

	for _, layer := range []Layer{LayerUDM, LayerLabels, LayerTemporal} {
		h, err := s.header(ctx, id, layer)
		if isNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scene %s: %w", id, err)
		}
		if d := bands.Grid.Mismatch(h.Grid); d != "" {
			return nil, &AlignmentError{SceneID: id, Layer: layer, Against: LayerBands, Detail: d}
		}
		switch layer {
		case LayerUDM:
			sc.UDM = h
		case LayerLabels:
			if h.Bands != 1 || h.Type != raster.Uint8 {
				return nil, fmt.Errorf("scene %s: %s must be one uint8 band, got %d %v", id, layer, h.Bands, h.Type)
			}
			sc.Labels = h
		case LayerTemporal:
			if h.Bands != features.NumTemporal {
				return nil, fmt.Errorf("scene %s: %s has %d bands, want %d", id, layer, h.Bands, features.NumTemporal)
			}
			sc.Temporal = h
		}
	}

	if sc.Norm, err = s.sampleNormalization(ctx, sc); err != nil {
		return nil, fmt.Errorf("scene %s: %w", id, err)
	}

	s.mu.Lock()
	s.scenes[id] = sc
	s.mu.Unlock()
	logf("loaded %s (%dx%d, labels=%t, temporal=%t)", id, sc.Grid.Width, sc.Grid.Height, sc.HasLabels(), sc.HasTemporal())
	return sc, nil
}

// forget drops the remembered metadata and cached windows of id, so layers
// written after loading become visible.
func (s *Store) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scenes, id)
	if s.cache != nil {
		s.cache = &lru.Cache[cacheKey, *Window]{MaxEntries: s.capacity}
	}
}

func (s *Store) header(ctx context.Context, id string, layer Layer) (*raster.Header, error) {
	name := AssetBase(id, layer) + ".hdr"
	data, err := s.backend.ReadFile(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	h, err := raster.ParseHeader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if err := h.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return h, nil
}

// ReadWindow returns the data of win. Windows reaching past the grid are
// clipped and Bounds reports the clipped rectangle; windows entirely outside
// fail.
func (s *Store) ReadWindow(ctx context.Context, id string, win raster.Window) (*Window, error) {
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return nil, err
	}
	clipped := win.Intersect(sc.Grid.Width, sc.Grid.Height)
	if clipped.Empty() {
		return nil, fmt.Errorf("scene %s: window %s outside %dx%d grid", id, win, sc.Grid.Width, sc.Grid.Height)
	}

	key := cacheKey{id: id, win: clipped}
	if s.cache != nil {
		s.mu.Lock()
		w, ok := s.cache.GetOk(key)
		if ok {
			s.hits++
		} else {
			s.misses++
		}
		s.mu.Unlock()
		if ok {
			return w, nil
		}
	}

	w, err := s.read(ctx, sc, clipped)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.mu.Lock()
		s.cache.Set(key, w)
		s.mu.Unlock()
	}
	return w, nil
}

// Features reads win and derives the channel stack of set from it, using the
// scene's normalisation.
func (s *Store) Features(ctx context.Context, id string, set features.ChannelSet, win raster.Window) (*features.Stack, *Window, error) {
	w, err := s.ReadWindow(ctx, id, win)
	if err != nil {
		return nil, nil, err
	}
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if set.NeedsTemporal() && !sc.HasTemporal() {
		return nil, nil, fmt.Errorf("scene %s: channel set %s needs the %s layer", id, set.ID, LayerTemporal)
	}
	st, err := features.Build(set, &w.Input, sc.Norm)
	if err != nil {
		return nil, nil, fmt.Errorf("scene %s window %s: %w", id, w.Bounds, err)
	}
	return st, w, nil
}

// CacheStats returns a snapshot of cache counters.
func (s *Store) CacheStats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := CacheStats{Hits: s.hits, Misses: s.misses, Capacity: s.capacity}
	if s.cache != nil {
		st.Entries = s.cache.Len()
	}
	return st
}

// read fetches win from every layer of sc, bypassing the cache.
func (s *Store) read(ctx context.Context, sc *Scene, win raster.Window) (*Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Window{SceneID: sc.ID, Bounds: win}
	out.Width, out.Height = win.W, win.H

	bands, err := s.readLayer(ctx, sc.ID, LayerBands, sc.Bands, win)
	if err != nil {
		return nil, err
	}
	copy(out.Bands[:], bands)

	out.Valid = make([]bool, win.Pixels())
	for i := range out.Valid {
		out.Valid[i] = true
	}
	if sc.UDM != nil {
		udm, err := s.readLayerUint8(ctx, sc.ID, LayerUDM, sc.UDM, win)
		if err != nil {
			return nil, err
		}
		for i, v := range udm {
			if v == 0 {
				out.Valid[i] = false
			}
		}
	}
	for b := 0; b < features.NumBands; b++ {
		for i, v := range out.Bands[b] {
			if math.IsNaN(float64(v)) || isNoData(sc.Bands, v) {
				out.Valid[i] = false
			}
		}
	}

	if sc.Labels != nil {
		labels, err := s.readLayerUint8(ctx, sc.ID, LayerLabels, sc.Labels, win)
		if err != nil {
			return nil, err
		}
		for i, v := range labels {
			if v != raster.LabelWooded && v != raster.LabelNonWooded {
				labels[i] = raster.NoData
			}
		}
		out.Labels = labels
	}

	if sc.Temporal != nil {
		layers, err := s.readLayer(ctx, sc.ID, LayerTemporal, sc.Temporal, win)
		if err != nil {
			return nil, err
		}
		for _, l := range layers {
			for i, v := range l {
				if isNoData(sc.Temporal, v) {
					l[i] = float32(math.NaN())
				}
			}
		}
		out.Temporal = layers
	}
	return out, nil
}

func (s *Store) readLayer(ctx context.Context, id string, layer Layer, h *raster.Header, win raster.Window) ([][]float32, error) {
	name := AssetBase(id, layer) + ".bil"
	a, err := s.backend.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer a.Close()
	data, err := raster.ReadWindow(a, h, win)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return data, nil
}

func (s *Store) readLayerUint8(ctx context.Context, id string, layer Layer, h *raster.Header, win raster.Window) ([]uint8, error) {
	name := AssetBase(id, layer) + ".bil"
	a, err := s.backend.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer a.Close()
	data, err := raster.ReadBandUint8(a, h, 0, win)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return data, nil
}

func isNoData(h *raster.Header, v float32) bool {
	return h.NoData != nil && float64(v) == *h.NoData
}

// scan calls fn for consecutive full-width strips covering the scene.
func (s *Store) scan(ctx context.Context, sc *Scene, fn func(w *Window) error) error {
	for y := 0; y < sc.Grid.Height; y += scanRows {
		win := raster.Window{X: 0, Y: y, W: sc.Grid.Width, H: min(scanRows, sc.Grid.Height-y)}
		w, err := s.read(ctx, sc, win)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

// sampleNormalization estimates the band stretch from evenly spaced rows.
// Scenes without any valid pixel fall back to the full reflectance range.
func (s *Store) sampleNormalization(ctx context.Context, sc *Scene) (features.Normalization, error) {
	rows := min(normSampleRows, sc.Grid.Height)
	step := max(1, sc.Grid.Width*rows/normMaxSamples)

	var samples [features.NumBands][]float32
	for i := 0; i < rows; i++ {
		y := i * sc.Grid.Height / rows
		w, err := s.read(ctx, sc, raster.Window{X: 0, Y: y, W: sc.Grid.Width, H: 1})
		if err != nil {
			return features.Normalization{}, err
		}
		for x := 0; x < sc.Grid.Width; x += step {
			if !w.Valid[x] {
				continue
			}
			for b := range samples {
				samples[b] = append(samples[b], w.Bands[b][x])
			}
		}
	}
	if len(samples[0]) == 0 {
		monitoring.Warnf("scene", "%s has no valid pixels; using the full reflectance range", sc.ID)
		var n features.Normalization
		for b := range n.Hi {
			n.Hi[b] = features.ReflectanceScale
		}
		return n, nil
	}
	return features.ComputeNormalization(samples)
}
