package scene

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/raster"
)

// temporalNoData marks undefined temporal samples on disk.
const temporalNoData = -9999

// Acquisition is one scene of a temporal series.
type Acquisition struct {
	SceneID string
	DOY     int
}

// BuildTemporal computes NDVI statistics across series on the grid of
// target. Every acquisition must share the target grid; one that does not
// returns *AlignmentError naming it.
func (s *Store) BuildTemporal(ctx context.Context, target string, series []Acquisition) (*features.TemporalLayers, error) {
	tsc, err := s.LoadScene(ctx, target)
	if err != nil {
		return nil, err
	}
	steps := make([]features.TimeStep, 0, len(series))
	for _, acq := range series {
		sc, err := s.LoadScene(ctx, acq.SceneID)
		if err != nil {
			return nil, err
		}
		if d := tsc.Grid.Mismatch(sc.Grid); d != "" {
			return nil, &AlignmentError{SceneID: acq.SceneID, Layer: LayerBands, Against: LayerBands,
				Detail: fmt.Sprintf("series grid differs from %s: %s", target, d)}
		}
		step := features.TimeStep{
			DOY:   acq.DOY,
			Red:   make([]float32, 0, sc.Grid.Pixels()),
			NIR:   make([]float32, 0, sc.Grid.Pixels()),
			Valid: make([]bool, 0, sc.Grid.Pixels()),
		}
		err = s.scan(ctx, sc, func(w *Window) error {
			step.Red = append(step.Red, w.Bands[features.BandRed]...)
			step.NIR = append(step.NIR, w.Bands[features.BandNIR]...)
			step.Valid = append(step.Valid, w.Valid...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scene %s: %w", acq.SceneID, err)
		}
		steps = append(steps, step)
	}
	layers, err := features.Temporal(tsc.Grid.Width, tsc.Grid.Height, steps)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", target, err)
	}
	logf("built temporal layers for %s from %d acquisitions", target, len(series))
	return layers, nil
}

// WriteTemporal stores layers as the temporal asset of id under dir.
func (s *Store) WriteTemporal(ctx context.Context, fsys fsutil.FileSystem, dir, id string, layers *features.TemporalLayers) error {
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return err
	}
	if layers.Width != sc.Grid.Width || layers.Height != sc.Grid.Height {
		return fmt.Errorf("scene %s: temporal layers are %dx%d, grid is %dx%d",
			id, layers.Width, layers.Height, sc.Grid.Width, sc.Grid.Height)
	}
	nd := float64(temporalNoData)
	h := &raster.Header{
		Grid:      sc.Grid,
		Bands:     features.NumTemporal,
		Type:      raster.Float32,
		ByteOrder: sc.Bands.ByteOrder,
		NoData:    &nd,
	}
	bands := make([][]float32, features.NumTemporal)
	for l, src := range layers.Layers {
		dst := make([]float32, len(src))
		for i, v := range src {
			if math.IsNaN(float64(v)) {
				v = temporalNoData
			}
			dst[i] = v
		}
		bands[l] = dst
	}
	data, err := raster.Encode(h, bands)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if err := raster.WriteFiles(fsys, filepath.Join(dir, AssetBase(id, LayerTemporal)), h, data); err != nil {
		return err
	}
	s.forget(id)
	return nil
}
