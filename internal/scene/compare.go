package scene

import (
	"context"
	"fmt"

	"github.com/banshee-data/woodland.report/internal/raster"
)

// Comparison reads the stored prediction and the reference labels of id
// over the whole grid. Reference values outside {0,1} read as NoData.
func (s *Store) Comparison(ctx context.Context, id string) (pred, ref []uint8, err error) {
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !sc.HasLabels() {
		return nil, nil, &InsufficientLabelError{SceneID: id, Reason: "no reference labels"}
	}
	ph, err := s.header(ctx, id, LayerPrediction)
	if err != nil {
		return nil, nil, err
	}
	if mm := sc.Grid.Mismatch(ph.Grid); mm != "" {
		return nil, nil, &AlignmentError{SceneID: id, Layer: LayerPrediction, Against: LayerBands, Detail: mm}
	}
	if ph.Bands != 1 || ph.Type != raster.Uint8 {
		return nil, nil, fmt.Errorf("scene %s: prediction must be one uint8 band, got %d %v", id, ph.Bands, ph.Type)
	}
	win := sc.Grid.Bounds()
	if pred, err = s.readLayerUint8(ctx, id, LayerPrediction, ph, win); err != nil {
		return nil, nil, err
	}
	if ref, err = s.readLayerUint8(ctx, id, LayerLabels, sc.Labels, win); err != nil {
		return nil, nil, err
	}
	for i, v := range ref {
		if v != raster.LabelWooded && v != raster.LabelNonWooded {
			ref[i] = raster.NoData
		}
	}
	return pred, ref, nil
}
