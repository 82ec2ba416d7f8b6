package scene

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/raster"
)

// LabelCounts tallies the reference pixels of a scene that are usable for
// training.
type LabelCounts struct {
	Wooded    int
	NonWooded int
}

// Labelled returns the number of usable reference pixels.
func (c LabelCounts) Labelled() int { return c.Wooded + c.NonWooded }

// CheckLabels counts reference pixels usable for training: labelled and
// valid in the source bands. A scene without such pixels returns
// *InsufficientLabelError.
func (s *Store) CheckLabels(ctx context.Context, id string) (int, error) {
	c, err := s.CountLabels(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.Labelled(), nil
}

// CountLabels is CheckLabels split by class.
func (s *Store) CountLabels(ctx context.Context, id string) (LabelCounts, error) {
	var c LabelCounts
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return c, err
	}
	if !sc.HasLabels() {
		return c, &InsufficientLabelError{SceneID: id, Reason: "no " + LayerLabels.String() + " layer"}
	}
	err = s.scan(ctx, sc, func(w *Window) error {
		for i, v := range w.Labels {
			if !w.Valid[i] {
				continue
			}
			switch v {
			case raster.LabelWooded:
				c.Wooded++
			case raster.LabelNonWooded:
				c.NonWooded++
			}
		}
		return nil
	})
	if err != nil {
		return LabelCounts{}, fmt.Errorf("scene %s: %w", id, err)
	}
	if c.Labelled() == 0 {
		return c, &InsufficientLabelError{SceneID: id, Reason: "every reference pixel is NoData or masked"}
	}
	return c, nil
}

// ImportLabels converts a single-band TIFF label raster into the scene's
// reference layer under dir. The TIFF must match the band grid pixel for
// pixel; values other than 0 and 1 become NoData. It returns the number of
// labelled pixels written.
func (s *Store) ImportLabels(ctx context.Context, fsys fsutil.FileSystem, dir, id string, r io.Reader) (int, error) {
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return 0, err
	}
	labels, err := raster.DecodeLabelTIFF(r, sc.Grid)
	if err != nil {
		return 0, fmt.Errorf("scene %s: %w", id, err)
	}
	n := 0
	for _, v := range labels {
		if v != raster.NoData {
			n++
		}
	}
	if n == 0 {
		return 0, &InsufficientLabelError{SceneID: id, Reason: "imported raster has no 0/1 pixels"}
	}

	h := raster.LabelHeader(sc.Grid)
	data, err := raster.EncodeUint8(h, labels)
	if err != nil {
		return 0, err
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := raster.WriteFiles(fsys, filepath.Join(dir, AssetBase(id, LayerLabels)), h, data); err != nil {
		return 0, err
	}
	s.forget(id)
	logf("imported %d labelled pixels for %s", n, id)
	return n, nil
}
