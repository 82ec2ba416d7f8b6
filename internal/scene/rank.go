package scene

import (
	"context"
	"errors"
	"sort"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/monitoring"
)

// Rank summarises how usable a scene is for mapping.
type Rank struct {
	SceneID      string  `json:"scene_id"`
	ClearPercent float64 `json:"clear_percent"`
	MeanNDVI     float64 `json:"mean_ndvi"`
	NDVIDefined  bool    `json:"ndvi_defined"`
}

// Rank computes the clear-pixel percentage and mean NDVI over clear pixels
// of each scene and sorts by clear percentage, then mean NDVI, both
// descending. Misaligned scenes are skipped with a warning; other errors
// abort.
func (s *Store) Rank(ctx context.Context, ids []string) ([]Rank, error) {
	out := make([]Rank, 0, len(ids))
	for _, id := range ids {
		r, err := s.rankScene(ctx, id)
		var ae *AlignmentError
		if errors.As(err, &ae) {
			monitoring.Warnf("scene", "skipping %s: %v", id, err)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClearPercent != out[j].ClearPercent {
			return out[i].ClearPercent > out[j].ClearPercent
		}
		if out[i].MeanNDVI != out[j].MeanNDVI {
			return out[i].MeanNDVI > out[j].MeanNDVI
		}
		return out[i].SceneID < out[j].SceneID
	})
	return out, nil
}

func (s *Store) rankScene(ctx context.Context, id string) (Rank, error) {
	sc, err := s.LoadScene(ctx, id)
	if err != nil {
		return Rank{}, err
	}
	var clear, defined int
	var sum float64
	err = s.scan(ctx, sc, func(w *Window) error {
		for _, v := range w.Valid {
			if v {
				clear++
			}
		}
		mean, n := features.MeanNDVI(w.Bands[features.BandRed], w.Bands[features.BandNIR], w.Valid)
		sum += mean * float64(n)
		defined += n
		return nil
	})
	if err != nil {
		return Rank{}, err
	}
	r := Rank{SceneID: id, ClearPercent: 100 * float64(clear) / float64(sc.Grid.Pixels())}
	if defined > 0 {
		r.MeanNDVI = sum / float64(defined)
		r.NDVIDefined = true
	}
	return r, nil
}
