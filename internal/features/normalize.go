package features

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Percentile bounds of the per-band contrast stretch.
const (
	LowerPercentile = 0.01
	UpperPercentile = 0.99
)

// Normalization holds per-band stretch bounds in raw digital numbers. It is
// computed once per scene so every window and tile of that scene is scaled
// identically.
type Normalization struct {
	Lo [NumBands]float32 `json:"lo"`
	Hi [NumBands]float32 `json:"hi"`
}

// ComputeNormalization derives 1st/99th percentile bounds from samples of
// valid pixels, one slice per band. NaN samples are ignored.
func ComputeNormalization(samples [NumBands][]float32) (Normalization, error) {
	var n Normalization
	for b := 0; b < NumBands; b++ {
		vals := make([]float64, 0, len(samples[b]))
		for _, v := range samples[b] {
			if !isNaN(v) {
				vals = append(vals, float64(v))
			}
		}
		if len(vals) == 0 {
			return Normalization{}, fmt.Errorf("no valid samples for band %s", bandNames[b])
		}
		sort.Float64s(vals)
		n.Lo[b] = float32(stat.Quantile(LowerPercentile, stat.Empirical, vals, nil))
		n.Hi[b] = float32(stat.Quantile(UpperPercentile, stat.Empirical, vals, nil))
	}
	return n, nil
}

// Apply stretches v of band b into [0, 1]. A degenerate range maps to 0.
func (n Normalization) Apply(b int, v float32) float32 {
	span := n.Hi[b] - n.Lo[b]
	if span <= 0 || math.IsInf(float64(span), 0) {
		return 0
	}
	return clamp01((v - n.Lo[b]) / span)
}
