package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// TimeStep is one acquisition of a temporal series, co-registered with the
// others on the same grid.
type TimeStep struct {
	DOY   int
	Red   []float32
	NIR   []float32
	Valid []bool
}

// TemporalLayers holds the per-pixel NDVI statistics across a series, in
// Temporal* order. Undefined pixels are NaN.
type TemporalLayers struct {
	Width  int
	Height int
	Layers [NumTemporal][]float32
}

// Temporal computes NDVI mean, max, min, population standard deviation and
// day of year of the maximum (divided by 365) for each pixel. Pixels with no
// valid step are NaN in every layer.
func Temporal(width, height int, series []TimeStep) (*TemporalLayers, error) {
	n := width * height
	if n <= 0 {
		return nil, fmt.Errorf("empty grid %dx%d", width, height)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("empty time series")
	}
	for i, s := range series {
		if len(s.Red) != n || len(s.NIR) != n || len(s.Valid) != n {
			return nil, fmt.Errorf("time step %d (doy %d): want %d samples per layer", i, s.DOY, n)
		}
		if s.DOY < 1 || s.DOY > 366 {
			return nil, fmt.Errorf("time step %d: day of year %d out of range", i, s.DOY)
		}
	}

	out := &TemporalLayers{Width: width, Height: height}
	for l := range out.Layers {
		out.Layers[l] = make([]float32, n)
	}

	vals := make([]float64, 0, len(series))
	for p := 0; p < n; p++ {
		vals = vals[:0]
		bestDOY := 0
		best := math.Inf(-1)
		for _, s := range series {
			if !s.Valid[p] {
				continue
			}
			v, ok := NDVI(s.NIR[p]/ReflectanceScale, s.Red[p]/ReflectanceScale)
			if !ok {
				continue
			}
			vals = append(vals, float64(v))
			if float64(v) > best {
				best = float64(v)
				bestDOY = s.DOY
			}
		}
		if len(vals) == 0 {
			for l := range out.Layers {
				out.Layers[l][p] = float32(math.NaN())
			}
			continue
		}
		mean, std := stat.PopMeanStdDev(vals, nil)
		lo := vals[0]
		for _, v := range vals[1:] {
			lo = math.Min(lo, v)
		}
		out.Layers[TemporalMean][p] = float32(mean)
		out.Layers[TemporalMax][p] = float32(best)
		out.Layers[TemporalMin][p] = float32(lo)
		out.Layers[TemporalStd][p] = float32(std)
		out.Layers[TemporalDOYMax][p] = float32(bestDOY) / 365
	}
	return out, nil
}

// Slices returns the layers as a slice in Temporal* order.
func (t *TemporalLayers) Slices() [][]float32 {
	out := make([][]float32, NumTemporal)
	for i := range t.Layers {
		out[i] = t.Layers[i]
	}
	return out
}

// MeanNDVI averages NDVI over valid pixels with a defined index and
// returns the number of pixels averaged. The mean is 0 when n is 0.
func MeanNDVI(red, nir []float32, valid []bool) (mean float64, n int) {
	vals := make([]float64, 0, len(red))
	for i := range red {
		if i >= len(nir) || i >= len(valid) || !valid[i] {
			continue
		}
		v, ok := NDVI(nir[i]/ReflectanceScale, red[i]/ReflectanceScale)
		if ok {
			vals = append(vals, float64(v))
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	return stat.Mean(vals, nil), len(vals)
}
