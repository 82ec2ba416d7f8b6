package features

import "fmt"

// Input is one window of raw scene data.
type Input struct {
	Width  int
	Height int
	// Bands holds surface reflectance digital numbers in source band order,
	// each Width*Height long.
	Bands [NumBands][]float32
	// Valid marks usable source pixels (usable-data mask and band NoData).
	Valid []bool
	// Temporal holds the five temporal layers, NaN where undefined. Required
	// only for channel sets that need it.
	Temporal [][]float32
}

// Stack is a channel-major feature tensor with a per-pixel validity mask.
type Stack struct {
	Set    ChannelSet
	Width  int
	Height int
	// Data is Set.Len() planes of Width*Height values.
	Data  []float32
	Valid []bool
}

// Channel returns plane c of the stack.
func (s *Stack) Channel(c int) []float32 {
	n := s.Width * s.Height
	return s.Data[c*n : (c+1)*n]
}

// Build derives the channel stack for set from in. Spectral bands are
// stretched with norm; indices are computed on reflectance and remapped to
// [0, 1]. Pixels where any derived channel is NoData come back invalid with
// zeros in every channel.
func Build(set ChannelSet, in *Input, norm Normalization) (*Stack, error) {
	n := in.Width * in.Height
	if n <= 0 {
		return nil, fmt.Errorf("empty input %dx%d", in.Width, in.Height)
	}
	for b := 0; b < NumBands; b++ {
		if len(in.Bands[b]) != n {
			return nil, fmt.Errorf("band %s has %d samples, want %d", bandNames[b], len(in.Bands[b]), n)
		}
	}
	if len(in.Valid) != n {
		return nil, fmt.Errorf("valid mask has %d samples, want %d", len(in.Valid), n)
	}
	if set.NeedsTemporal() {
		if len(in.Temporal) != NumTemporal {
			return nil, fmt.Errorf("channel set %s needs %d temporal layers, got %d", set.ID, NumTemporal, len(in.Temporal))
		}
		for i, layer := range in.Temporal {
			if len(layer) != n {
				return nil, fmt.Errorf("temporal layer %d has %d samples, want %d", i, len(layer), n)
			}
		}
	}

	out := &Stack{
		Set:    set.Clone(),
		Width:  in.Width,
		Height: in.Height,
		Data:   make([]float32, set.Len()*n),
		Valid:  make([]bool, n),
	}
	copy(out.Valid, in.Valid)

	for c, name := range set.Names {
		plane := out.Channel(c)
		for i := 0; i < n; i++ {
			if !out.Valid[i] {
				continue
			}
			v, ok := channelValue(name, in, i, norm)
			if !ok {
				out.Valid[i] = false
				continue
			}
			plane[i] = v
		}
	}

	// Zero every channel of pixels invalidated by a later channel.
	for i := 0; i < n; i++ {
		if out.Valid[i] {
			continue
		}
		for c := 0; c < set.Len(); c++ {
			out.Data[c*n+i] = 0
		}
	}
	return out, nil
}

func channelValue(name string, in *Input, i int, norm Normalization) (float32, bool) {
	raw := func(b int) float32 { return in.Bands[b][i] }
	refl := func(b int) float32 { return in.Bands[b][i] / ReflectanceScale }

	switch name {
	case "blue":
		return norm.Apply(BandBlue, raw(BandBlue)), !isNaN(raw(BandBlue))
	case "green":
		return norm.Apply(BandGreen, raw(BandGreen)), !isNaN(raw(BandGreen))
	case "red":
		return norm.Apply(BandRed, raw(BandRed)), !isNaN(raw(BandRed))
	case "nir":
		return norm.Apply(BandNIR, raw(BandNIR)), !isNaN(raw(BandNIR))
	case "ndvi":
		v, ok := NDVI(refl(BandNIR), refl(BandRed))
		return unitRemap(v), ok
	case "evi":
		v, ok := EVI(refl(BandNIR), refl(BandRed), refl(BandBlue))
		return unitRemap(v), ok
	case "savi":
		v, ok := SAVI(refl(BandNIR), refl(BandRed))
		return unitRemap(v), ok
	case "ndwi":
		v, ok := NDWI(refl(BandGreen), refl(BandNIR))
		return unitRemap(v), ok
	case "ndvi_mean":
		return temporalNDVI(in.Temporal[TemporalMean][i])
	case "ndvi_max":
		return temporalNDVI(in.Temporal[TemporalMax][i])
	case "ndvi_min":
		return temporalNDVI(in.Temporal[TemporalMin][i])
	case "ndvi_std":
		v := in.Temporal[TemporalStd][i]
		return clamp01(v), !isNaN(v)
	case "ndvi_doy_max":
		v := in.Temporal[TemporalDOYMax][i]
		return clamp01(v), !isNaN(v)
	}
	return 0, false
}

func temporalNDVI(v float32) (float32, bool) {
	if isNaN(v) {
		return 0, false
	}
	return unitRemap(v), true
}
