package features

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupChannelSet(t *testing.T) {
	t.Parallel()
	for id, want := range map[string]int{"bands": 4, "indices": 6, "extended": 8, "temporal": 11} {
		s, err := LookupChannelSet(id)
		require.NoError(t, err)
		assert.Equal(t, want, s.Len(), id)
	}
	_, err := LookupChannelSet("rgb")
	assert.Error(t, err)

	s, _ := LookupChannelSet("indices")
	s.Names[0] = "changed"
	assert.Equal(t, "blue", IndicesSet.Names[0], "lookup must not alias the package sets")
	assert.True(t, TemporalSet.NeedsTemporal())
	assert.False(t, ExtendedSet.NeedsTemporal())
	assert.False(t, IndicesSet.Equal(ExtendedSet))
	assert.True(t, IndicesSet.Equal(IndicesSet.Clone()))
}

func identityNorm() Normalization {
	var n Normalization
	for b := 0; b < NumBands; b++ {
		n.Lo[b] = 0
		n.Hi[b] = 10000
	}
	return n
}

func TestBuild_ChannelOrderAndValues(t *testing.T) {
	t.Parallel()
	in := &Input{
		Width:  2,
		Height: 1,
		Bands: [NumBands][]float32{
			{300, 500},  // blue
			{600, 700},  // green
			{500, 1000}, // red
			{4000, 1000},
		},
		Valid: []bool{true, true},
	}
	s, err := Build(IndicesSet, in, identityNorm())
	require.NoError(t, err)
	require.Len(t, s.Data, 6*2)
	assert.Equal(t, []bool{true, true}, s.Valid)

	assert.InDelta(t, 0.03, s.Channel(0)[0], 1e-6)
	assert.InDelta(t, 0.4, s.Channel(3)[0], 1e-6)

	ndvi, _ := NDVI(0.4, 0.05)
	assert.InDelta(t, (ndvi+1)/2, s.Channel(4)[0], 1e-6)
	// Equal red and NIR gives NDVI 0, remapped to 0.5.
	assert.InDelta(t, 0.5, s.Channel(4)[1], 1e-6)

	evi, _ := EVI(0.4, 0.05, 0.03)
	assert.InDelta(t, unitRemap(evi), s.Channel(5)[0], 1e-6)
}

func TestBuild_NoDataPropagates(t *testing.T) {
	t.Parallel()
	in := &Input{
		Width:  3,
		Height: 1,
		Bands: [NumBands][]float32{
			{100, 100, 100},
			{100, 100, 100},
			{0, 200, 200},
			{0, 900, 900},
		},
		Valid: []bool{true, true, false},
	}
	s, err := Build(IndicesSet, in, identityNorm())
	require.NoError(t, err)
	// Pixel 0: NDVI denominator is zero. Pixel 2: masked at source.
	assert.Equal(t, []bool{false, true, false}, s.Valid)
	for c := 0; c < s.Set.Len(); c++ {
		assert.Zero(t, s.Channel(c)[0], "channel %d", c)
		assert.Zero(t, s.Channel(c)[2], "channel %d", c)
	}
	for _, v := range s.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()
	good := func() *Input {
		return &Input{
			Width: 1, Height: 1,
			Bands: [NumBands][]float32{{1}, {1}, {1}, {1}},
			Valid: []bool{true},
		}
	}
	_, err := Build(BandsSet, &Input{}, identityNorm())
	assert.Error(t, err)

	in := good()
	in.Bands[BandRed] = nil
	_, err = Build(BandsSet, in, identityNorm())
	assert.Error(t, err)

	in = good()
	in.Valid = nil
	_, err = Build(BandsSet, in, identityNorm())
	assert.Error(t, err)

	_, err = Build(TemporalSet, good(), identityNorm())
	assert.ErrorContains(t, err, "temporal")
}

func TestBuild_Temporal(t *testing.T) {
	t.Parallel()
	nan := float32(math.NaN())
	in := &Input{
		Width: 2, Height: 1,
		Bands: [NumBands][]float32{{300, 300}, {500, 500}, {400, 400}, {3000, 3000}},
		Valid: []bool{true, true},
		Temporal: [][]float32{
			{0.6, nan},
			{0.8, nan},
			{0.2, nan},
			{0.1, nan},
			{0.5, nan},
		},
	}
	s, err := Build(TemporalSet, in, identityNorm())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, s.Valid)
	assert.InDelta(t, 0.8, s.Channel(6)[0], 1e-6)  // mean remapped
	assert.InDelta(t, 0.9, s.Channel(7)[0], 1e-6)  // max remapped
	assert.InDelta(t, 0.6, s.Channel(8)[0], 1e-6)  // min remapped
	assert.InDelta(t, 0.1, s.Channel(9)[0], 1e-6)  // std as-is
	assert.InDelta(t, 0.5, s.Channel(10)[0], 1e-6) // doy as-is
}

func TestComputeNormalization(t *testing.T) {
	t.Parallel()
	var samples [NumBands][]float32
	for b := 0; b < NumBands; b++ {
		for i := 1; i <= 100; i++ {
			samples[b] = append(samples[b], float32(i*(b+1)))
		}
		samples[b] = append(samples[b], float32(math.NaN()))
	}
	n, err := ComputeNormalization(samples)
	require.NoError(t, err)
	want := Normalization{Lo: [NumBands]float32{1, 2, 3, 4}, Hi: [NumBands]float32{99, 198, 297, 396}}
	// Empirical quantiles may land one sample either side.
	if diff := cmp.Diff(want, n, cmpopts.EquateApprox(0, 4)); diff != "" {
		t.Errorf("normalization mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, float32(0), n.Apply(0, -5))
	assert.Equal(t, float32(1), n.Apply(0, 500))
	mid := (n.Lo[0] + n.Hi[0]) / 2
	assert.InDelta(t, 0.5, n.Apply(0, mid), 1e-6)

	samples[BandNIR] = nil
	_, err = ComputeNormalization(samples)
	assert.ErrorContains(t, err, "nir")
}

func TestNormalization_Degenerate(t *testing.T) {
	t.Parallel()
	n := Normalization{}
	assert.Zero(t, n.Apply(BandRed, 100))
}

func TestTemporal(t *testing.T) {
	t.Parallel()
	series := []TimeStep{
		{DOY: 100, Red: []float32{1000, 0}, NIR: []float32{3000, 0}, Valid: []bool{true, true}},
		{DOY: 200, Red: []float32{1000, 500}, NIR: []float32{9000, 500}, Valid: []bool{true, false}},
		{DOY: 300, Red: []float32{1000, 500}, NIR: []float32{1000, 500}, Valid: []bool{true, false}},
	}
	tl, err := Temporal(2, 1, series)
	require.NoError(t, err)

	// NDVI per step for pixel 0: 0.5, 0.8, 0.
	assert.InDelta(t, 1.3/3, tl.Layers[TemporalMean][0], 1e-6)
	assert.InDelta(t, 0.8, tl.Layers[TemporalMax][0], 1e-6)
	assert.InDelta(t, 0.0, tl.Layers[TemporalMin][0], 1e-6)
	mean := 1.3 / 3
	std := math.Sqrt(((0.5-mean)*(0.5-mean) + (0.8-mean)*(0.8-mean) + mean*mean) / 3)
	assert.InDelta(t, std, tl.Layers[TemporalStd][0], 1e-6)
	assert.InDelta(t, 200.0/365, tl.Layers[TemporalDOYMax][0], 1e-6)

	// Pixel 1 has a zero denominator on its only valid step.
	for l := 0; l < NumTemporal; l++ {
		assert.True(t, math.IsNaN(float64(tl.Layers[l][1])), "layer %d", l)
	}
	assert.Len(t, tl.Slices(), NumTemporal)
}

func TestTemporal_Errors(t *testing.T) {
	t.Parallel()
	_, err := Temporal(1, 1, nil)
	assert.Error(t, err)
	_, err = Temporal(1, 1, []TimeStep{{DOY: 0, Red: []float32{1}, NIR: []float32{1}, Valid: []bool{true}}})
	assert.Error(t, err)
	_, err = Temporal(2, 1, []TimeStep{{DOY: 5, Red: []float32{1}, NIR: []float32{1}, Valid: []bool{true}}})
	assert.Error(t, err)
}

func TestMeanNDVI(t *testing.T) {
	t.Parallel()
	v, n := MeanNDVI([]float32{1000, 1000, 0}, []float32{3000, 9000, 0}, []bool{true, false, true})
	assert.Equal(t, 1, n)
	assert.InDelta(t, 0.5, v, 1e-6)

	_, n = MeanNDVI([]float32{0}, []float32{0}, []bool{true})
	assert.Zero(t, n)
}
