package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNDVI_Range(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		// Include negative reflectance from atmospheric over-correction.
		nir := rng.Float32()*1.2 - 0.1
		red := rng.Float32()*1.2 - 0.1
		v, ok := NDVI(nir, red)
		if !ok {
			continue
		}
		if v < -1 || v > 1 {
			t.Fatalf("NDVI(%v, %v) = %v outside [-1, 1]", nir, red, v)
		}
	}
}

func TestNDVI_ZeroDenominator(t *testing.T) {
	t.Parallel()
	_, ok := NDVI(0, 0)
	assert.False(t, ok)

	_, ok = NDVI(0.2, -0.2)
	assert.False(t, ok)

	_, ok = NDVI(float32(math.NaN()), 0.1)
	assert.False(t, ok)
}

func TestNDVI_Values(t *testing.T) {
	t.Parallel()
	v, ok := NDVI(0.5, 0.1)
	assert.True(t, ok)
	assert.InDelta(t, 0.6667, v, 1e-4)

	v, ok = NDVI(0.1, 0.1)
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestEVI(t *testing.T) {
	t.Parallel()
	v, ok := EVI(0.4, 0.05, 0.03)
	assert.True(t, ok)
	// 2.5*0.35 / (0.4 + 0.3 - 0.225 + 1)
	assert.InDelta(t, 0.875/1.475, v, 1e-5)

	// N + 6R - 7.5B + 1 == 0
	_, ok = EVI(0, 0, 1.0/7.5)
	assert.False(t, ok)
}

func TestSAVIAndNDWI(t *testing.T) {
	t.Parallel()
	v, ok := SAVI(0.4, 0.1)
	assert.True(t, ok)
	assert.InDelta(t, 0.3/1.0*1.5, v, 1e-5)

	v, ok = NDWI(0.3, 0.1)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-5)

	_, ok = NDWI(0, 0)
	assert.False(t, ok)
}

func TestUnitRemap(t *testing.T) {
	t.Parallel()
	assert.Equal(t, float32(0), unitRemap(-1))
	assert.Equal(t, float32(0.5), unitRemap(0))
	assert.Equal(t, float32(1), unitRemap(1))
	assert.Equal(t, float32(1), unitRemap(1.4))
	assert.Equal(t, float32(0), unitRemap(-3))
}
