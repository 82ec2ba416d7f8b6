package training

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/woodland.report/internal/raster"
)

func TestMaskedBCE_MaskedPixelsHaveZeroGradient(t *testing.T) {
	t.Parallel()
	logits := []float32{2.5, -1, 0.3, 7, -4}
	labels := []uint8{raster.LabelWooded, raster.LabelNonWooded, raster.NoData, raster.LabelWooded, raster.LabelNonWooded}
	mask := []bool{true, false, false, true, false}

	loss, grad := MaskedBCE(logits, labels, mask)
	assert.False(t, math.IsNaN(loss))
	for i, m := range mask {
		if !m {
			assert.Zero(t, grad[i], "pixel %d", i)
		}
	}
	assert.Less(t, grad[0], float32(0), "wooded pixel pushes the logit up")

	// Changing a masked pixel's logit or label leaves loss and gradient alone.
	logits2 := append([]float32(nil), logits...)
	labels2 := append([]uint8(nil), labels...)
	logits2[1], labels2[1] = 40, raster.LabelWooded
	loss2, grad2 := MaskedBCE(logits2, labels2, mask)
	assert.Equal(t, loss, loss2)
	assert.Equal(t, grad, grad2)
}

func TestMaskedBCE_Values(t *testing.T) {
	t.Parallel()
	loss, grad := MaskedBCE([]float32{0, 0}, []uint8{1, 0}, []bool{true, true})
	assert.InDelta(t, math.Ln2, loss, 1e-6)
	assert.InDelta(t, -0.25, grad[0], 1e-6)
	assert.InDelta(t, 0.25, grad[1], 1e-6)

	// Large logits stay finite.
	loss, grad = MaskedBCE([]float32{100, -100}, []uint8{0, 1}, []bool{true, true})
	assert.InDelta(t, 100, loss, 1e-6)
	assert.InDelta(t, 0.5, grad[0], 1e-6)
	assert.InDelta(t, -0.5, grad[1], 1e-6)
}

func TestMaskedBCE_EmptyMask(t *testing.T) {
	t.Parallel()
	loss, grad := MaskedBCE([]float32{1, 2}, []uint8{1, 0}, []bool{false, false})
	assert.Zero(t, loss)
	assert.Equal(t, []float32{0, 0}, grad)
}
