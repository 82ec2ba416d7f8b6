package training

import (
	"math"

	"github.com/banshee-data/woodland.report/internal/raster"
)

// maskEpsilon keeps the loss finite for a batch with an empty mask.
const maskEpsilon = 1e-8

// MaskedBCESum returns the binary cross-entropy of logits against labels
// summed over the pixels where mask is true, the number of such pixels, and
// the gradient of the sum with respect to the logits. Masked-out pixels
// contribute nothing to either: their gradient is exactly zero whatever
// their label.
//
// The per-pixel loss uses the stable form max(z,0) - z*y + log(1+exp(-|z|)).
func MaskedBCESum(logits []float32, labels []uint8, mask []bool) (float64, int, []float32) {
	grad := make([]float32, len(logits))
	var sum float64
	n := 0
	for i, z := range logits {
		if !mask[i] {
			continue
		}
		n++
		y := 0.0
		if labels[i] == raster.LabelWooded {
			y = 1
		}
		zf := float64(z)
		sum += math.Max(zf, 0) - zf*y + math.Log1p(math.Exp(-math.Abs(zf)))
		grad[i] = float32(sigmoid(zf) - y)
	}
	return sum, n, grad
}

// MaskedBCE is MaskedBCESum averaged over the masked pixels of one patch.
func MaskedBCE(logits []float32, labels []uint8, mask []bool) (float64, []float32) {
	sum, n, grad := MaskedBCESum(logits, labels, mask)
	scale := poolScale(n)
	for i, g := range grad {
		grad[i] = float32(float64(g) * scale)
	}
	return sum * scale, grad
}

// poolScale is the normaliser of a loss summed over n masked pixels, which
// may span several patches.
func poolScale(n int) float64 { return 1 / (float64(n) + maskEpsilon) }

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
