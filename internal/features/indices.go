package features

import "math"

// ReflectanceScale converts surface reflectance digital numbers to [0, 1].
const ReflectanceScale = 10000

// SAVISoilFactor is the L term of SAVI.
const SAVISoilFactor = 0.5

// Denominators smaller than this in magnitude count as zero.
const denomEpsilon = 1e-9

// NDVI returns (nir-red)/(nir+red) clamped to [-1, 1]. ok is false when the
// denominator is zero.
func NDVI(nir, red float32) (float32, bool) {
	return normalizedDifference(nir, red)
}

// NDWI returns (green-nir)/(green+nir), the McFeeters water index.
func NDWI(green, nir float32) (float32, bool) {
	return normalizedDifference(green, nir)
}

func normalizedDifference(a, b float32) (float32, bool) {
	den := float64(a) + float64(b)
	if math.Abs(den) < denomEpsilon || isNaN(a) || isNaN(b) {
		return 0, false
	}
	v := (float64(a) - float64(b)) / den
	return float32(math.Max(-1, math.Min(1, v))), true
}

// EVI returns 2.5*(N-R)/(N + 6R - 7.5B + 1) on reflectance in [0, 1].
func EVI(nir, red, blue float32) (float32, bool) {
	n, r, b := float64(nir), float64(red), float64(blue)
	den := n + 6*r - 7.5*b + 1
	if math.Abs(den) < denomEpsilon || isNaN(nir) || isNaN(red) || isNaN(blue) {
		return 0, false
	}
	return float32(2.5 * (n - r) / den), true
}

// SAVI returns (N-R)/(N+R+L)*(1+L) on reflectance in [0, 1].
func SAVI(nir, red float32) (float32, bool) {
	n, r := float64(nir), float64(red)
	den := n + r + SAVISoilFactor
	if math.Abs(den) < denomEpsilon || isNaN(nir) || isNaN(red) {
		return 0, false
	}
	return float32((n - r) / den * (1 + SAVISoilFactor)), true
}

// unitRemap maps an index in [-1, 1] onto [0, 1], clipping overshoot.
func unitRemap(v float32) float32 {
	return clamp01((v + 1) / 2)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isNaN(v float32) bool { return v != v }
