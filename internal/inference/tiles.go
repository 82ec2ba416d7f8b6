// Package inference applies a trained model to whole scenes.
//
// A scene is covered by overlapping square tiles. Tile logits are averaged
// per pixel by a single reducer goroutine, thresholded after averaging, and
// forced to NoData wherever the input is invalid.
package inference

import (
	"fmt"

	"github.com/banshee-data/woodland.report/internal/raster"
)

// Tiles covers a width x height grid with window x window tiles placed
// every stride pixels. The last tile of each row and column is snapped to
// the edge, so every pixel is covered. On an axis shorter than window the
// single tile starts at 0 and reaches past the grid; callers pad it.
//
// stride must be smaller than window unless one tile covers the grid.
func Tiles(width, height, window, stride int) ([]raster.Window, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("empty grid %dx%d", width, height)
	}
	if window < 1 {
		return nil, fmt.Errorf("tile window must be positive, got %d", window)
	}
	single := window >= width && window >= height
	if !single && (stride < 1 || stride >= window) {
		return nil, fmt.Errorf("tile stride must be in [1, %d), got %d", window, stride)
	}
	xs := offsets(width, window, stride)
	ys := offsets(height, window, stride)
	out := make([]raster.Window, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			out = append(out, raster.Window{X: x, Y: y, W: window, H: window})
		}
	}
	return out, nil
}

func offsets(n, window, stride int) []int {
	if n <= window {
		return []int{0}
	}
	var out []int
	for p := 0; p+window < n; p += stride {
		out = append(out, p)
	}
	if last := n - window; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}
