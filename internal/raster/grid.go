package raster

import (
	"fmt"
	"math"
)

// Label values shared by reference rasters and predictions.
const (
	LabelNonWooded uint8 = 0
	LabelWooded    uint8 = 1
	NoData         uint8 = 255
)

// Grid is the georeferenced pixel lattice of a layer.
type Grid struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	ULX    float64 `json:"ulx"` // x of the upper-left pixel centre
	ULY    float64 `json:"uly"` // y of the upper-left pixel centre
	XDim   float64 `json:"xdim"`
	YDim   float64 `json:"ydim"`
	CRS    string  `json:"crs"`
}

// Pixels returns Width*Height.
func (g Grid) Pixels() int { return g.Width * g.Height }

// Bounds returns the full-grid window.
func (g Grid) Bounds() Window { return Window{W: g.Width, H: g.Height} }

// Mismatch reports the first property in which g and o disagree, or "" when
// they describe the same lattice. Coordinates compare with a tolerance of a
// millionth of a pixel.
func (g Grid) Mismatch(o Grid) string {
	switch {
	case g.Width != o.Width || g.Height != o.Height:
		return fmt.Sprintf("extent %dx%d vs %dx%d", g.Width, g.Height, o.Width, o.Height)
	case !closeTo(g.XDim, o.XDim, 1e-9) || !closeTo(g.YDim, o.YDim, 1e-9):
		return fmt.Sprintf("resolution %gx%g vs %gx%g", g.XDim, g.YDim, o.XDim, o.YDim)
	case !closeTo(g.ULX, o.ULX, g.XDim*1e-6) || !closeTo(g.ULY, o.ULY, g.YDim*1e-6):
		return fmt.Sprintf("origin (%g, %g) vs (%g, %g)", g.ULX, g.ULY, o.ULX, o.ULY)
	case g.CRS != o.CRS:
		return fmt.Sprintf("crs %q vs %q", g.CRS, o.CRS)
	}
	return ""
}

// Sub returns the grid of a window inside g.
func (g Grid) Sub(w Window) Grid {
	return Grid{
		Width:  w.W,
		Height: w.H,
		ULX:    g.ULX + float64(w.X)*g.XDim,
		ULY:    g.ULY - float64(w.Y)*g.YDim,
		XDim:   g.XDim,
		YDim:   g.YDim,
		CRS:    g.CRS,
	}
}

func closeTo(a, b, tol float64) bool {
	if tol <= 0 {
		tol = 1e-12
	}
	return math.Abs(a-b) <= tol
}

// Window is a pixel rectangle: origin (X, Y) and size W x H.
type Window struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the window has no pixels.
func (w Window) Empty() bool { return w.W <= 0 || w.H <= 0 }

// Pixels returns W*H.
func (w Window) Pixels() int { return w.W * w.H }

// Intersect clips w to the rectangle [0,width) x [0,height).
func (w Window) Intersect(width, height int) Window {
	x0, y0 := max(w.X, 0), max(w.Y, 0)
	x1, y1 := min(w.X+w.W, width), min(w.Y+w.H, height)
	if x1 <= x0 || y1 <= y0 {
		return Window{X: x0, Y: y0}
	}
	return Window{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Within reports whether w lies entirely inside a width x height grid.
func (w Window) Within(width, height int) bool {
	return w.X >= 0 && w.Y >= 0 && w.X+w.W <= width && w.Y+w.H <= height
}

func (w Window) String() string {
	return fmt.Sprintf("%d,%d+%dx%d", w.X, w.Y, w.W, w.H)
}
