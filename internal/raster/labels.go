package raster

import (
	"fmt"
	"image"
	"io"

	"golang.org/x/image/tiff"
)

// DecodeLabelTIFF reads a single-band TIFF label mask and maps it onto the
// label domain: 0 stays non-wooded, 1 stays wooded, anything else becomes
// NoData. The TIFF must have exactly the width and height of grid g; its own
// georeferencing tags are not consulted.
func DecodeLabelTIFF(r io.Reader, g Grid) ([]uint8, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != g.Width || b.Dy() != g.Height {
		return nil, fmt.Errorf("label tiff is %dx%d, scene grid is %dx%d", b.Dx(), b.Dy(), g.Width, g.Height)
	}

	raw := func(x, y int) uint32 { return 0 }
	switch m := img.(type) {
	case *image.Gray:
		raw = func(x, y int) uint32 { return uint32(m.GrayAt(x, y).Y) }
	case *image.Gray16:
		raw = func(x, y int) uint32 { return uint32(m.Gray16At(x, y).Y) }
	case *image.Paletted:
		raw = func(x, y int) uint32 { return uint32(m.ColorIndexAt(x, y)) }
	default:
		return nil, fmt.Errorf("label tiff must be single-band, got %T", img)
	}

	out := make([]uint8, g.Pixels())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := raw(b.Min.X+x, b.Min.Y+y)
			switch v {
			case uint32(LabelNonWooded), uint32(LabelWooded):
				out[y*g.Width+x] = uint8(v)
			default:
				out[y*g.Width+x] = NoData
			}
		}
	}
	return out, nil
}
