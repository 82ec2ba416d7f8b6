package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/woodland.report/internal/raster"
)

func TestTiles_CoverEveryPixel(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ w, h, win, stride int }{
		{64, 64, 16, 8},
		{50, 37, 16, 8},
		{17, 16, 16, 12},
		{100, 20, 32, 31},
		{12, 40, 16, 4},
	} {
		tiles, err := Tiles(tc.w, tc.h, tc.win, tc.stride)
		require.NoError(t, err)
		covered := make([]int, tc.w*tc.h)
		for _, tl := range tiles {
			assert.Equal(t, tc.win, tl.W)
			assert.Equal(t, tc.win, tl.H)
			if tc.w >= tc.win {
				assert.LessOrEqual(t, tl.X+tl.W, tc.w, "tile %s", tl)
			}
			if tc.h >= tc.win {
				assert.LessOrEqual(t, tl.Y+tl.H, tc.h, "tile %s", tl)
			}
			r := tl.Intersect(tc.w, tc.h)
			for y := r.Y; y < r.Y+r.H; y++ {
				for x := r.X; x < r.X+r.W; x++ {
					covered[y*tc.w+x]++
				}
			}
		}
		for i, c := range covered {
			require.Positive(t, c, "pixel %d of %+v uncovered", i, tc)
		}
	}
}

func TestTiles_Layout(t *testing.T) {
	t.Parallel()
	tiles, err := Tiles(20, 8, 8, 6)
	require.NoError(t, err)
	assert.Equal(t, []raster.Window{
		{X: 0, Y: 0, W: 8, H: 8},
		{X: 6, Y: 0, W: 8, H: 8},
		{X: 12, Y: 0, W: 8, H: 8},
	}, tiles)

	single, err := Tiles(10, 12, 16, 16)
	require.NoError(t, err)
	assert.Equal(t, []raster.Window{{X: 0, Y: 0, W: 16, H: 16}}, single)
}

func TestTiles_Errors(t *testing.T) {
	t.Parallel()
	_, err := Tiles(64, 64, 16, 16)
	assert.ErrorContains(t, err, "stride")
	_, err = Tiles(64, 64, 16, 0)
	assert.Error(t, err)
	_, err = Tiles(0, 64, 16, 8)
	assert.Error(t, err)
	_, err = Tiles(64, 64, 0, 8)
	assert.Error(t, err)
}
