package raster

import (
	"bytes"
	"encoding/binary"
	"image"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/banshee-data/woodland.report/internal/fsutil"
)

func testGrid(w, h int) Grid {
	return Grid{Width: w, Height: h, ULX: 500001.5, ULY: 4200001.5, XDim: 3, YDim: 3, CRS: "EPSG:32610"}
}

func TestHeader_RoundTrip(t *testing.T) {
	t.Parallel()
	nd := 0.0
	for _, pt := range []PixelType{Uint8, Int16, Uint16, Float32} {
		h := &Header{Grid: testGrid(7, 5), Bands: 4, Type: pt, ByteOrder: binary.LittleEndian, NoData: &nd}
		text, err := h.MarshalText()
		require.NoError(t, err)

		got, err := ParseHeader(bytes.NewReader(text))
		require.NoError(t, err, pt.String())
		if diff := cmp.Diff(h, got, cmp.Comparer(func(a, b binary.ByteOrder) bool { return a.String() == b.String() })); diff != "" {
			t.Errorf("%v header mismatch (-want +got):\n%s", pt, diff)
		}
	}
}

func TestParseHeader_Errors(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"layout":     "NROWS 2\nNCOLS 2\nLAYOUT BSQ\n",
		"nbits":      "NROWS 2\nNCOLS 2\nNBITS 12\n",
		"rows":       "NROWS x\nNCOLS 2\n",
		"size":       "NROWS 0\nNCOLS 2\n",
		"byteorder":  "NROWS 2\nNCOLS 2\nBYTEORDER Q\n",
		"novalue":    "NROWS\n",
		"pixel size": "NROWS 2\nNCOLS 2\nXDIM -1\n",
	}
	for name, text := range cases {
		_, err := ParseHeader(strings.NewReader(text))
		assert.Error(t, err, name)
	}
}

func TestParseHeader_BigEndianAndComments(t *testing.T) {
	t.Parallel()
	text := "# generated\nnrows 3\nncols 4\nnbands 2\nnbits 16\npixeltype signedint\nbyteorder M\n"
	h, err := ParseHeader(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, Int16, h.Type)
	assert.Equal(t, binary.BigEndian, h.ByteOrder)
	assert.Equal(t, 2, h.Bands)
}

func TestEncodeReadWindow(t *testing.T) {
	t.Parallel()
	g := testGrid(5, 4)
	for _, pt := range []PixelType{Uint8, Int16, Uint16, Float32} {
		for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
			h := &Header{Grid: g, Bands: 2, Type: pt, ByteOrder: order}
			bands := [][]float32{make([]float32, g.Pixels()), make([]float32, g.Pixels())}
			for i := range bands[0] {
				bands[0][i] = float32(i)
				bands[1][i] = float32(100 + i)
			}
			data, err := Encode(h, bands)
			require.NoError(t, err)
			require.Len(t, data, int(h.DataBytes()))

			win := Window{X: 1, Y: 2, W: 3, H: 2}
			got, err := ReadWindow(bytes.NewReader(data), h, win)
			require.NoError(t, err)
			assert.Equal(t, []float32{11, 12, 13, 16, 17, 18}, got[0], "%v %v", pt, order)
			assert.Equal(t, []float32{111, 112, 113, 116, 117, 118}, got[1], "%v %v", pt, order)
		}
	}
}

func TestReadWindow_OutOfBounds(t *testing.T) {
	t.Parallel()
	h := &Header{Grid: testGrid(4, 4), Bands: 1, Type: Uint8, ByteOrder: binary.LittleEndian}
	data := make([]byte, 16)

	_, err := ReadWindow(bytes.NewReader(data), h, Window{X: 2, Y: 2, W: 4, H: 1})
	assert.Error(t, err)
	_, err = ReadWindow(bytes.NewReader(data[:8]), h, Window{X: 0, Y: 2, W: 4, H: 2})
	assert.Error(t, err, "truncated file")
}

func TestReadBandUint8(t *testing.T) {
	t.Parallel()
	g := testGrid(4, 3)
	labels := []uint8{
		0, 1, 1, 255,
		0, 0, 1, 255,
		1, 1, 0, 0,
	}
	h := LabelHeader(g)
	data, err := EncodeUint8(h, labels)
	require.NoError(t, err)

	got, err := ReadBandUint8(bytes.NewReader(data), h, 0, Window{X: 1, Y: 1, W: 3, H: 2})
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 255, 1, 0, 0}, got)

	_, err = ReadBandUint8(bytes.NewReader(data), h, 1, g.Bounds())
	assert.Error(t, err)
}

func TestReadBandUint8_FromMultiBand(t *testing.T) {
	t.Parallel()
	g := testGrid(2, 2)
	h := &Header{Grid: g, Bands: 2, Type: Uint16, ByteOrder: binary.LittleEndian}
	data, err := Encode(h, [][]float32{{1, 2, 3, 4}, {0, 300, 1, 0}})
	require.NoError(t, err)

	got, err := ReadBandUint8(bytes.NewReader(data), h, 1, g.Bounds())
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 255, 1, 0}, got)
}

func TestEncode_Clamps(t *testing.T) {
	t.Parallel()
	h := &Header{Grid: testGrid(3, 1), Bands: 1, Type: Uint8, ByteOrder: binary.LittleEndian}
	data, err := Encode(h, [][]float32{{-4, 300, 1.6}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 255, 2}, data)

	_, err = Encode(h, [][]float32{{1, 2}})
	assert.Error(t, err)
}

func TestGrid_Mismatch(t *testing.T) {
	t.Parallel()
	g := testGrid(10, 10)
	assert.Empty(t, g.Mismatch(g))

	o := g
	o.Width = 11
	assert.Contains(t, g.Mismatch(o), "extent")

	o = g
	o.XDim = 5
	assert.Contains(t, g.Mismatch(o), "resolution")

	o = g
	o.ULX += 3
	assert.Contains(t, g.Mismatch(o), "origin")

	o = g
	o.ULX += 1e-9
	assert.Empty(t, g.Mismatch(o), "sub-micro-pixel drift is tolerated")

	o = g
	o.CRS = "EPSG:4326"
	assert.Contains(t, g.Mismatch(o), "crs")
}

func TestGrid_Sub(t *testing.T) {
	t.Parallel()
	g := testGrid(10, 10)
	s := g.Sub(Window{X: 2, Y: 3, W: 4, H: 4})
	assert.Equal(t, 4, s.Width)
	assert.Equal(t, g.ULX+6, s.ULX)
	assert.Equal(t, g.ULY-9, s.ULY)
}

func TestWindow_Intersect(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Window{X: 8, Y: 0, W: 2, H: 3}, Window{X: 8, Y: -2, W: 4, H: 5}.Intersect(10, 10))
	assert.True(t, Window{X: 12, Y: 0, W: 4, H: 4}.Intersect(10, 10).Empty())
	assert.True(t, Window{X: 0, Y: 0, W: 10, H: 10}.Within(10, 10))
	assert.False(t, Window{X: 1, Y: 0, W: 10, H: 10}.Within(10, 10))
}

func TestWriteFiles_ReadHeaderFile(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	h := LabelHeader(testGrid(2, 2))
	data, err := EncodeUint8(h, []uint8{0, 1, 255, 1})
	require.NoError(t, err)

	require.NoError(t, WriteFiles(fsys, "/out/s1_wooded_pred", h, data))
	assert.False(t, fsys.HasTempFiles())

	got, err := ReadHeaderFile(fsys, "/out/s1_wooded_pred")
	require.NoError(t, err)
	assert.Empty(t, got.Mismatch(h.Grid))
	require.NotNil(t, got.NoData)
	assert.Equal(t, 255.0, *got.NoData)

	assert.Error(t, WriteFiles(fsys, "/out/bad", h, data[:3]))
}

func TestDecodeLabelTIFF(t *testing.T) {
	t.Parallel()
	g := testGrid(3, 2)
	img := image.NewGray(image.Rect(0, 0, 3, 2))
	copy(img.Pix, []uint8{0, 1, 2, 1, 255, 0})

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))

	got, err := DecodeLabelTIFF(bytes.NewReader(buf.Bytes()), g)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 255, 1, 255, 0}, got)

	_, err = DecodeLabelTIFF(bytes.NewReader(buf.Bytes()), testGrid(4, 2))
	assert.Error(t, err)
}
