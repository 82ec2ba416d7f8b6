package raster

import (
	"fmt"
	"io"
	"math"
)

// ReadWindow reads every band of win from a BIL stream described by h. The
// result is band-major: out[b][row*win.W+col]. One contiguous ReadAt covers
// the window's rows so remote readers issue a single range request.
func ReadWindow(r io.ReaderAt, h *Header, win Window) ([][]float32, error) {
	if win.Empty() || !win.Within(h.Width, h.Height) {
		return nil, fmt.Errorf("window %s outside %dx%d grid", win, h.Width, h.Height)
	}
	rowBytes := h.RowBytes()
	buf := make([]byte, rowBytes*int64(win.H))
	if _, err := r.ReadAt(buf, rowBytes*int64(win.Y)); err != nil {
		return nil, fmt.Errorf("read rows %d..%d: %w", win.Y, win.Y+win.H-1, err)
	}

	size := h.Type.Size()
	bandRow := h.Width * size
	out := make([][]float32, h.Bands)
	for b := range out {
		out[b] = make([]float32, win.Pixels())
	}
	for row := 0; row < win.H; row++ {
		rowStart := int64(row) * rowBytes
		for b := 0; b < h.Bands; b++ {
			start := rowStart + int64(b*bandRow+win.X*size)
			dst := out[b][row*win.W : (row+1)*win.W]
			decode(dst, buf[start:start+int64(win.W*size)], h)
		}
	}
	return out, nil
}

// ReadBandUint8 reads one band of win as raw bytes. It is intended for
// uint8 masks and labels; other pixel types are converted with saturation.
func ReadBandUint8(r io.ReaderAt, h *Header, band int, win Window) ([]uint8, error) {
	if band < 0 || band >= h.Bands {
		return nil, fmt.Errorf("band %d out of range (have %d)", band, h.Bands)
	}
	if h.Type == Uint8 && h.Bands == 1 {
		if win.Empty() || !win.Within(h.Width, h.Height) {
			return nil, fmt.Errorf("window %s outside %dx%d grid", win, h.Width, h.Height)
		}
		out := make([]uint8, win.Pixels())
		rowBuf := make([]byte, h.Width*win.H)
		if _, err := r.ReadAt(rowBuf, int64(win.Y)*int64(h.Width)); err != nil {
			return nil, fmt.Errorf("read rows %d..%d: %w", win.Y, win.Y+win.H-1, err)
		}
		for row := 0; row < win.H; row++ {
			copy(out[row*win.W:(row+1)*win.W], rowBuf[row*h.Width+win.X:])
		}
		return out, nil
	}

	bands, err := ReadWindow(r, h, win)
	if err != nil {
		return nil, err
	}
	out := make([]uint8, win.Pixels())
	for i, v := range bands[band] {
		out[i] = uint8(math.Max(0, math.Min(255, float64(v))))
	}
	return out, nil
}

func decode(dst []float32, src []byte, h *Header) {
	order := h.ByteOrder
	switch h.Type {
	case Uint8:
		for i := range dst {
			dst[i] = float32(src[i])
		}
	case Int16:
		for i := range dst {
			dst[i] = float32(int16(order.Uint16(src[2*i:])))
		}
	case Uint16:
		for i := range dst {
			dst[i] = float32(order.Uint16(src[2*i:]))
		}
	case Float32:
		for i := range dst {
			dst[i] = math.Float32frombits(order.Uint32(src[4*i:]))
		}
	}
}

// Encode serialises band-major samples (bands[b][row*Width+col]) into BIL.
// Values are rounded and clamped to the pixel type's range.
func Encode(h *Header, bands [][]float32) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	if len(bands) != h.Bands {
		return nil, fmt.Errorf("got %d bands, header declares %d", len(bands), h.Bands)
	}
	for b, band := range bands {
		if len(band) != h.Pixels() {
			return nil, fmt.Errorf("band %d has %d samples, want %d", b, len(band), h.Pixels())
		}
	}

	size := h.Type.Size()
	out := make([]byte, h.DataBytes())
	order := h.ByteOrder
	pos := 0
	for row := 0; row < h.Height; row++ {
		for b := 0; b < h.Bands; b++ {
			for _, v := range bands[b][row*h.Width : (row+1)*h.Width] {
				switch h.Type {
				case Uint8:
					out[pos] = uint8(clampRound(v, 0, math.MaxUint8))
				case Int16:
					order.PutUint16(out[pos:], uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
				case Uint16:
					order.PutUint16(out[pos:], uint16(clampRound(v, 0, math.MaxUint16)))
				case Float32:
					order.PutUint32(out[pos:], math.Float32bits(v))
				}
				pos += size
			}
		}
	}
	return out, nil
}

// EncodeUint8 serialises a single-band uint8 raster, the prediction and
// label format.
func EncodeUint8(h *Header, data []uint8) ([]byte, error) {
	if h.Bands != 1 || h.Type != Uint8 {
		return nil, fmt.Errorf("EncodeUint8 needs a single uint8 band, header has %d %v", h.Bands, h.Type)
	}
	if len(data) != h.Pixels() {
		return nil, fmt.Errorf("got %d samples, want %d", len(data), h.Pixels())
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func clampRound(v float32, lo, hi float64) float64 {
	f := math.Round(float64(v))
	if math.IsNaN(f) {
		return lo
	}
	return math.Max(lo, math.Min(hi, f))
}

// LabelHeader returns a single-band uint8 header on grid g with NoData 255,
// the layout of reference labels and predictions.
func LabelHeader(g Grid) *Header {
	nd := float64(NoData)
	return &Header{Grid: g, Bands: 1, Type: Uint8, ByteOrder: littleEndian, NoData: &nd}
}
