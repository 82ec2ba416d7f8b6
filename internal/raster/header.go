package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// PixelType is the on-disk sample encoding.
type PixelType int

const (
	Uint8 PixelType = iota
	Int16
	Uint16
	Float32
)

// Size returns bytes per sample.
func (p PixelType) Size() int {
	switch p {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32:
		return 4
	}
	return 0
}

func (p PixelType) String() string {
	switch p {
	case Uint8:
		return "uint8"
	case Int16:
		return "int16"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	}
	return fmt.Sprintf("PixelType(%d)", int(p))
}

// Header describes one BIL file.
type Header struct {
	Grid
	Bands     int
	Type      PixelType
	ByteOrder binary.ByteOrder
	// NoData is the declared fill value, if any.
	NoData *float64
}

// RowBytes is the size of one image row across all bands.
func (h *Header) RowBytes() int64 {
	return int64(h.Width) * int64(h.Bands) * int64(h.Type.Size())
}

// DataBytes is the expected size of the .bil file.
func (h *Header) DataBytes() int64 {
	return h.RowBytes() * int64(h.Height)
}

// Validate checks that the header describes a readable grid.
func (h *Header) Validate() error {
	if h.Width <= 0 || h.Height <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", h.Width, h.Height)
	}
	if h.Bands <= 0 {
		return fmt.Errorf("invalid band count %d", h.Bands)
	}
	if h.Type.Size() == 0 {
		return fmt.Errorf("unsupported pixel type %v", h.Type)
	}
	if h.XDim <= 0 || h.YDim <= 0 {
		return fmt.Errorf("invalid pixel size %gx%g", h.XDim, h.YDim)
	}
	return nil
}

// ParseHeader reads an ESRI BIL .hdr. Keys are case-insensitive; unknown
// keys are ignored. PROJECTION carries the CRS identifier.
func ParseHeader(r io.Reader) (*Header, error) {
	h := &Header{Bands: 1, Type: Uint8, ByteOrder: binary.LittleEndian, Grid: Grid{XDim: 1, YDim: 1}}
	var nbits int
	pixelType := "UNSIGNEDINT"
	layout := "BIL"

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("header line %d: missing value for %s", line, fields[0])
		}
		key, val := strings.ToUpper(fields[0]), fields[1]

		var err error
		switch key {
		case "NROWS":
			h.Height, err = strconv.Atoi(val)
		case "NCOLS":
			h.Width, err = strconv.Atoi(val)
		case "NBANDS":
			h.Bands, err = strconv.Atoi(val)
		case "NBITS":
			nbits, err = strconv.Atoi(val)
		case "PIXELTYPE":
			pixelType = strings.ToUpper(val)
		case "BYTEORDER":
			switch strings.ToUpper(val) {
			case "I", "LSBFIRST":
				h.ByteOrder = binary.LittleEndian
			case "M", "MSBFIRST":
				h.ByteOrder = binary.BigEndian
			default:
				err = fmt.Errorf("unknown byte order %q", val)
			}
		case "LAYOUT", "INTERLEAVING":
			layout = strings.ToUpper(val)
		case "ULXMAP":
			h.ULX, err = strconv.ParseFloat(val, 64)
		case "ULYMAP":
			h.ULY, err = strconv.ParseFloat(val, 64)
		case "XDIM":
			h.XDim, err = strconv.ParseFloat(val, 64)
		case "YDIM":
			h.YDim, err = strconv.ParseFloat(val, 64)
		case "NODATA":
			var nd float64
			nd, err = strconv.ParseFloat(val, 64)
			h.NoData = &nd
		case "PROJECTION":
			h.CRS = val
		}
		if err != nil {
			return nil, fmt.Errorf("header line %d (%s): %w", line, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if layout != "BIL" {
		return nil, fmt.Errorf("unsupported layout %q", layout)
	}

	if nbits == 0 {
		nbits = 8
	}
	switch {
	case nbits == 8 && pixelType != "FLOAT":
		h.Type = Uint8
	case nbits == 16 && pixelType == "SIGNEDINT":
		h.Type = Int16
	case nbits == 16 && pixelType == "UNSIGNEDINT":
		h.Type = Uint16
	case nbits == 32 && pixelType == "FLOAT":
		h.Type = Float32
	default:
		return nil, fmt.Errorf("unsupported NBITS %d with PIXELTYPE %s", nbits, pixelType)
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// MarshalText renders the header in .hdr form.
func (h *Header) MarshalText() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	var b bytes.Buffer
	order := "I"
	if h.ByteOrder == binary.BigEndian {
		order = "M"
	}
	pixelType := "UNSIGNEDINT"
	switch h.Type {
	case Int16:
		pixelType = "SIGNEDINT"
	case Float32:
		pixelType = "FLOAT"
	}
	fmt.Fprintf(&b, "BYTEORDER      %s\n", order)
	fmt.Fprintf(&b, "LAYOUT         BIL\n")
	fmt.Fprintf(&b, "NROWS          %d\n", h.Height)
	fmt.Fprintf(&b, "NCOLS          %d\n", h.Width)
	fmt.Fprintf(&b, "NBANDS         %d\n", h.Bands)
	fmt.Fprintf(&b, "NBITS          %d\n", h.Type.Size()*8)
	fmt.Fprintf(&b, "PIXELTYPE      %s\n", pixelType)
	fmt.Fprintf(&b, "BANDROWBYTES   %d\n", h.Width*h.Type.Size())
	fmt.Fprintf(&b, "TOTALROWBYTES  %d\n", h.RowBytes())
	fmt.Fprintf(&b, "ULXMAP         %s\n", strconv.FormatFloat(h.ULX, 'f', -1, 64))
	fmt.Fprintf(&b, "ULYMAP         %s\n", strconv.FormatFloat(h.ULY, 'f', -1, 64))
	fmt.Fprintf(&b, "XDIM           %s\n", strconv.FormatFloat(h.XDim, 'f', -1, 64))
	fmt.Fprintf(&b, "YDIM           %s\n", strconv.FormatFloat(h.YDim, 'f', -1, 64))
	if h.NoData != nil && !math.IsNaN(*h.NoData) {
		fmt.Fprintf(&b, "NODATA         %s\n", strconv.FormatFloat(*h.NoData, 'f', -1, 64))
	}
	if h.CRS != "" {
		fmt.Fprintf(&b, "PROJECTION     %s\n", h.CRS)
	}
	return b.Bytes(), nil
}
