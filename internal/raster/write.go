package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/woodland.report/internal/fsutil"
)

var littleEndian = binary.LittleEndian

// Paths returns the .bil and .hdr paths for a base name.
func Paths(base string) (bil, hdr string) {
	return base + ".bil", base + ".hdr"
}

// WriteFiles writes data and its header atomically. The .bil lands before
// the .hdr, so a reader that finds the header also finds complete data.
func WriteFiles(fsys fsutil.FileSystem, base string, h *Header, data []byte) error {
	if int64(len(data)) != h.DataBytes() {
		return fmt.Errorf("data is %d bytes, header implies %d", len(data), h.DataBytes())
	}
	hdrText, err := h.MarshalText()
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	bilPath, hdrPath := Paths(base)
	if err := fsutil.WriteFileAtomic(fsys, bilPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", bilPath, err)
	}
	if err := fsutil.WriteFileAtomic(fsys, hdrPath, hdrText, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", hdrPath, err)
	}
	return nil
}

// ReadHeaderFile parses the .hdr for base.
func ReadHeaderFile(fsys fsutil.FileSystem, base string) (*Header, error) {
	_, hdrPath := Paths(base)
	data, err := fsys.ReadFile(hdrPath)
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", hdrPath, err)
	}
	return h, nil
}
