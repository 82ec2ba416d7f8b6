// Package raster reads and writes the band-interleaved-by-line (BIL) grids
// that carry scene assets, with their ESRI-style .hdr sidecars.
//
// A Header fully describes a grid: size, georeferencing (upper-left pixel
// centre, pixel size, CRS), band count, pixel type and byte order. Windows
// are read with io.ReaderAt so only the requested rows are fetched, which
// keeps large scenes out of memory and lets remote backends issue ranged
// reads.
//
// Label rasters use a single uint8 band with LabelNonWooded, LabelWooded and
// NoData.
package raster
