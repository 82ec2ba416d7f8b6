package testutil

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/scene"
)

// Reflectance of the two synthetic land covers, in digital numbers.
var (
	WoodedPixel    = [features.NumBands]float32{300, 600, 400, 4200}
	NonWoodedPixel = [features.NumBands]float32{900, 1100, 1300, 1900}
)

// SceneSpec describes a synthetic scene. Nil functions omit the layer,
// except Bands, which defaults to Wooded-driven reflectance.
type SceneSpec struct {
	ID     string
	Width  int
	Height int

	// Wooded decides the land cover of a pixel. Defaults to the left half.
	Wooded func(x, y int) bool
	// Bands overrides the reflectance of a pixel.
	Bands func(x, y int) [features.NumBands]float32
	// UDM returns the usable-data mask value; 0 is unusable.
	UDM func(x, y int) uint8
	// Labels returns the reference label; nil derives it from Wooded.
	Labels func(x, y int) uint8
	// NoLabels omits the reference layer.
	NoLabels bool
	// Temporal writes temporal layers derived from the bands.
	Temporal bool

	// LabelGrid and UDMGrid override the grid of those layers to build
	// misaligned scenes.
	LabelGrid *raster.Grid
	UDMGrid   *raster.Grid
}

// Grid returns the grid used for synthetic scenes of the given size.
func Grid(w, h int) raster.Grid {
	return raster.Grid{Width: w, Height: h, ULX: 600001.5, ULY: 5100001.5, XDim: 3, YDim: 3, CRS: "EPSG:32610"}
}

// LeftHalf marks pixels in the left half of a width-wide scene.
func LeftHalf(width int) func(x, y int) bool {
	return func(x, _ int) bool { return x < width/2 }
}

// WriteScene writes the layers of spec into dir on fsys.
func WriteScene(t testing.TB, fsys fsutil.FileSystem, dir string, spec SceneSpec) {
	t.Helper()
	if spec.Wooded == nil {
		spec.Wooded = LeftHalf(spec.Width)
	}
	g := Grid(spec.Width, spec.Height)
	n := g.Pixels()
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	bands := make([][]float32, features.NumBands)
	for b := range bands {
		bands[b] = make([]float32, n)
	}
	for y := 0; y < spec.Height; y++ {
		for x := 0; x < spec.Width; x++ {
			px := NonWoodedPixel
			if spec.Wooded(x, y) {
				px = WoodedPixel
			}
			if spec.Bands != nil {
				px = spec.Bands(x, y)
			}
			for b := range bands {
				bands[b][y*spec.Width+x] = px[b]
			}
		}
	}
	bandNoData := 0.0
	writeLayer(t, fsys, dir, spec.ID, scene.LayerBands, &raster.Header{
		Grid: g, Bands: features.NumBands, Type: raster.Uint16, ByteOrder: binary.LittleEndian, NoData: &bandNoData,
	}, bands)

	if spec.UDM != nil {
		ug := g
		if spec.UDMGrid != nil {
			ug = *spec.UDMGrid
		}
		writeLayer(t, fsys, dir, spec.ID, scene.LayerUDM, &raster.Header{
			Grid: ug, Bands: 1, Type: raster.Uint8, ByteOrder: binary.LittleEndian,
		}, [][]float32{fill(ug, func(x, y int) float32 { return float32(spec.UDM(x, y)) })})
	}

	if !spec.NoLabels {
		lg := g
		if spec.LabelGrid != nil {
			lg = *spec.LabelGrid
		}
		label := spec.Labels
		if label == nil {
			label = func(x, y int) uint8 {
				if spec.Wooded(x, y) {
					return raster.LabelWooded
				}
				return raster.LabelNonWooded
			}
		}
		writeLayer(t, fsys, dir, spec.ID, scene.LayerLabels, raster.LabelHeader(lg),
			[][]float32{fill(lg, func(x, y int) float32 { return float32(label(x, y)) })})
	}

	if spec.Temporal {
		layers := make([][]float32, features.NumTemporal)
		for l := range layers {
			layers[l] = make([]float32, n)
		}
		for i := 0; i < n; i++ {
			v, _ := features.NDVI(bands[features.BandNIR][i]/features.ReflectanceScale, bands[features.BandRed][i]/features.ReflectanceScale)
			layers[features.TemporalMean][i] = v
			layers[features.TemporalMax][i] = v + 0.05
			layers[features.TemporalMin][i] = v - 0.05
			layers[features.TemporalStd][i] = 0.03
			layers[features.TemporalDOYMax][i] = 180.0 / 365
		}
		nd := -9999.0
		writeLayer(t, fsys, dir, spec.ID, scene.LayerTemporal, &raster.Header{
			Grid: g, Bands: features.NumTemporal, Type: raster.Float32, ByteOrder: binary.LittleEndian, NoData: &nd,
		}, layers)
	}
}

func fill(g raster.Grid, f func(x, y int) float32) []float32 {
	out := make([]float32, g.Pixels())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			out[y*g.Width+x] = f(x, y)
		}
	}
	return out
}

func writeLayer(t testing.TB, fsys fsutil.FileSystem, dir, id string, layer scene.Layer, h *raster.Header, bands [][]float32) {
	t.Helper()
	data, err := raster.Encode(h, bands)
	if err != nil {
		t.Fatalf("encode %s: %v", layer, err)
	}
	if err := raster.WriteFiles(fsys, filepath.Join(dir, scene.AssetBase(id, layer)), h, data); err != nil {
		t.Fatalf("write %s: %v", layer, err)
	}
}

// NewSceneStore writes specs into an in-memory filesystem and returns a
// store over it, with the filesystem for further writes.
func NewSceneStore(t testing.TB, cacheEntries int, specs ...SceneSpec) (*scene.Store, *fsutil.MemoryFileSystem) {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	for _, s := range specs {
		WriteScene(t, fsys, "scenes", s)
	}
	return scene.NewStore(scene.NewLocalBackend(fsys, "scenes"), scene.StoreOptions{CacheEntries: cacheEntries}), fsys
}
