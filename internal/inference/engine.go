package inference

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/scene"
	"github.com/banshee-data/woodland.report/internal/unet"
)

var logf = monitoring.Component("infer")

// Options tunes an Engine. Zero values pick defaults.
type Options struct {
	// Workers run tiles concurrently; defaults to the CPU count.
	Workers int
	// Window is the tile size; defaults to the checkpoint's patch size.
	Window int
	// Stride defaults to half the window.
	Stride int
	// Scenes bounds how many scenes PredictScenes runs at once; default 1.
	Scenes   int
	Progress bool
}

// Engine runs one checkpoint over scenes of a store.
type Engine struct {
	store *scene.Store
	model *unet.Model
	set   features.ChannelSet
	opts  Options
}

// Prediction is the classified raster of one scene, on the scene's grid.
type Prediction struct {
	SceneID string
	Grid    raster.Grid
	// Labels holds 0, 1 or raster.NoData per pixel.
	Labels []uint8
	// Prob is the wooded probability of the averaged logit; NaN where the
	// label is NoData.
	Prob  []float32
	Tiles int
}

// Summary counts the classes of a prediction.
type Summary struct {
	Wooded    int `json:"wooded"`
	NonWooded int `json:"non_wooded"`
	NoData    int `json:"nodata"`
	Tiles     int `json:"tiles"`
}

// Summary counts the labels of p.
func (p *Prediction) Summary() Summary {
	s := Summary{Tiles: p.Tiles}
	for _, v := range p.Labels {
		switch v {
		case raster.LabelWooded:
			s.Wooded++
		case raster.LabelNonWooded:
			s.NonWooded++
		default:
			s.NoData++
		}
	}
	return s
}

// NewEngine checks that set matches the checkpoint's channel contract and
// rebuilds the model. A mismatch is a *unet.ContractError.
func NewEngine(store *scene.Store, ck *unet.Checkpoint, set features.ChannelSet, opts Options) (*Engine, error) {
	if err := ck.Verify(set, 0); err != nil {
		return nil, err
	}
	m, err := ck.Model()
	if err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Scenes < 1 {
		opts.Scenes = 1
	}
	if opts.Window == 0 {
		opts.Window = ck.Contract.PatchSize
	}
	if mul := ck.Arch.Multiple(); opts.Window < mul || opts.Window%mul != 0 {
		return nil, fmt.Errorf("tile window %d must be a positive multiple of %d", opts.Window, mul)
	}
	if opts.Stride == 0 {
		opts.Stride = max(1, opts.Window/2)
	}
	return &Engine{store: store, model: m, set: set.Clone(), opts: opts}, nil
}

// Options returns the resolved options.
func (e *Engine) Options() Options { return e.opts }

type tileResult struct {
	win    raster.Window
	logits []float32
	valid  []bool
}

// Predict classifies scene id. Cancelling ctx stops between tiles and
// discards tiles in flight.
func (e *Engine) Predict(ctx context.Context, id string) (*Prediction, error) {
	sc, err := e.store.LoadScene(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.set.NeedsTemporal() && !sc.HasTemporal() {
		return nil, fmt.Errorf("scene %s: channel set %s needs the %s layer", id, e.set.ID, scene.LayerTemporal)
	}
	w, h := sc.Grid.Width, sc.Grid.Height
	tiles, err := Tiles(w, h, e.opts.Window, e.opts.Stride)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", id, err)
	}
	bar := monitoring.NewProgress(e.opts.Progress, id, len(tiles))
	defer bar.Done()

	g, gctx := errgroup.WithContext(ctx)
	work := make(chan raster.Window)
	results := make(chan tileResult)
	g.Go(func() error {
		defer close(work)
		for _, t := range tiles {
			select {
			case work <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	var workers sync.WaitGroup
	for range min(e.opts.Workers, len(tiles)) {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for t := range work {
				r, err := e.tile(gctx, id, w, h, t)
				if err != nil {
					return err
				}
				select {
				case results <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// The reducer owns sum, count and valid; no other goroutine touches them.
	n := w * h
	sum := make([]float32, n)
	count := make([]int32, n)
	valid := make([]bool, n)
	for r := range results {
		for y := 0; y < r.win.H; y++ {
			row := (r.win.Y+y)*w + r.win.X
			for x := 0; x < r.win.W; x++ {
				i := y*r.win.W + x
				sum[row+x] += r.logits[i]
				count[row+x]++
				valid[row+x] = r.valid[i]
			}
		}
		bar.Incr()
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scene %s: %w", id, err)
	}

	p := &Prediction{SceneID: id, Grid: sc.Grid, Labels: make([]uint8, n), Prob: make([]float32, n), Tiles: len(tiles)}
	for i := range p.Labels {
		if !valid[i] || count[i] == 0 {
			p.Labels[i] = raster.NoData
			p.Prob[i] = float32(math.NaN())
			continue
		}
		prob := sigmoid(float64(sum[i]) / float64(count[i]))
		p.Prob[i] = float32(prob)
		if prob > 0.5 {
			p.Labels[i] = raster.LabelWooded
		} else {
			p.Labels[i] = raster.LabelNonWooded
		}
	}
	s := p.Summary()
	logf("%s: %d tiles, %d wooded, %d non-wooded, %d nodata", id, len(tiles), s.Wooded, s.NonWooded, s.NoData)
	return p, nil
}

// tile runs the model on t. The part of t inside the grid is read; the rest
// is filled by repeating the last row and column.
func (e *Engine) tile(ctx context.Context, id string, width, height int, t raster.Window) (tileResult, error) {
	if err := ctx.Err(); err != nil {
		return tileResult{}, err
	}
	read := t.Intersect(width, height)
	st, _, err := e.store.Features(ctx, id, e.set, read)
	if err != nil {
		return tileResult{}, err
	}
	c := st.Set.Len()
	x := unet.NewTensor(c, t.H, t.W)
	for ch := 0; ch < c; ch++ {
		src := st.Channel(ch)
		dst := x.Plane(ch)
		for ty := 0; ty < t.H; ty++ {
			sy := min(ty, read.H-1)
			for tx := 0; tx < t.W; tx++ {
				dst[ty*t.W+tx] = src[sy*read.W+min(tx, read.W-1)]
			}
		}
	}
	out, err := e.model.Predict(x)
	if err != nil {
		return tileResult{}, fmt.Errorf("tile %s: %w", t, err)
	}
	logits := make([]float32, read.Pixels())
	for y := 0; y < read.H; y++ {
		copy(logits[y*read.W:(y+1)*read.W], out.Data[y*t.W:y*t.W+read.W])
	}
	return tileResult{win: read, logits: logits, valid: st.Valid}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}

// Write stores p as the {id}_wooded_pred asset under dir, on the scene's grid.
func Write(fsys fsutil.FileSystem, dir string, p *Prediction) (string, error) {
	h := raster.LabelHeader(p.Grid)
	data, err := raster.EncodeUint8(h, p.Labels)
	if err != nil {
		return "", err
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	base := filepath.Join(dir, scene.AssetBase(p.SceneID, scene.LayerPrediction))
	if err := raster.WriteFiles(fsys, base, h, data); err != nil {
		return "", err
	}
	return base, nil
}

// SceneResult is the outcome of one scene of PredictScenes.
type SceneResult struct {
	SceneID string
	Summary Summary
	Err     error
}

// PredictScenes classifies ids independently, up to Options.Scenes at a
// time, and hands each prediction to sink. A failing scene is reported in
// its result and does not stop the others. sink may be called concurrently.
func (e *Engine) PredictScenes(ctx context.Context, ids []string, sink func(context.Context, *Prediction) error) []SceneResult {
	results := make([]SceneResult, len(ids))
	var g errgroup.Group
	g.SetLimit(e.opts.Scenes)
	for i, id := range ids {
		g.Go(func() error {
			results[i].SceneID = id
			p, err := e.Predict(ctx, id)
			if err == nil && sink != nil {
				err = sink(ctx, p)
			}
			if err != nil {
				monitoring.Warnf("infer", "%s: %v", id, err)
				results[i].Err = err
				return nil
			}
			results[i].Summary = p.Summary()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
