package inference

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/scene"
	"github.com/banshee-data/woodland.report/internal/testutil"
	"github.com/banshee-data/woodland.report/internal/unet"
)

func init() {
	monitoring.SetLogger(nil)
}

func testCheckpoint(t *testing.T, set features.ChannelSet, patch int) *unet.Checkpoint {
	t.Helper()
	m, err := unet.New(unet.Arch{InChannels: set.Len(), BaseFilters: 2, Depth: 2}, 13)
	require.NoError(t, err)
	return &unet.Checkpoint{
		Arch:     m.Arch(),
		Contract: unet.Contract{Channels: set.Clone(), PatchSize: patch},
		Params:   m.Params(),
	}
}

// direct runs the model on win without tiling.
func direct(t *testing.T, store *scene.Store, ck *unet.Checkpoint, id string, win raster.Window) ([]float32, []bool) {
	t.Helper()
	m, err := ck.Model()
	require.NoError(t, err)
	st, _, err := store.Features(context.Background(), id, ck.Contract.Channels, win)
	require.NoError(t, err)
	x, err := unet.FromData(st.Set.Len(), win.H, win.W, st.Data)
	require.NoError(t, err)
	out, err := m.Predict(x)
	require.NoError(t, err)
	return out.Data, st.Valid
}

func label(logit float64) uint8 {
	if sigmoid(logit) > 0.5 {
		return raster.LabelWooded
	}
	return raster.LabelNonWooded
}

func TestPredict_FullSceneWindowMatchesModel(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{
		ID: "A", Width: 16, Height: 16,
		UDM: func(x, y int) uint8 {
			if x == 3 && y < 4 {
				return 0
			}
			return 1
		},
	})
	ck := testCheckpoint(t, features.IndicesSet, 16)
	e, err := NewEngine(store, ck, features.IndicesSet, Options{Workers: 2})
	require.NoError(t, err)

	p, err := e.Predict(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Tiles)

	logits, valid := direct(t, store, ck, "A", raster.Window{W: 16, H: 16})
	for i, z := range logits {
		want := label(float64(z))
		if !valid[i] {
			want = raster.NoData
		}
		require.Equal(t, want, p.Labels[i], "pixel %d", i)
	}
	assert.Equal(t, raster.NoData, p.Labels[0*16+3])
	assert.True(t, math.IsNaN(float64(p.Prob[3])))
	s := p.Summary()
	assert.Equal(t, 4, s.NoData)
	assert.Equal(t, 256, s.Wooded+s.NonWooded+s.NoData)
}

func TestPredict_AveragesOverlappingLogits(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 8, testutil.SceneSpec{ID: "A", Width: 16, Height: 12})
	ck := testCheckpoint(t, features.IndicesSet, 8)
	e, err := NewEngine(store, ck, features.IndicesSet, Options{Workers: 3, Stride: 4})
	require.NoError(t, err)

	p, err := e.Predict(context.Background(), "A")
	require.NoError(t, err)

	tiles, err := Tiles(16, 12, 8, 4)
	require.NoError(t, err)
	assert.Equal(t, len(tiles), p.Tiles)
	sum := make([]float64, 16*12)
	count := make([]int, 16*12)
	for _, tl := range tiles {
		logits, _ := direct(t, store, ck, "A", tl)
		for y := 0; y < tl.H; y++ {
			for x := 0; x < tl.W; x++ {
				i := (tl.Y+y)*16 + tl.X + x
				sum[i] += float64(logits[y*tl.W+x])
				count[i]++
			}
		}
	}
	for i := range sum {
		mean := sum[i] / float64(count[i])
		assert.InDelta(t, sigmoid(mean), float64(p.Prob[i]), 1e-5, "pixel %d", i)
	}
}

func TestPredict_PadsSmallScenes(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "small", Width: 12, Height: 10})
	ck := testCheckpoint(t, features.IndicesSet, 16)
	e, err := NewEngine(store, ck, features.IndicesSet, Options{})
	require.NoError(t, err)

	p, err := e.Predict(context.Background(), "small")
	require.NoError(t, err)
	assert.Len(t, p.Labels, 120)
	assert.Equal(t, testutil.Grid(12, 10), p.Grid)
	assert.Zero(t, p.Summary().NoData)
}

func TestNewEngine_ContractMismatch(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "A", Width: 16, Height: 16})
	ck := testCheckpoint(t, features.IndicesSet, 16)

	_, err := NewEngine(store, ck, features.ExtendedSet, Options{})
	var ce *unet.ContractError
	assert.True(t, errors.As(err, &ce), "got %v", err)

	_, err = NewEngine(store, ck, features.IndicesSet, Options{Window: 5})
	assert.ErrorContains(t, err, "multiple of 2")
}

func TestPredict_Cancelled(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "A", Width: 32, Height: 32})
	e, err := NewEngine(store, testCheckpoint(t, features.IndicesSet, 8), features.IndicesSet, Options{Workers: 2})
	require.NoError(t, err)
	_, err = store.LoadScene(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Predict(ctx, "A")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictScenes_IsolatesFailures(t *testing.T) {
	t.Parallel()
	bad := testutil.Grid(16, 16)
	bad.ULX += 30
	store, fsys := testutil.NewSceneStore(t, 0,
		testutil.SceneSpec{ID: "good", Width: 16, Height: 16},
		testutil.SceneSpec{ID: "shifted", Width: 16, Height: 16, UDM: func(int, int) uint8 { return 1 }, UDMGrid: &bad},
	)
	e, err := NewEngine(store, testCheckpoint(t, features.IndicesSet, 8), features.IndicesSet, Options{Scenes: 2})
	require.NoError(t, err)

	var mu sync.Mutex
	var written []string
	results := e.PredictScenes(context.Background(), []string{"good", "shifted"}, func(_ context.Context, p *Prediction) error {
		base, err := Write(fsys, "scenes", p)
		mu.Lock()
		written = append(written, base)
		mu.Unlock()
		return err
	})
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 256, results[0].Summary.Wooded+results[0].Summary.NonWooded)
	var ae *scene.AlignmentError
	assert.True(t, errors.As(results[1].Err, &ae), "got %v", results[1].Err)
	assert.Equal(t, []string{"scenes/good_wooded_pred"}, written)

	pred, ref, err := store.Comparison(context.Background(), "good")
	require.NoError(t, err)
	assert.Len(t, pred, 256)
	assert.Len(t, ref, 256)
}
