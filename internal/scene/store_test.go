package scene_test

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/woodland.report/internal/features"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/raster"
	"github.com/banshee-data/woodland.report/internal/scene"
	"github.com/banshee-data/woodland.report/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func TestLoadScene(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "S1", Width: 16, Height: 8,
		UDM: func(x, y int) uint8 { return 1 }})

	sc, err := store.LoadScene(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, testutil.Grid(16, 8), sc.Grid)
	assert.NotNil(t, sc.UDM)
	assert.True(t, sc.HasLabels())
	assert.False(t, sc.HasTemporal())
	// Two land covers: the stretch spans at least both NIR values.
	assert.LessOrEqual(t, sc.Norm.Lo[features.BandNIR], testutil.NonWoodedPixel[features.BandNIR])
	assert.GreaterOrEqual(t, sc.Norm.Hi[features.BandNIR], testutil.WoodedPixel[features.BandNIR])

	again, err := store.LoadScene(context.Background(), "S1")
	require.NoError(t, err)
	assert.Same(t, sc, again)
}

func TestLoadScene_Missing(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0)
	_, err := store.LoadScene(context.Background(), "nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = store.LoadScene(context.Background(), "../etc")
	assert.Error(t, err)
}

func TestLoadScene_AlignmentError(t *testing.T) {
	t.Parallel()
	wide := testutil.Grid(17, 8)
	shifted := testutil.Grid(16, 8)
	shifted.ULX += 30
	utm := testutil.Grid(16, 8)
	utm.CRS = "EPSG:32611"
	coarse := testutil.Grid(16, 8)
	coarse.XDim = 5

	cases := []struct {
		name   string
		spec   testutil.SceneSpec
		layer  scene.Layer
		detail string
	}{
		{"extent", testutil.SceneSpec{LabelGrid: &wide}, scene.LayerLabels, "extent"},
		{"origin", testutil.SceneSpec{LabelGrid: &shifted}, scene.LayerLabels, "origin"},
		{"crs", testutil.SceneSpec{UDM: func(x, y int) uint8 { return 1 }, UDMGrid: &utm}, scene.LayerUDM, "crs"},
		{"resolution", testutil.SceneSpec{LabelGrid: &coarse}, scene.LayerLabels, "resolution"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			spec := tc.spec
			spec.ID, spec.Width, spec.Height = "M1", 16, 8
			store, _ := testutil.NewSceneStore(t, 0, spec)

			_, err := store.LoadScene(context.Background(), "M1")
			var ae *scene.AlignmentError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "M1", ae.SceneID)
			assert.Equal(t, tc.layer, ae.Layer)
			assert.Equal(t, scene.LayerBands, ae.Against)
			assert.Contains(t, ae.Detail, tc.detail)
			assert.Contains(t, err.Error(), tc.layer.String())

			_, err = store.ReadWindow(context.Background(), "M1", raster.Window{W: 4, H: 4})
			assert.ErrorAs(t, err, &ae)
		})
	}
}

func TestReadWindow(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "S1", Width: 16, Height: 8,
		UDM: func(x, y int) uint8 {
			if x == 1 && y == 1 {
				return 0
			}
			return 1
		},
		Labels: func(x, y int) uint8 {
			if y == 0 {
				return 7
			}
			return raster.LabelWooded
		},
	})

	w, err := store.ReadWindow(context.Background(), "S1", raster.Window{X: 0, Y: 0, W: 4, H: 4})
	require.NoError(t, err)
	assert.Equal(t, raster.Window{W: 4, H: 4}, w.Bounds)
	assert.Equal(t, 4, w.Width)
	assert.False(t, w.Valid[1*4+1])
	assert.True(t, w.Valid[0])
	assert.Equal(t, raster.NoData, w.Labels[0], "out-of-domain labels become NoData")
	assert.Equal(t, raster.LabelWooded, w.Labels[4])
	assert.Nil(t, w.Temporal)
}

func TestReadWindow_Clipping(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "S1", Width: 16, Height: 8})

	w, err := store.ReadWindow(context.Background(), "S1", raster.Window{X: 12, Y: 6, W: 8, H: 8})
	require.NoError(t, err)
	assert.Equal(t, raster.Window{X: 12, Y: 6, W: 4, H: 2}, w.Bounds)
	assert.Len(t, w.Bands[0], 8)

	_, err = store.ReadWindow(context.Background(), "S1", raster.Window{X: 16, Y: 0, W: 4, H: 4})
	assert.Error(t, err)
}

func TestReadWindow_BandNoData(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "S1", Width: 4, Height: 4,
		Bands: func(x, y int) [features.NumBands]float32 {
			if x == 0 {
				return [features.NumBands]float32{0, 0, 0, 0}
			}
			return testutil.WoodedPixel
		}})
	w, err := store.ReadWindow(context.Background(), "S1", raster.Window{W: 4, H: 4})
	require.NoError(t, err)
	assert.False(t, w.Valid[0])
	assert.True(t, w.Valid[1])
}

func TestStore_Cache(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 2, testutil.SceneSpec{ID: "S1", Width: 16, Height: 16})
	ctx := context.Background()

	a := raster.Window{X: 0, Y: 0, W: 4, H: 4}
	w1, err := store.ReadWindow(ctx, "S1", a)
	require.NoError(t, err)
	w2, err := store.ReadWindow(ctx, "S1", a)
	require.NoError(t, err)
	assert.Same(t, w1, w2)

	for x := 4; x < 16; x += 4 {
		_, err := store.ReadWindow(ctx, "S1", raster.Window{X: x, W: 4, H: 4})
		require.NoError(t, err)
	}
	st := store.CacheStats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(4), st.Misses)
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 2, st.Capacity)

	// The first window was evicted.
	_, err = store.ReadWindow(ctx, "S1", a)
	require.NoError(t, err)
	assert.Equal(t, int64(5), store.CacheStats().Misses)
}

func TestStore_CacheDisabled(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0, testutil.SceneSpec{ID: "S1", Width: 8, Height: 8})
	win := raster.Window{W: 4, H: 4}
	w1, err := store.ReadWindow(context.Background(), "S1", win)
	require.NoError(t, err)
	w2, err := store.ReadWindow(context.Background(), "S1", win)
	require.NoError(t, err)
	assert.NotSame(t, w1, w2)
	assert.Equal(t, scene.CacheStats{}, store.CacheStats())
}

func TestStore_Features(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0,
		testutil.SceneSpec{ID: "S1", Width: 8, Height: 8},
		testutil.SceneSpec{ID: "T1", Width: 8, Height: 8, Temporal: true})
	ctx := context.Background()

	st, w, err := store.Features(ctx, "S1", features.IndicesSet, raster.Window{W: 8, H: 8})
	require.NoError(t, err)
	assert.Equal(t, 6, st.Set.Len())
	assert.Equal(t, w.Bounds, raster.Window{W: 8, H: 8})
	// Wooded pixels have the higher remapped NDVI.
	assert.Greater(t, st.Channel(4)[0], st.Channel(4)[7])

	_, _, err = store.Features(ctx, "S1", features.TemporalSet, raster.Window{W: 8, H: 8})
	assert.ErrorContains(t, err, "temporal")

	st, _, err = store.Features(ctx, "T1", features.TemporalSet, raster.Window{W: 8, H: 8})
	require.NoError(t, err)
	assert.Equal(t, 11, st.Set.Len())
	for _, v := range st.Valid {
		assert.True(t, v)
	}
}

func TestCheckLabels(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0,
		testutil.SceneSpec{ID: "L1", Width: 8, Height: 4,
			Labels: func(x, y int) uint8 {
				if x < 2 {
					return raster.LabelWooded
				}
				return raster.NoData
			}},
		testutil.SceneSpec{ID: "L2", Width: 8, Height: 4, Labels: func(x, y int) uint8 { return raster.NoData }},
		testutil.SceneSpec{ID: "L3", Width: 8, Height: 4, NoLabels: true},
	)
	ctx := context.Background()

	n, err := store.CheckLabels(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	c, err := store.CountLabels(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, scene.LabelCounts{Wooded: 8}, c)

	var ile *scene.InsufficientLabelError
	_, err = store.CheckLabels(ctx, "L2")
	require.ErrorAs(t, err, &ile)
	assert.Equal(t, "L2", ile.SceneID)

	_, err = store.CheckLabels(ctx, "L3")
	require.ErrorAs(t, err, &ile)
	assert.Contains(t, ile.Reason, "reference_wooded")
}

func TestListScenes(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0,
		testutil.SceneSpec{ID: "B", Width: 4, Height: 4},
		testutil.SceneSpec{ID: "A", Width: 4, Height: 4})
	ids, err := store.ListScenes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids)
}

func TestRank(t *testing.T) {
	t.Parallel()
	store, _ := testutil.NewSceneStore(t, 0,
		testutil.SceneSpec{ID: "cloudy", Width: 8, Height: 8, UDM: func(x, y int) uint8 {
			if y < 4 {
				return 0
			}
			return 1
		}},
		testutil.SceneSpec{ID: "clear", Width: 8, Height: 8, UDM: func(x, y int) uint8 { return 1 }},
		testutil.SceneSpec{ID: "bare", Width: 8, Height: 8, Wooded: func(x, y int) bool { return false }},
		testutil.SceneSpec{ID: "bad", Width: 8, Height: 8, LabelGrid: &raster.Grid{Width: 2, Height: 2, XDim: 3, YDim: 3}},
	)
	ranks, err := store.Rank(context.Background(), []string{"cloudy", "clear", "bare", "bad"})
	require.NoError(t, err)
	require.Len(t, ranks, 3)

	assert.Equal(t, "clear", ranks[0].SceneID)
	assert.Equal(t, "bare", ranks[1].SceneID, "equal clear share sorts by NDVI")
	assert.Equal(t, "cloudy", ranks[2].SceneID)
	assert.InDelta(t, 100, ranks[0].ClearPercent, 1e-9)
	assert.InDelta(t, 50, ranks[2].ClearPercent, 1e-9)
	assert.Greater(t, ranks[0].MeanNDVI, ranks[1].MeanNDVI)
	assert.True(t, ranks[2].NDVIDefined)
}

func TestAssetBase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "X_3B_AnalyticMS_SR", scene.AssetBase("X", scene.LayerBands))
	assert.Equal(t, "X_3B_udm2", scene.AssetBase("X", scene.LayerUDM))
	assert.Equal(t, "X_reference_wooded", scene.AssetBase("X", scene.LayerLabels))
	assert.Equal(t, "X_temporal", scene.AssetBase("X", scene.LayerTemporal))
	assert.Equal(t, "X_wooded_pred", scene.AssetBase("X", scene.LayerPrediction))
}

func TestErrors(t *testing.T) {
	t.Parallel()
	err := error(&scene.AlignmentError{SceneID: "S", Layer: scene.LayerTemporal, Against: scene.LayerBands, Detail: "crs"})
	assert.Equal(t, "scene S: temporal not aligned with analytic_sr: crs", err.Error())
	var ile *scene.InsufficientLabelError
	assert.False(t, errors.As(err, &ile))
}
