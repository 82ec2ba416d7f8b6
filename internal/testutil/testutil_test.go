package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/woodland.report/internal/httputil"
	"github.com/banshee-data/woodland.report/internal/raster"
)

func TestServeAndDecode(t *testing.T) {
	t.Parallel()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, r)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
	})

	var got map[string]string
	DecodeJSON(t, Serve(h, http.MethodGet, "/api/runs"), http.StatusOK, &got)
	assert.Equal(t, map[string]string{"path": "/api/runs"}, got)

	body := DecodeError(t, Serve(h, http.MethodPost, "/api/runs"), http.StatusMethodNotAllowed)
	assert.Equal(t, http.StatusMethodNotAllowed, body.Status)
	assert.Empty(t, body.RequestID)
}

func TestNewSceneStore(t *testing.T) {
	t.Parallel()
	store, fsys := NewSceneStore(t, 0, SceneSpec{ID: "S1", Width: 8, Height: 4, Temporal: true,
		UDM: func(x, y int) uint8 { return 1 }})
	assert.Len(t, fsys.Files(), 8)

	sc, err := store.LoadScene(context.Background(), "S1")
	require.NoError(t, err)
	assert.True(t, sc.HasLabels())
	assert.True(t, sc.HasTemporal())

	w, err := store.ReadWindow(context.Background(), "S1", raster.Window{X: 0, Y: 0, W: 8, H: 4})
	require.NoError(t, err)
	assert.Equal(t, raster.LabelWooded, w.Labels[0])
	assert.Equal(t, raster.LabelNonWooded, w.Labels[7])
	assert.Equal(t, WoodedPixel[3], w.Bands[3][0])
}
