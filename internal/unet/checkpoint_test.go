package unet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/woodland.report/internal/features"
)

func testCheckpoint(t *testing.T) (*Checkpoint, *Model) {
	t.Helper()
	set := features.IndicesSet.Clone()
	m, err := New(Arch{InChannels: set.Len(), BaseFilters: 2, Depth: 2}, 21)
	require.NoError(t, err)
	opt := NewAdam(m, 1e-3)
	_, tape, err := m.Forward(randomTensor(set.Len(), 4, 4, 2))
	require.NoError(t, err)
	g := m.NewGrads()
	require.NoError(t, m.Backward(tape, randomTensor(1, 4, 4, 3), g))
	require.NoError(t, opt.Step(m, g))
	at, am, av := opt.State()
	return &Checkpoint{
		Arch:         m.Arch(),
		Contract:     Contract{Channels: set, PatchSize: 64},
		Params:       m.Params(),
		AdamT:        at,
		AdamM:        am,
		AdamV:        av,
		Epoch:        3,
		Step:         42,
		Loss:         0.41,
		BestLoss:     0.39,
		RunID:        "run-1",
		BuildVersion: "dev",
		CreatedAt:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}, m
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	ck, m := testCheckpoint(t)
	data, err := Marshal(ck)
	require.NoError(t, err)
	assert.Equal(t, "WMCK", string(data[:4]))

	got, err := Load(bytes.NewReader(data))
	require.NoError(t, err)
	if diff := cmp.Diff(ck, got); diff != "" {
		t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
	}

	restored, err := got.Model()
	require.NoError(t, err)
	x := randomTensor(ck.Arch.InChannels, 8, 8, 4)
	want, err := m.Predict(x)
	require.NoError(t, err)
	have, err := restored.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want.Data, have.Data)

	opt, err := got.Optimizer(restored, 1e-3)
	require.NoError(t, err)
	assert.Equal(t, 1, opt.T)
	assert.Equal(t, ck.AdamM, opt.M)
}

func TestLoadRejectsForeignData(t *testing.T) {
	t.Parallel()
	_, err := Load(bytes.NewReader([]byte("GIF89a-not-a-checkpoint")))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Load(bytes.NewReader([]byte("WM")))
	assert.ErrorIs(t, err, ErrBadMagic)

	ck, _ := testCheckpoint(t)
	data, err := Marshal(ck)
	require.NoError(t, err)
	data[4] = 9
	_, err = Load(bytes.NewReader(data))
	assert.ErrorContains(t, err, "unsupported checkpoint version 9")
}

func TestLoadRejectsMismatchedWeights(t *testing.T) {
	t.Parallel()
	ck, _ := testCheckpoint(t)
	ck.Arch.BaseFilters = 3
	data, err := Marshal(ck)
	require.NoError(t, err)
	_, err = Load(bytes.NewReader(data))
	assert.ErrorContains(t, err, "checkpoint weights")
}

func TestVerifyContract(t *testing.T) {
	t.Parallel()
	ck, _ := testCheckpoint(t)
	require.NoError(t, ck.Verify(features.IndicesSet, 64))
	require.NoError(t, ck.Verify(features.IndicesSet, 0))

	reordered := features.IndicesSet.Clone()
	reordered.Names[0], reordered.Names[1] = reordered.Names[1], reordered.Names[0]
	renamed := features.IndicesSet.Clone()
	renamed.ID = "custom"

	for _, tc := range []struct {
		name  string
		set   features.ChannelSet
		patch int
		field string
	}{
		{"count", features.BandsSet, 0, "channel count"},
		{"set", renamed, 0, "channel set"},
		{"order", reordered, 0, "channel order"},
		{"patch", features.IndicesSet, 128, "patch size"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ck.Verify(tc.set, tc.patch)
			var ce *ContractError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tc.field, ce.Field)
		})
	}
}
