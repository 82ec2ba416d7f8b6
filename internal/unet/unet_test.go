package unet

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyModel(t *testing.T, in int) *Model {
	t.Helper()
	m, err := New(Arch{InChannels: in, BaseFilters: 2, Depth: 2}, 7)
	require.NoError(t, err)
	return m
}

func randomTensor(c, h, w int, seed int64) *Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := NewTensor(c, h, w)
	for i := range x.Data {
		x.Data[i] = float32(rng.Float64())
	}
	return x
}

func TestArchValidate(t *testing.T) {
	t.Parallel()
	for _, a := range []Arch{
		{InChannels: 0, BaseFilters: 4, Depth: 3},
		{InChannels: 4, BaseFilters: 0, Depth: 3},
		{InChannels: 4, BaseFilters: 4, Depth: 0},
		{InChannels: 4, BaseFilters: 4, Depth: MaxDepth + 1},
	} {
		assert.Error(t, a.Validate(), "%+v", a)
	}
	a := Arch{InChannels: 4, BaseFilters: 4, Depth: 3}
	require.NoError(t, a.Validate())
	assert.Equal(t, 4, a.Multiple())
}

func TestForwardShape(t *testing.T) {
	t.Parallel()
	m, err := New(Arch{InChannels: 6, BaseFilters: 4, Depth: 3}, 1)
	require.NoError(t, err)
	out, err := m.Predict(randomTensor(6, 8, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, out.C)
	assert.Equal(t, 8, out.H)
	assert.Equal(t, 12, out.W)

	_, err = m.Predict(randomTensor(4, 8, 8, 1))
	assert.ErrorContains(t, err, "channels")
	_, err = m.Predict(randomTensor(6, 6, 8, 1))
	assert.ErrorContains(t, err, "multiple of 4")
}

func TestNewIsDeterministic(t *testing.T) {
	t.Parallel()
	a, err := New(Arch{InChannels: 4, BaseFilters: 2, Depth: 2}, 3)
	require.NoError(t, err)
	b, err := New(Arch{InChannels: 4, BaseFilters: 2, Depth: 2}, 3)
	require.NoError(t, err)
	assert.Equal(t, a.Params(), b.Params())

	c, err := New(Arch{InChannels: 4, BaseFilters: 2, Depth: 2}, 4)
	require.NoError(t, err)
	assert.NotEqual(t, a.Params(), c.Params())
}

// weightedSum evaluates sum(logits * r) in float64.
func weightedSum(t *testing.T, m *Model, x, r *Tensor) float64 {
	t.Helper()
	out, err := m.Predict(x)
	require.NoError(t, err)
	var s float64
	for i, v := range out.Data {
		s += float64(v) * float64(r.Data[i])
	}
	return s
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	x := randomTensor(2, 4, 4, 11)
	r := randomTensor(1, 4, 4, 12)

	_, tape, err := m.Forward(x)
	require.NoError(t, err)
	g := m.NewGrads()
	require.NoError(t, m.Backward(tape, r, g))

	// The head bias gradient is exactly the sum of the upstream gradient.
	var want float32
	for _, v := range r.Data {
		want += v
	}
	headBias := len(g.Data) - 1
	assert.InDelta(t, want, g.Data[headBias][0], 1e-4)

	const eps = 1e-2
	checked, agree := 0, 0
	for pi := range m.params {
		p := m.params[pi]
		for j := 0; j < len(p); j += 3 {
			orig := p[j]
			p[j] = orig + eps
			up := weightedSum(t, m, x, r)
			p[j] = orig - eps
			down := weightedSum(t, m, x, r)
			p[j] = orig
			num := (up - down) / (2 * eps)
			got := float64(g.Data[pi][j])
			checked++
			if math.Abs(num-got) <= 2e-2+5e-2*math.Abs(got) {
				agree++
			}
		}
	}
	// ReLU and max-pool kinks can flip a handful of perturbed values.
	assert.GreaterOrEqual(t, float64(agree), 0.9*float64(checked), "%d of %d gradients agree", agree, checked)
}

func TestBackwardRejectsBadShapes(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	_, tape, err := m.Forward(randomTensor(2, 4, 4, 1))
	require.NoError(t, err)
	assert.Error(t, m.Backward(tape, NewTensor(1, 2, 2), m.NewGrads()))
	assert.Error(t, m.Backward(nil, NewTensor(1, 4, 4), m.NewGrads()))
}

func TestGrads(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	a, b := m.NewGrads(), m.NewGrads()
	a.Data[0][0], b.Data[0][0] = 1, 2
	a.Add(b)
	a.Scale(0.5)
	assert.InDelta(t, 1.5, a.Data[0][0], 1e-6)
	assert.True(t, a.Finite())
	a.Data[1][0] = float32(math.NaN())
	assert.False(t, a.Finite())
	a.Zero()
	assert.True(t, a.Finite())
	assert.Zero(t, a.Data[0][0])
}

func bce(out, y *Tensor) float64 {
	var s float64
	for i, z := range out.Data {
		zf := float64(z)
		s += math.Max(zf, 0) - zf*float64(y.Data[i]) + math.Log1p(math.Exp(-math.Abs(zf)))
	}
	return s / float64(len(out.Data))
}

func TestAdamReducesLoss(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	x := randomTensor(2, 4, 4, 5)
	y := NewTensor(1, 4, 4)
	for i := range y.Data {
		if x.Data[i] > 0.5 {
			y.Data[i] = 1
		}
	}
	opt := NewAdam(m, 1e-2)

	out, err := m.Predict(x)
	require.NoError(t, err)
	before := bce(out, y)
	for step := 0; step < 30; step++ {
		out, tape, err := m.Forward(x)
		require.NoError(t, err)
		d := NewTensor(1, 4, 4)
		for i, z := range out.Data {
			p := 1 / (1 + math.Exp(-float64(z)))
			d.Data[i] = float32((p - float64(y.Data[i])) / float64(len(d.Data)))
		}
		g := m.NewGrads()
		require.NoError(t, m.Backward(tape, d, g))
		require.NoError(t, opt.Step(m, g))
	}
	out, err = m.Predict(x)
	require.NoError(t, err)
	assert.Less(t, bce(out, y), before)
	assert.Equal(t, 30, opt.T)
}

func TestPredictIsSafeForConcurrentUse(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	x := randomTensor(2, 8, 8, 9)
	want, err := m.Predict(x)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Tensor, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = m.Predict(x)
		}()
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want.Data, got.Data)
	}
}

func TestSetParamsRejectsWrongLayout(t *testing.T) {
	t.Parallel()
	m := tinyModel(t, 2)
	p := m.Params()
	assert.Error(t, m.SetParams(p[:1]))
	p[0] = p[0][:1]
	assert.ErrorContains(t, m.SetParams(p), "enc0.conv1.w")
}
