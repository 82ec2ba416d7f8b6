package unet

import (
	"fmt"
	"math"
)

// Adam defaults.
const (
	DefaultBeta1   = 0.9
	DefaultBeta2   = 0.999
	DefaultEpsilon = 1e-8
)

// Adam is the Adam optimiser with bias-corrected moment estimates.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// T counts applied steps.
	T int
	M [][]float32
	V [][]float32
}

// NewAdam creates an optimiser for m with default betas and epsilon.
func NewAdam(m *Model, lr float64) *Adam {
	a := &Adam{LR: lr, Beta1: DefaultBeta1, Beta2: DefaultBeta2, Epsilon: DefaultEpsilon}
	a.M = make([][]float32, len(m.params))
	a.V = make([][]float32, len(m.params))
	for i, p := range m.params {
		a.M[i] = make([]float32, len(p))
		a.V[i] = make([]float32, len(p))
	}
	return a
}

// Step applies one update from g to m's weights.
func (a *Adam) Step(m *Model, g *Grads) error {
	if len(g.Data) != len(m.params) || len(a.M) != len(m.params) {
		return fmt.Errorf("optimiser state does not match the model")
	}
	a.T++
	c1 := 1 - math.Pow(a.Beta1, float64(a.T))
	c2 := 1 - math.Pow(a.Beta2, float64(a.T))
	b1, b2 := float32(a.Beta1), float32(a.Beta2)
	for i, p := range m.params {
		gm, gv, gd := a.M[i], a.V[i], g.Data[i]
		for j, gr := range gd {
			gm[j] = b1*gm[j] + (1-b1)*gr
			gv[j] = b2*gv[j] + (1-b2)*gr*gr
			mh := float64(gm[j]) / c1
			vh := float64(gv[j]) / c2
			p[j] -= float32(a.LR * mh / (math.Sqrt(vh) + a.Epsilon))
		}
	}
	return nil
}

// State returns deep copies of the moment estimates.
func (a *Adam) State() (t int, m, v [][]float32) {
	return a.T, cloneAll(a.M), cloneAll(a.V)
}

// Restore replaces the optimiser state with values of identical layout.
func (a *Adam) Restore(t int, m, v [][]float32) error {
	if len(m) != len(a.M) || len(v) != len(a.V) {
		return fmt.Errorf("optimiser state has %d/%d tensors, want %d", len(m), len(v), len(a.M))
	}
	for i := range a.M {
		if len(m[i]) != len(a.M[i]) || len(v[i]) != len(a.V[i]) {
			return fmt.Errorf("optimiser tensor %d has the wrong size", i)
		}
	}
	a.T, a.M, a.V = t, cloneAll(m), cloneAll(v)
	return nil
}

func cloneAll(src [][]float32) [][]float32 {
	out := make([][]float32, len(src))
	for i, s := range src {
		out[i] = append([]float32(nil), s...)
	}
	return out
}
