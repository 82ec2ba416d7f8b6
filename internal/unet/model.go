package unet

import (
	"fmt"
	"math"
	"math/rand"
)

// MaxDepth bounds the number of resolution levels.
const MaxDepth = 6

// Arch is the shape of a U-Net.
type Arch struct {
	InChannels  int `json:"in_channels"`
	BaseFilters int `json:"base_filters"`
	// Depth counts resolution levels, including the bottleneck. Level l has
	// BaseFilters<<l filters.
	Depth int `json:"depth"`
}

// Validate checks that the architecture can be built.
func (a Arch) Validate() error {
	if a.InChannels < 1 {
		return fmt.Errorf("in_channels must be positive, got %d", a.InChannels)
	}
	if a.BaseFilters < 1 {
		return fmt.Errorf("base_filters must be positive, got %d", a.BaseFilters)
	}
	if a.Depth < 1 || a.Depth > MaxDepth {
		return fmt.Errorf("depth must be between 1 and %d, got %d", MaxDepth, a.Depth)
	}
	return nil
}

// Multiple is the factor input sides must be divisible by.
func (a Arch) Multiple() int { return 1 << (a.Depth - 1) }

type block struct {
	c1, c2 *conv
}

// Model holds the weights of a U-Net. Forward and Predict only read the
// weights, so concurrent inference on one model is safe; updates through
// an optimizer must not overlap with them.
type Model struct {
	arch   Arch
	enc    []block
	dec    []block
	head   *conv
	params [][]float32
	names  []string
}

// New builds a model with He-normal weights drawn from seed and zero biases.
func New(arch Arch, seed int64) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	m := &Model{arch: arch}
	rng := rand.New(rand.NewSource(seed))

	filters := func(l int) int { return arch.BaseFilters << l }
	in := arch.InChannels
	for l := 0; l < arch.Depth; l++ {
		m.enc = append(m.enc, block{
			c1: m.addConv(fmt.Sprintf("enc%d.conv1", l), in, filters(l), 3, rng),
			c2: m.addConv(fmt.Sprintf("enc%d.conv2", l), filters(l), filters(l), 3, rng),
		})
		in = filters(l)
	}
	for l := arch.Depth - 2; l >= 0; l-- {
		m.dec = append(m.dec, block{
			c1: m.addConv(fmt.Sprintf("dec%d.conv1", l), filters(l+1)+filters(l), filters(l), 3, rng),
			c2: m.addConv(fmt.Sprintf("dec%d.conv2", l), filters(l), filters(l), 3, rng),
		})
	}
	m.head = m.addConv("head", filters(0), 1, 1, rng)
	return m, nil
}

func (m *Model) addConv(name string, in, out, k int, rng *rand.Rand) *conv {
	c := &conv{in: in, out: out, k: k, w: make([]float32, out*in*k*k), b: make([]float32, out), pidx: len(m.params)}
	std := math.Sqrt(2 / float64(in*k*k))
	for i := range c.w {
		c.w[i] = float32(rng.NormFloat64() * std)
	}
	m.params = append(m.params, c.w, c.b)
	m.names = append(m.names, name+".w", name+".b")
	return c
}

// Arch returns the model's architecture.
func (m *Model) Arch() Arch { return m.arch }

// NumParams returns the total number of weights and biases.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p)
	}
	return n
}

// Params returns deep copies of every parameter tensor, in a fixed order.
func (m *Model) Params() [][]float32 {
	out := make([][]float32, len(m.params))
	for i, p := range m.params {
		out[i] = append([]float32(nil), p...)
	}
	return out
}

// SetParams overwrites the weights with values of identical layout.
func (m *Model) SetParams(src [][]float32) error {
	if len(src) != len(m.params) {
		return fmt.Errorf("got %d parameter tensors, model has %d", len(src), len(m.params))
	}
	for i, p := range m.params {
		if len(src[i]) != len(p) {
			return fmt.Errorf("parameter %s has %d values, want %d", m.names[i], len(src[i]), len(p))
		}
	}
	for i, p := range m.params {
		copy(p, src[i])
	}
	return nil
}

func (m *Model) checkInput(x *Tensor) error {
	if x.C != m.arch.InChannels {
		return fmt.Errorf("input has %d channels, model expects %d", x.C, m.arch.InChannels)
	}
	mul := m.arch.Multiple()
	if x.H < mul || x.W < mul || x.H%mul != 0 || x.W%mul != 0 {
		return fmt.Errorf("input %dx%d must be a positive multiple of %d", x.H, x.W, mul)
	}
	if len(x.Data) != x.C*x.H*x.W {
		return fmt.Errorf("input data has %d values, want %d", len(x.Data), x.C*x.H*x.W)
	}
	return nil
}

type blockTape struct {
	in, mid, out *Tensor
}

// Tape holds the activations of one forward pass for Backward.
type Tape struct {
	enc    []blockTape
	pools  [][]int32
	dec    []blockTape
	upC    []int
	headIn *Tensor
}

func runBlock(b block, x *Tensor, bt *blockTape) *Tensor {
	mid := relu(b.c1.forward(x))
	out := relu(b.c2.forward(mid))
	if bt != nil {
		*bt = blockTape{in: x, mid: mid, out: out}
	}
	return out
}

func (m *Model) forward(x *Tensor, tape *Tape) *Tensor {
	d := m.arch.Depth
	skips := make([]*Tensor, d)
	if tape != nil {
		tape.enc = make([]blockTape, d)
		tape.dec = make([]blockTape, d-1)
		tape.pools = make([][]int32, d-1)
		tape.upC = make([]int, d-1)
	}

	h := x
	for l := 0; l < d; l++ {
		var bt *blockTape
		if tape != nil {
			bt = &tape.enc[l]
		}
		h = runBlock(m.enc[l], h, bt)
		skips[l] = h
		if l < d-1 {
			var arg []int32
			if tape != nil {
				arg = make([]int32, h.C*(h.H/2)*(h.W/2))
				tape.pools[l] = arg
			}
			h = maxPool(h, arg)
		}
	}
	for i, l := 0, d-2; l >= 0; i, l = i+1, l-1 {
		up := upsample(h)
		cat := concat(up, skips[l])
		var bt *blockTape
		if tape != nil {
			bt = &tape.dec[i]
			tape.upC[i] = up.C
		}
		h = runBlock(m.dec[i], cat, bt)
	}
	if tape != nil {
		tape.headIn = h
	}
	return m.head.forward(h)
}

// Forward computes raw logits (1 x H x W) and records a tape for Backward.
func (m *Model) Forward(x *Tensor) (*Tensor, *Tape, error) {
	if err := m.checkInput(x); err != nil {
		return nil, nil, err
	}
	tape := &Tape{}
	return m.forward(x, tape), tape, nil
}

// Predict computes raw logits without recording activations.
func (m *Model) Predict(x *Tensor) (*Tensor, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	return m.forward(x, nil), nil
}

// Grads holds one gradient buffer per parameter tensor.
type Grads struct {
	Data [][]float32
}

// NewGrads allocates zeroed gradients shaped like m's parameters.
func (m *Model) NewGrads() *Grads {
	g := &Grads{Data: make([][]float32, len(m.params))}
	for i, p := range m.params {
		g.Data[i] = make([]float32, len(p))
	}
	return g
}

// Add accumulates o into g.
func (g *Grads) Add(o *Grads) {
	for i, d := range o.Data {
		dst := g.Data[i]
		for j, v := range d {
			dst[j] += v
		}
	}
}

// Scale multiplies every gradient by f.
func (g *Grads) Scale(f float32) {
	for _, d := range g.Data {
		for j := range d {
			d[j] *= f
		}
	}
}

// Zero clears every gradient.
func (g *Grads) Zero() {
	for _, d := range g.Data {
		clear(d)
	}
}

// Finite reports whether every gradient is a finite number.
func (g *Grads) Finite() bool {
	for _, d := range g.Data {
		for _, v := range d {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
	}
	return true
}

func (m *Model) convBackward(c *conv, x, dy *Tensor, g *Grads) *Tensor {
	return c.backward(x, dy, g.Data[c.pidx], g.Data[c.pidx+1])
}

func (m *Model) blockBackward(b block, bt blockTape, dy *Tensor, g *Grads) *Tensor {
	dy = reluBackward(bt.out, dy)
	dmid := m.convBackward(b.c2, bt.mid, dy, g)
	dmid = reluBackward(bt.mid, dmid)
	return m.convBackward(b.c1, bt.in, dmid, g)
}

// Backward propagates dLogits (1 x H x W) through the recorded pass and
// accumulates parameter gradients into g.
func (m *Model) Backward(tape *Tape, dLogits *Tensor, g *Grads) error {
	if tape == nil || tape.headIn == nil {
		return fmt.Errorf("backward needs the tape of a forward pass")
	}
	if dLogits.C != 1 || dLogits.H != tape.headIn.H || dLogits.W != tape.headIn.W {
		return fmt.Errorf("gradient shape %dx%dx%d does not match logits 1x%dx%d",
			dLogits.C, dLogits.H, dLogits.W, tape.headIn.H, tape.headIn.W)
	}
	d := m.arch.Depth
	dh := m.convBackward(m.head, tape.headIn, dLogits, g)

	dskips := make([]*Tensor, d)
	for i := len(m.dec) - 1; i >= 0; i-- {
		l := d - 2 - i
		dcat := m.blockBackward(m.dec[i], tape.dec[i], dh, g)
		dup, dskip := split(dcat, tape.upC[i])
		dskips[l] = dskip
		dh = upsampleBackward(dup)
	}
	for l := d - 1; l >= 0; l-- {
		if l < d-1 {
			dpool := maxPoolBackward(tape.enc[l].out, tape.pools[l], dh)
			addInto(dpool, dskips[l])
			dh = dpool
		}
		dh = m.blockBackward(m.enc[l], tape.enc[l], dh, g)
	}
	return nil
}

func addInto(dst, src *Tensor) {
	for i, v := range src.Data {
		dst.Data[i] += v
	}
}
