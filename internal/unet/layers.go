package unet

import "math"

// conv is a square convolution with stride 1 and "same" zero padding.
// Weights are laid out [out][in][k][k].
type conv struct {
	in, out, k int
	w, b       []float32
	// pidx is the index of w in the model's parameter list; b follows it.
	pidx int
}

func (c *conv) forward(x *Tensor) *Tensor {
	if x.C != c.in {
		panic("unet: conv input channel mismatch")
	}
	y := NewTensor(c.out, x.H, x.W)
	pad := c.k / 2
	kk := c.k * c.k
	for o := 0; o < c.out; o++ {
		dst := y.Plane(o)
		for i := range dst {
			dst[i] = c.b[o]
		}
		for i := 0; i < c.in; i++ {
			src := x.Plane(i)
			for ky := 0; ky < c.k; ky++ {
				dy := ky - pad
				y0, y1 := max(0, -dy), min(x.H, x.H-dy)
				for kx := 0; kx < c.k; kx++ {
					dx := kx - pad
					x0, x1 := max(0, -dx), min(x.W, x.W-dx)
					wv := c.w[(o*c.in+i)*kk+ky*c.k+kx]
					if wv == 0 {
						continue
					}
					for yy := y0; yy < y1; yy++ {
						row := dst[yy*x.W : (yy+1)*x.W]
						srow := src[(yy+dy)*x.W : (yy+dy+1)*x.W]
						for xx := x0; xx < x1; xx++ {
							row[xx] += wv * srow[xx+dx]
						}
					}
				}
			}
		}
	}
	return y
}

// backward accumulates weight and bias gradients into gw and gb and returns
// the gradient with respect to x.
func (c *conv) backward(x, dy *Tensor, gw, gb []float32) *Tensor {
	dx := NewTensor(x.C, x.H, x.W)
	pad := c.k / 2
	kk := c.k * c.k
	for o := 0; o < c.out; o++ {
		g := dy.Plane(o)
		var sum float32
		for _, v := range g {
			sum += v
		}
		gb[o] += sum
		for i := 0; i < c.in; i++ {
			src := x.Plane(i)
			dsrc := dx.Plane(i)
			for ky := 0; ky < c.k; ky++ {
				dyy := ky - pad
				y0, y1 := max(0, -dyy), min(x.H, x.H-dyy)
				for kx := 0; kx < c.k; kx++ {
					dxx := kx - pad
					x0, x1 := max(0, -dxx), min(x.W, x.W-dxx)
					widx := (o*c.in+i)*kk + ky*c.k + kx
					wv := c.w[widx]
					var acc float32
					for yy := y0; yy < y1; yy++ {
						grow := g[yy*x.W : (yy+1)*x.W]
						off := (yy + dyy) * x.W
						for xx := x0; xx < x1; xx++ {
							acc += grow[xx] * src[off+xx+dxx]
							dsrc[off+xx+dxx] += wv * grow[xx]
						}
					}
					gw[widx] += acc
				}
			}
		}
	}
	return dx
}

func relu(x *Tensor) *Tensor {
	for i, v := range x.Data {
		if v < 0 {
			x.Data[i] = 0
		}
	}
	return x
}

// reluBackward masks dy in place where the activation was clipped.
func reluBackward(out, dy *Tensor) *Tensor {
	for i, v := range out.Data {
		if v <= 0 {
			dy.Data[i] = 0
		}
	}
	return dy
}

// maxPool halves each spatial dimension. arg records the source index of
// every output value when non-nil.
func maxPool(x *Tensor, arg []int32) *Tensor {
	h, w := x.H/2, x.W/2
	y := NewTensor(x.C, h, w)
	for c := 0; c < x.C; c++ {
		src := x.Plane(c)
		dst := y.Plane(c)
		base := c * x.H * x.W
		for yy := 0; yy < h; yy++ {
			for xx := 0; xx < w; xx++ {
				best := float32(math.Inf(-1))
				bi := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						idx := (2*yy+dy)*x.W + 2*xx + dx
						if src[idx] > best {
							best, bi = src[idx], idx
						}
					}
				}
				dst[yy*w+xx] = best
				if arg != nil {
					arg[c*h*w+yy*w+xx] = int32(base + bi)
				}
			}
		}
	}
	return y
}

func maxPoolBackward(x *Tensor, arg []int32, dy *Tensor) *Tensor {
	dx := NewTensor(x.C, x.H, x.W)
	for i, src := range arg {
		dx.Data[src] += dy.Data[i]
	}
	return dx
}

// upsample doubles each spatial dimension by nearest neighbour.
func upsample(x *Tensor) *Tensor {
	y := NewTensor(x.C, 2*x.H, 2*x.W)
	for c := 0; c < x.C; c++ {
		src := x.Plane(c)
		dst := y.Plane(c)
		for yy := 0; yy < y.H; yy++ {
			srow := src[(yy/2)*x.W:]
			drow := dst[yy*y.W : (yy+1)*y.W]
			for xx := range drow {
				drow[xx] = srow[xx/2]
			}
		}
	}
	return y
}

func upsampleBackward(dy *Tensor) *Tensor {
	dx := NewTensor(dy.C, dy.H/2, dy.W/2)
	for c := 0; c < dy.C; c++ {
		src := dy.Plane(c)
		dst := dx.Plane(c)
		for yy := 0; yy < dy.H; yy++ {
			for xx := 0; xx < dy.W; xx++ {
				dst[(yy/2)*dx.W+xx/2] += src[yy*dy.W+xx]
			}
		}
	}
	return dx
}

// concat stacks a and b along the channel axis.
func concat(a, b *Tensor) *Tensor {
	y := NewTensor(a.C+b.C, a.H, a.W)
	copy(y.Data, a.Data)
	copy(y.Data[len(a.Data):], b.Data)
	return y
}

func split(dy *Tensor, ca int) (*Tensor, *Tensor) {
	n := dy.H * dy.W
	a := &Tensor{C: ca, H: dy.H, W: dy.W, Data: dy.Data[:ca*n]}
	b := &Tensor{C: dy.C - ca, H: dy.H, W: dy.W, Data: dy.Data[ca*n:]}
	return a, b
}
