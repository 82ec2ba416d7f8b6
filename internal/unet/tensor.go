// Package unet implements a small fully convolutional U-Net for per-pixel
// binary segmentation, with hand-written forward and backward passes.
//
// The number of input channels is a construction parameter; every channel
// set shares one implementation.
package unet

import "fmt"

// Tensor is a C x H x W activation map stored channel-major.
type Tensor struct {
	C, H, W int
	Data    []float32
}

// NewTensor allocates a zeroed tensor.
func NewTensor(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float32, c*h*w)}
}

// FromData wraps data as a c x h x w tensor without copying.
func FromData(c, h, w int, data []float32) (*Tensor, error) {
	if len(data) != c*h*w {
		return nil, fmt.Errorf("tensor %dx%dx%d needs %d values, got %d", c, h, w, c*h*w, len(data))
	}
	return &Tensor{C: c, H: h, W: w, Data: data}, nil
}

// Plane returns channel c.
func (t *Tensor) Plane(c int) []float32 {
	n := t.H * t.W
	return t.Data[c*n : (c+1)*n]
}

func (t *Tensor) sameShape(o *Tensor) bool {
	return t.C == o.C && t.H == o.H && t.W == o.W
}
