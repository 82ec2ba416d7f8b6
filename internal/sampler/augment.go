package sampler

// augment rotates p by k quarter turns and then flips it, in place. Every
// channel, the labels and the mask move together.
func augment(p *Patch, k int, hflip, vflip bool) {
	if k%4 == 0 && !hflip && !vflip {
		return
	}
	perm := permutation(p.Size, k, hflip, vflip)
	n := p.Size * p.Size
	buf := make([]float32, n)
	for c := 0; c < p.Channels; c++ {
		plane := p.Features[c*n : (c+1)*n]
		for i, src := range perm {
			buf[i] = plane[src]
		}
		copy(plane, buf)
	}
	labels := make([]uint8, n)
	mask := make([]bool, n)
	for i, src := range perm {
		labels[i] = p.Labels[src]
		mask[i] = p.Mask[src]
	}
	p.Labels, p.Mask = labels, mask
}

// permutation returns, for each destination pixel of a size x size square,
// the index of its source pixel.
func permutation(size, k int, hflip, vflip bool) []int {
	perm := make([]int, size*size)
	last := size - 1
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := x, y
			if hflip {
				dx = last - dx
			}
			if vflip {
				dy = last - dy
			}
			sx, sy := dx, dy
			for r := 0; r < k%4; r++ {
				// Undo one clockwise quarter turn.
				sx, sy = sy, last-sx
			}
			perm[y*size+x] = sy*size + sx
		}
	}
	return perm
}
