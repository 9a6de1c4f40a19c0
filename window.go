package zarrpeek

import (
	"fmt"
	"iter"
)

// Window is a concrete index range per axis, half-open on every axis. For a
// planned render, the two spatial axes span multiple indices and every
// other axis spans exactly one.
type Window struct {
	Lo []int
	Hi []int
}

// NewWindow makes an empty window over ndim axes.
func NewWindow(ndim int) Window {
	return Window{Lo: make([]int, ndim), Hi: make([]int, ndim)}
}

// Extent is the number of indices the window covers on the given axis.
func (w Window) Extent(axis int) int { return w.Hi[axis] - w.Lo[axis] }

func (w Window) String() string {
	s := "["
	for i := range w.Lo {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d:%d", w.Lo[i], w.Hi[i])
	}
	return s + "]"
}

// Chunks iterates the chunk-grid coordinates of every chunk overlapping the
// window, given the array's chunk shape. Coordinates are yielded in
// row-major order; the yielded slice is reused between iterations.
func (w Window) Chunks(chunkShape []int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		ndim := len(w.Lo)
		first := make([]int, ndim)
		last := make([]int, ndim)
		for i := range first {
			if w.Hi[i] <= w.Lo[i] {
				return
			}
			first[i] = w.Lo[i] / chunkShape[i]
			last[i] = (w.Hi[i] - 1) / chunkShape[i]
		}
		coord := make([]int, ndim)
		copy(coord, first)
		for {
			if !yield(coord) {
				return
			}
			// carry-propagating increment, last axis fastest
			i := ndim - 1
			for ; i >= 0; i-- {
				coord[i]++
				if coord[i] <= last[i] {
					break
				}
				coord[i] = first[i]
			}
			if i < 0 {
				return
			}
		}
	}
}

// ChunkCount is the number of chunks Chunks will yield.
func (w Window) ChunkCount(chunkShape []int) int {
	count := 1
	for i := range w.Lo {
		if w.Hi[i] <= w.Lo[i] {
			return 0
		}
		first := w.Lo[i] / chunkShape[i]
		last := (w.Hi[i] - 1) / chunkShape[i]
		count *= last - first + 1
	}
	return count
}

// chunkStrides computes per-axis element strides within a chunk for the
// declared sample layout.
func chunkStrides(chunkShape []int, order byte) []int {
	strides := make([]int, len(chunkShape))
	if order == 'F' {
		acc := 1
		for i := 0; i < len(chunkShape); i++ {
			strides[i] = acc
			acc *= chunkShape[i]
		}
	} else {
		acc := 1
		for i := len(chunkShape) - 1; i >= 0; i-- {
			strides[i] = acc
			acc *= chunkShape[i]
		}
	}
	return strides
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
