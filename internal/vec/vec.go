// Package vec plans vector widths for the fused kernels.
//
// Kernels are instantiated once per (element type, width) pair. A width is a
// zero-size marker type so the group length is a compile-time constant of the
// instantiation. Widths are chosen on the host before a launch from buffer
// alignment and the detected SIMD level; they never change results.
package vec

// MaxWidth is the widest group any kernel is instantiated for.
const MaxWidth = 8

// Width is implemented by the marker types W1, W2, W4 and W8.
type Width interface {
	W1 | W2 | W4 | W8
	Lanes() int
}

// W1 is the scalar width.
type W1 struct{}

// W2 processes two elements per group.
type W2 struct{}

// W4 processes four elements per group.
type W4 struct{}

// W8 processes eight elements per group.
type W8 struct{}

func (W1) Lanes() int { return 1 }
func (W2) Lanes() int { return 2 }
func (W4) Lanes() int { return 4 }
func (W8) Lanes() int { return 8 }

// Lanes returns the group length of width marker W.
func Lanes[W Width]() int {
	var w W
	return w.Lanes()
}

// Buffer describes one participating buffer for width planning.
type Buffer struct {
	Offset     int  // element offset of the view inside its allocation
	Contiguous bool // dense row-major layout
}

// CanVectorizeUpTo returns the largest power of two <= MaxWidth such that a
// buffer starting at element offset can be read in aligned groups.
// Non-contiguous buffers always get 1.
func CanVectorizeUpTo(b Buffer) int {
	if !b.Contiguous {
		return 1
	}
	w := MaxWidth
	for w > 1 && b.Offset%w != 0 {
		w /= 2
	}
	return w
}

// Pick returns the common width for all buffers, capped by limit.
// limit values that are not powers of two are rounded down.
func Pick(limit int, bufs ...Buffer) int {
	w := floorPow2(min(limit, MaxWidth))
	for _, b := range bufs {
		w = min(w, CanVectorizeUpTo(b))
	}
	return max(w, 1)
}

// Groups splits n elements into whole groups of width and a scalar tail.
// It returns the number of groups and the index where the tail starts.
func Groups(n, width int) (groups, tail int) {
	groups = n / width
	return groups, groups * width
}

func floorPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}
