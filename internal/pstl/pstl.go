// Package pstl provides the data-parallel primitives the segmented reduction
// is built from: scans, adjacent difference, compaction and key sorting.
//
// Every primitive launches on a device.Context. Integer scans and counts are
// exact, so results do not depend on how many workers ran.
package pstl

import (
	"cmp"
	"context"
	"slices"

	"github.com/born-ml/kernels/internal/device"
	"github.com/pkg/errors"
)

// Integer is the constraint for index and count element types.
type Integer interface {
	~int | ~int32 | ~int64
}

// minBlock is the smallest block a scan or compaction is split into.
const minBlock = 1024

// blocks returns the block size and count used for n items on dev.
func blocks(dev *device.Context, n int) (size, count int) {
	size = dev.Parallel().Chunks(n)
	if size == 0 {
		return n, 1
	}
	size = max(size, minBlock)
	return size, (n + size - 1) / size
}

func checkLen(op string, in, out int) error {
	if in != out {
		return errors.Errorf("pstl: %s: output length %d does not match input length %d", op, out, in)
	}
	return nil
}

// ExclusiveScan writes out[i] = init + in[0] + ... + in[i-1].
// in and out may be the same slice.
//
// Example:
//
//	in := []int64{2, 1, 3}
//	ExclusiveScan(ctx, dev, in, in, 0)
//	// in = [0, 2, 3]
func ExclusiveScan[T Integer](ctx context.Context, dev *device.Context, in, out []T, init T) error {
	return scan(ctx, dev, "pstl.exclusive_scan", in, out, init, false)
}

// InclusiveScan writes out[i] = in[0] + ... + in[i].
// in and out may be the same slice.
func InclusiveScan[T Integer](ctx context.Context, dev *device.Context, in, out []T) error {
	return scan(ctx, dev, "pstl.inclusive_scan", in, out, 0, true)
}

func scan[T Integer](ctx context.Context, dev *device.Context, name string, in, out []T, init T, inclusive bool) error {
	if err := checkLen(name, len(in), len(out)); err != nil {
		return err
	}
	n := len(in)
	if n == 0 {
		return nil
	}
	size, count := blocks(dev, n)

	// Phase 1: per-block totals.
	sums := make([]T, count)
	err := dev.Launch(ctx, name+".reduce", count, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			var s T
			for _, v := range in[b*size : min((b+1)*size, n)] {
				s += v
			}
			sums[b] = s
		}
	})
	if err != nil {
		return err
	}

	// Block carries are scanned on the host; count is small.
	carry := init
	for b, s := range sums {
		sums[b] = carry
		carry += s
	}

	// Phase 2: each block scans from its carry.
	return dev.Launch(ctx, name+".downsweep", count, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			acc := sums[b]
			for i := b * size; i < min((b+1)*size, n); i++ {
				v := in[i]
				if inclusive {
					acc += v
					out[i] = acc
				} else {
					out[i] = acc
					acc += v
				}
			}
		}
	})
}

// AdjacentDifference writes out[i] = op(in[i-1], in[i]) for i >= 1.
// out[0] is set to the zero value of U; use TransformFirstTrue when the
// first position must count as a boundary.
func AdjacentDifference[T, U any](ctx context.Context, dev *device.Context, in []T, out []U, op func(prev, cur T) U) error {
	if err := checkLen("adjacent_difference", len(in), len(out)); err != nil {
		return err
	}
	if len(in) == 0 {
		return nil
	}
	var zero U
	out[0] = zero
	return dev.Launch(ctx, "pstl.adjacent_difference", len(in)-1, func(lo, hi int) {
		for i := lo + 1; i < hi+1; i++ {
			out[i] = op(in[i-1], in[i])
		}
	})
}

// TransformFirstTrue writes out[i] = values[i] where flags[i] is set or i == 0,
// and none elsewhere.
func TransformFirstTrue[T any](ctx context.Context, dev *device.Context, flags []bool, values, out []T, none T) error {
	if err := checkLen("transform_first_true", len(flags), len(values)); err != nil {
		return err
	}
	if err := checkLen("transform_first_true", len(flags), len(out)); err != nil {
		return err
	}
	return dev.Launch(ctx, "pstl.transform_first_true", len(flags), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if i == 0 || flags[i] {
				out[i] = values[i]
			} else {
				out[i] = none
			}
		}
	})
}

// CopyIf copies the elements of in that satisfy pred to the front of out,
// preserving order, and returns how many were copied. out must be at least
// as long as in. Reading the count back is a host synchronization point.
func CopyIf[T any](ctx context.Context, dev *device.Context, in, out []T, pred func(T) bool) (int, error) {
	if len(out) < len(in) {
		return 0, errors.Errorf("pstl: copy_if: output length %d shorter than input length %d", len(out), len(in))
	}
	n := len(in)
	if n == 0 {
		return 0, nil
	}
	size, count := blocks(dev, n)

	offsets := make([]int, count)
	err := dev.Launch(ctx, "pstl.copy_if.count", count, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			c := 0
			for _, v := range in[b*size : min((b+1)*size, n)] {
				if pred(v) {
					c++
				}
			}
			offsets[b] = c
		}
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for b, c := range offsets {
		offsets[b] = total
		total += c
	}

	err = dev.Launch(ctx, "pstl.copy_if.scatter", count, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			j := offsets[b]
			for _, v := range in[b*size : min((b+1)*size, n)] {
				if pred(v) {
					out[j] = v
					j++
				}
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return int(dev.SyncScalar("pstl.copy_if", func() int64 { return int64(total) })), nil
}

// Iota fills out with start, start+1, ...
func Iota[T Integer](ctx context.Context, dev *device.Context, out []T, start T) error {
	return dev.Launch(ctx, "pstl.iota", len(out), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = start + T(i)
		}
	})
}

// SortPairsStable sorts keys ascending and applies the same permutation to
// vals. Equal keys keep their relative order.
func SortPairsStable[K cmp.Ordered, V any](ctx context.Context, dev *device.Context, keys []K, vals []V) error {
	if err := checkLen("sort_pairs", len(keys), len(vals)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, span := dev.Start(ctx, "pstl.SortPairsStable")
	defer span.End()

	perm := make([]int, len(keys))
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		return cmp.Compare(keys[a], keys[b])
	})

	sortedKeys := make([]K, len(keys))
	sortedVals := make([]V, len(vals))
	for i, p := range perm {
		sortedKeys[i] = keys[p]
		sortedVals[i] = vals[p]
	}
	copy(keys, sortedKeys)
	copy(vals, sortedVals)
	return nil
}
