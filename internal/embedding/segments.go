package embedding

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/pstl"
)

// NRowsPerThread is the most contributions one work-item reduces serially.
// Larger segments are split into partial segments of at most this size.
const NRowsPerThread = 64

// discoverSegments returns the start position of every run of equal values
// in sorted. The result is pool scratch; recycle it when done.
//
//	sorted:          2 5 5 5 7 7 8 9 9
//	boundary:        1 1 0 0 1 0 1 1 0
//	segment offsets: 0 1 4 6 7
func discoverSegments(ctx context.Context, dev *device.Context, sorted []int64) ([]int64, error) {
	n := len(sorted)
	pool := dev.Pool()

	boundary := make([]bool, n)
	if err := pstl.AdjacentDifference(ctx, dev, sorted, boundary, func(prev, cur int64) bool {
		return prev != cur
	}); err != nil {
		return nil, err
	}

	positions := device.Scratch[int64](pool, n)
	defer device.Recycle(pool, positions)
	if err := pstl.Iota(ctx, dev, positions, 0); err != nil {
		return nil, err
	}

	marked := device.Scratch[int64](pool, n)
	defer device.Recycle(pool, marked)
	if err := pstl.TransformFirstTrue(ctx, dev, boundary, positions, marked, -1); err != nil {
		return nil, err
	}

	offsets := device.Scratch[int64](pool, n)
	count, err := pstl.CopyIf(ctx, dev, marked, offsets, func(v int64) bool { return v != -1 })
	if err != nil {
		device.Recycle(pool, offsets)
		return nil, err
	}
	return offsets[:count], nil
}

// plan is the launch geometry of one reduction.
type plan struct {
	numel int

	// segmentOffsets[s] is the first sorted position of segment s.
	segmentOffsets []int64
	// partialsOffset[s] is the index of the first partial segment of s.
	partialsOffset []int64
	// partialOffsets[p] is the first sorted position of partial segment p.
	partialOffsets []int64
}

func (p *plan) segments() int { return len(p.segmentOffsets) }
func (p *plan) partials() int { return len(p.partialOffsets) }

// segmentEnd returns one past the last sorted position of segment s.
func (p *plan) segmentEnd(s int) int64 {
	if s == len(p.segmentOffsets)-1 {
		return int64(p.numel)
	}
	return p.segmentOffsets[s+1]
}

// partialEnd returns one past the last sorted position of partial segment i.
func (p *plan) partialEnd(i int) int64 {
	if i == len(p.partialOffsets)-1 {
		return int64(p.numel)
	}
	return p.partialOffsets[i+1]
}

// partialsEnd returns one past the last partial segment of segment s.
func (p *plan) partialsEnd(s int) int64 {
	if s == len(p.partialsOffset)-1 {
		return int64(len(p.partialOffsets))
	}
	return p.partialsOffset[s+1]
}

func (p *plan) release(pool *device.Pool) {
	device.Recycle(pool, p.segmentOffsets)
	device.Recycle(pool, p.partialsOffset)
	device.Recycle(pool, p.partialOffsets)
}

// planSegments splits sorted into segments and partial segments. The total
// number of partial segments is read back to the host to size the partial
// buffers; that read is the one synchronization point of the reduction.
func planSegments(ctx context.Context, dev *device.Context, sorted []int64) (*plan, error) {
	pool := dev.Pool()
	offsets, err := discoverSegments(ctx, dev, sorted)
	if err != nil {
		return nil, err
	}
	p := &plan{numel: len(sorted), segmentOffsets: offsets}
	numSegments := p.segments()

	partialsPerSegment := device.Scratch[int64](pool, numSegments)
	defer device.Recycle(pool, partialsPerSegment)
	err = dev.Launch(ctx, "embedding.partials_per_segment", numSegments, func(lo, hi int) {
		for s := lo; s < hi; s++ {
			size := p.segmentEnd(s) - p.segmentOffsets[s]
			partialsPerSegment[s] = (size + NRowsPerThread - 1) / NRowsPerThread
		}
	})
	if err != nil {
		p.release(pool)
		return nil, err
	}

	p.partialsOffset = device.Scratch[int64](pool, numSegments)
	if err := pstl.ExclusiveScan(ctx, dev, partialsPerSegment, p.partialsOffset, 0); err != nil {
		p.release(pool)
		return nil, err
	}

	numPartials := dev.SyncScalar("embedding.num_partial_segments", func() int64 {
		last := numSegments - 1
		return partialsPerSegment[last] + p.partialsOffset[last]
	})

	p.partialOffsets = device.Scratch[int64](pool, int(numPartials))
	err = dev.Launch(ctx, "embedding.partial_segment_offset", numSegments, func(lo, hi int) {
		for s := lo; s < hi; s++ {
			idx := p.partialsOffset[s]
			start := p.segmentOffsets[s]
			for i := range partialsPerSegment[s] {
				p.partialOffsets[idx+i] = start + i*NRowsPerThread
			}
		}
	})
	if err != nil {
		p.release(pool)
		return nil, err
	}
	return p, nil
}
