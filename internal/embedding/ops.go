package embedding

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/pstl"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
)

// SortIndices flattens indices and sorts them, returning the sorted values
// and, for each, its position in the flattened input. Equal indices keep
// their input order.
func SortIndices(ctx context.Context, dev *device.Context, indices *tensor.RawTensor) (sorted, orig *tensor.RawTensor, err error) {
	const op = "sort_indices"
	if indices == nil {
		return nil, nil, invalidf("%s: indices: expected a tensor, got nil", op)
	}
	if indices.DType() != tensor.Int64 {
		return nil, nil, errors.Wrapf(ErrDTypeMismatch, "%s: indices: expected dtype int64, got %s", op, indices.DType())
	}
	if !indices.IsContiguous() {
		return nil, nil, invalidf("%s: indices: expected a contiguous tensor", op)
	}
	n := indices.NumElements()

	sorted = tensor.Zeros(tensor.Int64, n)
	orig = tensor.Zeros(tensor.Int64, n)
	if n == 0 {
		return sorted, orig, nil
	}
	keys, pos := sorted.AsInt64(), orig.AsInt64()
	copy(keys, indices.AsInt64())
	if err := pstl.Iota(ctx, dev, pos, 0); err != nil {
		return nil, nil, err
	}
	if err := pstl.SortPairsStable(ctx, dev, keys, pos); err != nil {
		return nil, nil, err
	}
	return sorted, orig, nil
}

// ComputeCount returns, for every position of sorted, the number of
// occurrences of its value. Passed as Count it scales each contribution by
// the inverse frequency of its row.
func ComputeCount(ctx context.Context, dev *device.Context, sorted *tensor.RawTensor) (*tensor.RawTensor, error) {
	const op = "compute_count"
	if err := checkIndex(op, "sorted_indices", sorted); err != nil {
		return nil, err
	}
	n := sorted.NumElements()
	count := tensor.Zeros(tensor.Int64, n)
	if n == 0 {
		return count, nil
	}

	offsets, err := discoverSegments(ctx, dev, sorted.AsInt64())
	if err != nil {
		return nil, err
	}
	defer device.Recycle(dev.Pool(), offsets)

	out := count.AsInt64()
	err = dev.Launch(ctx, "embedding.count", len(offsets), func(lo, hi int) {
		for s := lo; s < hi; s++ {
			end := int64(n)
			if s+1 < len(offsets) {
				end = offsets[s+1]
			}
			for i := offsets[s]; i < end; i++ {
				out[i] = end - offsets[s]
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}

// DenseArgs are the operands of DenseBackward.
type DenseArgs struct {
	Grad            *tensor.RawTensor // indices shape + [feature_dim]
	Indices         *tensor.RawTensor // int64, any shape
	NumWeights      int64
	PaddingIdx      int64 // -1 for none
	ScaleGradByFreq bool
}

// DenseBackward computes the weight gradient of an embedding lookup from the
// raw lookup indices.
func DenseBackward(ctx context.Context, dev *device.Context, a DenseArgs) (*tensor.RawTensor, error) {
	const op = "embedding_dense_backward"
	if a.Grad == nil || a.Indices == nil {
		return nil, invalidf("%s: grad and indices are required", op)
	}
	gs, is := a.Grad.Shape(), a.Indices.Shape()
	if len(gs) != len(is)+1 || !gs[:len(is)].Equal(is) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: expect grad shape to be indices shape %v plus a feature dim, got %v",
			op, is, gs)
	}

	sorted, orig, err := SortIndices(ctx, dev, a.Indices)
	if err != nil {
		return nil, err
	}
	var count *tensor.RawTensor
	if a.ScaleGradByFreq {
		if count, err = ComputeCount(ctx, dev, sorted); err != nil {
			return nil, err
		}
	}
	grad, err := a.Grad.Reshape(tensor.Shape{a.Indices.NumElements(), gs[len(gs)-1]})
	if err != nil {
		return nil, invalidf("%s: grad: %v", op, err)
	}
	return BackwardDeterministic(ctx, dev, BackwardArgs{
		Grad:          grad,
		OrigIndices:   orig,
		SortedIndices: sorted,
		Count:         count,
		NumWeights:    a.NumWeights,
		PaddingIdx:    a.PaddingIdx,
	})
}

// BagMode selects how an embedding bag pools its rows.
type BagMode int

const (
	BagSum BagMode = iota
	BagMean
)

// String returns the mode name.
func (m BagMode) String() string {
	switch m {
	case BagSum:
		return "sum"
	case BagMean:
		return "mean"
	default:
		return "unknown"
	}
}

// BagArgs are the operands of BagBackward.
//
// Bag b covers Indices[Offsets[b]:Offsets[b+1]], the last bag running to the
// end of Indices unless IncludeLastOffset is set, in which case Offsets has
// one extra trailing entry equal to len(Indices).
type BagArgs struct {
	Grad              *tensor.RawTensor // [bags, feature_dim]
	Indices           *tensor.RawTensor // int64 [positions]
	Offsets           *tensor.RawTensor // int64 [bags] or [bags+1]
	NumWeights        int64
	Mode              BagMode
	PerSampleWeights  *tensor.RawTensor // optional, Grad dtype [positions]; sum mode only
	PaddingIdx        int64             // -1 for none
	ScaleGradByFreq   bool
	IncludeLastOffset bool
}

// BagBackward computes the weight gradient of an embedding bag. Positions
// holding PaddingIdx are excluded from the bag sizes used by mean pooling.
func BagBackward(ctx context.Context, dev *device.Context, a BagArgs) (*tensor.RawTensor, error) {
	const op = "embedding_bag_backward"
	if err := checkIndex(op, "indices", a.Indices); err != nil {
		return nil, err
	}
	if err := checkIndex(op, "offsets", a.Offsets); err != nil {
		return nil, err
	}
	if a.Mode != BagSum && a.Mode != BagMean {
		return nil, invalidf("%s: mode: expected sum or mean, got %d", op, a.Mode)
	}
	if a.PerSampleWeights != nil && a.Mode != BagSum {
		return nil, invalidf("%s: per_sample_weights: only supported with mode sum, got %s", op, a.Mode)
	}

	indices := a.Indices.AsInt64()
	offsets := a.Offsets.AsInt64()
	n := len(indices)
	if a.IncludeLastOffset {
		if len(offsets) == 0 || offsets[len(offsets)-1] != int64(n) {
			return nil, invalidf("%s: offsets: expected a trailing entry equal to %d", op, n)
		}
		offsets = offsets[:len(offsets)-1]
	}
	if n > 0 && (len(offsets) == 0 || offsets[0] != 0) {
		return nil, invalidf("%s: offsets: expected the first offset to be 0", op)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] || offsets[i] > int64(n) {
			return nil, invalidf("%s: offsets[%d]: expected a non-decreasing value <= %d, got %d",
				op, i, n, offsets[i])
		}
	}

	offset2bag, bagSize, err := buildBags(ctx, dev, indices, offsets, a.PaddingIdx)
	if err != nil {
		return nil, err
	}
	sorted, orig, err := SortIndices(ctx, dev, a.Indices)
	if err != nil {
		return nil, err
	}
	var count *tensor.RawTensor
	if a.ScaleGradByFreq {
		if count, err = ComputeCount(ctx, dev, sorted); err != nil {
			return nil, err
		}
	}
	return BackwardDeterministic(ctx, dev, BackwardArgs{
		Grad:             a.Grad,
		OrigIndices:      orig,
		SortedIndices:    sorted,
		Count:            count,
		NumWeights:       a.NumWeights,
		PaddingIdx:       a.PaddingIdx,
		ModeMean:         a.Mode == BagMean,
		Offset2Bag:       offset2bag,
		BagSize:          bagSize,
		PerSampleWeights: a.PerSampleWeights,
	})
}

// buildBags maps every position to its bag and counts the non-padding
// positions of each bag.
func buildBags(ctx context.Context, dev *device.Context, indices, offsets []int64, padding int64) (offset2bag, bagSize *tensor.RawTensor, err error) {
	n, bags := len(indices), len(offsets)
	offset2bag = tensor.Zeros(tensor.Int64, n)
	bagSize = tensor.Zeros(tensor.Int64, bags)
	o2b, sizes := offset2bag.AsInt64(), bagSize.AsInt64()

	err = dev.Launch(ctx, "embedding.offset2bag", bags, func(lo, hi int) {
		for b := lo; b < hi; b++ {
			end := int64(n)
			if b+1 < bags {
				end = offsets[b+1]
			}
			for i := offsets[b]; i < end; i++ {
				o2b[i] = int64(b)
				if indices[i] != padding {
					sizes[b]++
				}
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return offset2bag, bagSize, nil
}
