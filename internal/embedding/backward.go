// Package embedding computes embedding weight gradients with a deterministic
// segmented reduction.
//
// Contributions are grouped by target row after sorting, so every output row
// is produced by exactly one work-item and no atomics are needed. Hot rows
// are split into partial segments of at most NRowsPerThread contributions to
// bound the serial work of any single work-item.
package embedding

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// BackwardArgs are the operands of BackwardDeterministic.
//
// SortedIndices holds the target embedding row of every contribution in
// ascending order and OrigIndices the position each contribution came from.
// In plain mode that position is a row of Grad. In bag mode (Offset2Bag set)
// it is an input position whose bag, Offset2Bag[pos], selects the Grad row.
type BackwardArgs struct {
	Grad          *tensor.RawTensor // [rows, feature_dim] or [..., feature_dim]
	OrigIndices   *tensor.RawTensor // int64 [numel]
	SortedIndices *tensor.RawTensor // int64 [numel], ascending
	Count         *tensor.RawTensor // optional int64 [numel]: contributions are scaled by 1/Count[i]
	NumWeights    int64
	PaddingIdx    int64 // rows equal to PaddingIdx stay zero; -1 for none

	ModeMean         bool              // bag mode: divide by the bag size
	Offset2Bag       *tensor.RawTensor // optional int64 [positions]
	BagSize          *tensor.RawTensor // int64 [rows], required with Offset2Bag
	PerSampleWeights *tensor.RawTensor // optional, Grad dtype [positions]
}

// BackwardDeterministic returns the dense [NumWeights, feature_dim] gradient
// whose row r is the sum of every contribution targeting r. Rows without
// contributions and the padding row are zero. The output has the dtype of
// Grad; half precision inputs are accumulated in float32.
func BackwardDeterministic(ctx context.Context, dev *device.Context, a BackwardArgs) (*tensor.RawTensor, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	numel := a.SortedIndices.NumElements()
	ctx, span := dev.Start(ctx, "embedding.BackwardDeterministic",
		attribute.Int("numel", numel),
		attribute.Int64("num_weights", a.NumWeights),
		attribute.Int("feature_dim", featureDim(a.Grad)),
		attribute.String("dtype", a.Grad.DType().String()),
		attribute.Bool("bag", a.Offset2Bag != nil))
	defer span.End()

	out, err := backward(ctx, dev, &a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func backward(ctx context.Context, dev *device.Context, a *BackwardArgs) (*tensor.RawTensor, error) {
	stride := featureDim(a.Grad)
	out := tensor.Zeros(a.Grad.DType(), int(a.NumWeights), stride)
	numel := a.SortedIndices.NumElements()
	if numel == 0 || stride == 0 {
		return out, nil
	}

	p, err := planSegments(ctx, dev, a.SortedIndices.AsInt64())
	if err != nil {
		return nil, err
	}
	defer p.release(dev.Pool())

	dev.Logger().Debug().
		Int("numel", numel).
		Int("segments", p.segments()).
		Int("partial_segments", p.partials()).
		Int("feature_dim", stride).
		Msg("embedding backward")

	if err := reducers[a.Grad.DType()](ctx, dev, a, p, out); err != nil {
		return nil, err
	}
	return out, nil
}

// featureDim is the size of the last dimension of grad.
func featureDim(grad *tensor.RawTensor) int {
	shape := grad.Shape()
	return shape[len(shape)-1]
}

func (a *BackwardArgs) validate() error {
	const op = "embedding_backward"
	if a.Grad == nil {
		return invalidf("%s: grad: expected a tensor, got nil", op)
	}
	if _, ok := reducers[a.Grad.DType()]; !ok {
		return errors.Wrapf(ErrDTypeMismatch, "%s: grad: expected a floating point dtype, got %s", op, a.Grad.DType())
	}
	if len(a.Grad.Shape()) == 0 {
		return errors.Wrapf(ErrShapeMismatch, "%s: grad: expected at least one dimension, got a scalar", op)
	}
	if !a.Grad.IsContiguous() {
		return invalidf("%s: grad: expected a contiguous tensor", op)
	}
	if a.NumWeights < 0 {
		return invalidf("%s: num_weights: expected value >= 0, got %d", op, a.NumWeights)
	}
	if err := checkIndex(op, "sorted_indices", a.SortedIndices); err != nil {
		return err
	}
	if err := checkIndex(op, "orig_indices", a.OrigIndices); err != nil {
		return err
	}
	numel := a.SortedIndices.NumElements()
	if err := checkLen(op, "orig_indices", a.OrigIndices, numel, "sorted_indices"); err != nil {
		return err
	}
	if a.Count != nil {
		if err := checkIndex(op, "count", a.Count); err != nil {
			return err
		}
		if err := checkLen(op, "count", a.Count, numel, "sorted_indices"); err != nil {
			return err
		}
	}

	sorted := a.SortedIndices.AsInt64()
	if err := checkRange(op, "sorted_indices", sorted, a.NumWeights); err != nil {
		return err
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] < sorted[i-1] {
			return invalidf("%s: sorted_indices: expected ascending order, got %d after %d at position %d",
				op, sorted[i], sorted[i-1], i)
		}
	}

	stride := featureDim(a.Grad)
	rows := 0
	if stride > 0 {
		rows = a.Grad.NumElements() / stride
	}

	if a.Offset2Bag == nil {
		if a.BagSize != nil || a.PerSampleWeights != nil {
			return invalidf("%s: offset2bag: bag_size and per_sample_weights require offset2bag", op)
		}
		if stride == 0 {
			return nil
		}
		return checkRange(op, "orig_indices", a.OrigIndices.AsInt64(), int64(rows))
	}

	if err := checkIndex(op, "offset2bag", a.Offset2Bag); err != nil {
		return err
	}
	if err := checkIndex(op, "bag_size", a.BagSize); err != nil {
		return err
	}
	if stride > 0 {
		if err := checkLen(op, "bag_size", a.BagSize, rows, "grad rows"); err != nil {
			return err
		}
	}
	positions := a.Offset2Bag.NumElements()
	if a.PerSampleWeights != nil {
		if a.PerSampleWeights.DType() != a.Grad.DType() {
			return errors.Wrapf(ErrDTypeMismatch, "%s: per_sample_weights: expected dtype %s like grad, got %s",
				op, a.Grad.DType(), a.PerSampleWeights.DType())
		}
		if !a.PerSampleWeights.IsContiguous() {
			return invalidf("%s: per_sample_weights: expected a contiguous tensor", op)
		}
		if err := checkLen(op, "per_sample_weights", a.PerSampleWeights, positions, "offset2bag"); err != nil {
			return err
		}
	}
	if err := checkRange(op, "orig_indices", a.OrigIndices.AsInt64(), int64(positions)); err != nil {
		return err
	}
	if stride == 0 {
		return nil
	}
	return checkRange(op, "offset2bag", a.Offset2Bag.AsInt64(), int64(a.BagSize.NumElements()))
}
