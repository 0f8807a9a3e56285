package embedding

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// reduceKernel holds the typed views of one reduction. T is the storage type
// of grad and the output, A the type partial sums are accumulated in.
type reduceKernel[T tensor.Float, A tensor.Accum, C tensor.Codec[T, A]] struct {
	plan   *plan
	stride int

	grad   []T
	orig   []int64
	sorted []int64
	count  []int64 // nil unless duplicate de-weighting

	// Bag mode.
	offset2bag []int64 // nil in plain mode
	bagSize    []int64
	perSample  []T // nil unless per-sample weights
	modeMean   bool

	perSegment []A // [partials, stride]
	out        []T // [num_weights, stride]
	padding    int64
}

func (k *reduceKernel[T, A, C]) scale(idx int64) A {
	if k.count != nil {
		return 1 / A(k.count[idx])
	}
	return 1
}

// partial sums the contributions of one partial segment for one feature.
func (k *reduceKernel[T, A, C]) partial(id, feature int) {
	var c C
	var w A
	end := k.plan.partialEnd(id)
	for idx := k.plan.partialOffsets[id]; idx < end; idx++ {
		row := k.orig[idx]
		w += c.Widen(k.grad[int(row)*k.stride+feature]) * k.scale(idx)
	}
	k.perSegment[id*k.stride+feature] = w
}

// partialBag is partial for bag mode: the gradient row is the bag of the
// original position, optionally averaged over the bag and scaled by the
// per-sample weight.
func (k *reduceKernel[T, A, C]) partialBag(id, feature int) {
	var c C
	var w A
	end := k.plan.partialEnd(id)
	for idx := k.plan.partialOffsets[id]; idx < end; idx++ {
		row := k.orig[idx]
		bag := k.offset2bag[row]

		scale := k.scale(idx)
		if k.perSample != nil {
			scale *= c.Widen(k.perSample[row])
		}
		g := c.Widen(k.grad[int(bag)*k.stride+feature])
		if k.modeMean {
			g /= A(k.bagSize[bag])
		}
		w += g * scale
	}
	k.perSegment[id*k.stride+feature] = w
}

// sumAndScatter combines the partial sums of one segment and writes the
// result to the segment's embedding row unless it is the padding row.
func (k *reduceKernel[T, A, C]) sumAndScatter(id, feature int) {
	var c C
	var w A
	end := k.plan.partialsEnd(id)
	for p := k.plan.partialsOffset[id]; p < end; p++ {
		w += k.perSegment[int(p)*k.stride+feature]
	}
	target := k.sorted[k.plan.segmentOffsets[id]]
	if target != k.padding {
		k.out[int(target)*k.stride+feature] = c.Narrow(w)
	}
}

// reduce runs the partial and sum-and-scatter passes into out.
func reduce[T tensor.Float, A tensor.Accum, C tensor.Codec[T, A]](
	ctx context.Context, dev *device.Context, a *BackwardArgs, p *plan, out *tensor.RawTensor,
) error {
	stride := featureDim(a.Grad)
	pool := dev.Pool()

	k := &reduceKernel[T, A, C]{
		plan:       p,
		stride:     stride,
		grad:       tensor.Elements[T](a.Grad),
		orig:       a.OrigIndices.AsInt64(),
		sorted:     a.SortedIndices.AsInt64(),
		perSegment: device.Scratch[A](pool, p.partials()*stride),
		out:        tensor.Elements[T](out),
		padding:    a.PaddingIdx,
		modeMean:   a.ModeMean,
	}
	defer device.Recycle(pool, k.perSegment)
	if a.Count != nil {
		k.count = a.Count.AsInt64()
	}

	partial := k.partial
	if a.Offset2Bag != nil {
		k.offset2bag = a.Offset2Bag.AsInt64()
		k.bagSize = a.BagSize.AsInt64()
		if a.PerSampleWeights != nil {
			k.perSample = tensor.Elements[T](a.PerSampleWeights)
		}
		partial = k.partialBag
	}

	if err := dev.Launch2D(ctx, "embedding.partial", p.partials(), stride, partial); err != nil {
		return err
	}
	return dev.Launch2D(ctx, "embedding.sum_and_scatter", p.segments(), stride, k.sumAndScatter)
}

type reducer func(ctx context.Context, dev *device.Context, a *BackwardArgs, p *plan, out *tensor.RawTensor) error

// reducers accumulate half precision in float32 and float64 in float64.
var reducers = map[tensor.DataType]reducer{
	tensor.Float32:  reduce[float32, float32, tensor.F32],
	tensor.Float64:  reduce[float64, float64, tensor.F64],
	tensor.Float16:  reduce[float16.Float16, float32, tensor.F16],
	tensor.BFloat16: reduce[bfloat16.BFloat16, float32, tensor.BF16],
}
