package optim

import (
	"context"
	"math"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/born-ml/kernels/internal/vec"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AdamWArgs are the operands of one fused AdamW step.
//
// Param, ExpAvg, ExpAvgSq, MaxExpAvgSq and Param2 are updated in place.
// MaxExpAvgSq is only read when AMSGrad is set. Param2 selects master-weight
// mode: Param is then a float16/bfloat16 mirror of the float32 Param2.
type AdamWArgs struct {
	Param       *tensor.RawTensor
	ExpAvg      *tensor.RawTensor
	ExpAvgSq    *tensor.RawTensor
	MaxExpAvgSq *tensor.RawTensor
	Grad        *tensor.RawTensor
	Param2      *tensor.RawTensor

	AMSGrad     bool
	Maximize    bool
	Step        int64
	Beta1       float64
	Beta2       float64
	LR          float64
	WeightDecay float64
	Eps         float64
}

// AdamWFusedStep applies one AdamW step to every element in a single pass:
//
//	w        = w * (1 - lr*weight_decay)
//	m        = beta1*m + (1-beta1)*g
//	v        = beta2*v + (1-beta2)*g*g
//	vmax     = max(vmax, v)                          // AMSGrad only
//	w        = w - lr/bc1 * m / (sqrt(v|vmax / bc2) + eps)
//	param    = round(w)                               // master-weight mode
//
// with bc1 = 1-beta1^step and bc2 = 1-beta2^step computed once on the host.
// Every precondition is checked before any tensor is written.
func AdamWFusedStep(ctx context.Context, dev *device.Context, a AdamWArgs) error {
	if err := a.validate(); err != nil {
		return err
	}
	ctx, span := dev.Start(ctx, "optim.AdamWFusedStep",
		attribute.Int("numel", a.Param.NumElements()),
		attribute.String("dtype", a.Param.DType().String()),
		attribute.Bool("amsgrad", a.AMSGrad),
		attribute.Bool("master_weight", a.Param2 != nil))
	defer span.End()

	if err := adamwStep(ctx, dev, &a, a.hyper()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *AdamWArgs) validate() error {
	const op = "adamw"
	if err := checkNonNegative(op, "lr", a.LR); err != nil {
		return err
	}
	if err := checkNonNegative(op, "eps", a.Eps); err != nil {
		return err
	}
	if err := checkRange(op, "beta1", a.Beta1, 0, 1, true); err != nil {
		return err
	}
	if err := checkRange(op, "beta2", a.Beta2, 0, 1, true); err != nil {
		return err
	}
	if err := checkNonNegative(op, "weight_decay", a.WeightDecay); err != nil {
		return err
	}
	if a.Step < 1 {
		return invalidf("%s: step: expected value >= 1, got %d", op, a.Step)
	}

	ts := []named{{"param", a.Param}, {"grad", a.Grad}, {"exp_avg", a.ExpAvg}, {"exp_avg_sq", a.ExpAvgSq}}
	if a.AMSGrad {
		ts = append(ts, named{"max_exp_avg_sq", a.MaxExpAvgSq})
	}
	if a.Param2 != nil {
		ts = append(ts, named{"param2", a.Param2})
	}
	if err := checkSameShape(op, ts...); err != nil {
		return err
	}
	if err := checkWeights(op, a.Param, a.Param2, a.Grad); err != nil {
		return err
	}
	for _, nt := range ts[2:] {
		if nt.name == "param2" {
			continue
		}
		if err := checkDType(op, nt, tensor.Float32); err != nil {
			return err
		}
	}
	return nil
}

// hyper precomputes the float32 step scalars on the host.
func (a *AdamWArgs) hyper() device.AdamWHyper {
	bc1 := float32(1 - math.Pow(a.Beta1, float64(a.Step)))
	bc2 := float32(1 - math.Pow(a.Beta2, float64(a.Step)))
	return device.AdamWHyper{
		Beta1:           float32(a.Beta1),
		Beta2:           float32(a.Beta2),
		OneMinusBeta1:   float32(1 - a.Beta1),
		OneMinusBeta2:   float32(1 - a.Beta2),
		BiasCorrection2: bc2,
		StepSize:        float32(a.LR / float64(bc1)),
		StepWeightDecay: float32(1 - a.LR*a.WeightDecay),
		Eps:             float32(a.Eps),
		AMSGrad:         a.AMSGrad,
	}
}

// adamwStep runs a validated step.
func adamwStep(ctx context.Context, dev *device.Context, a *AdamWArgs, h device.AdamWHyper) error {
	n := a.Param.NumElements()
	if n == 0 {
		return nil
	}

	if acc := dev.Accelerator(); acc != nil && a.Param2 == nil && !a.Maximize {
		var maxSq []float32
		if a.AMSGrad {
			maxSq = a.MaxExpAvgSq.AsFloat32()
		}
		dev.Logger().Debug().Str("accelerator", acc.Name()).Int("numel", n).Msg("adamw offload")
		return acc.FusedAdamW(ctx, h, a.Param.AsFloat32(), a.Grad.AsFloat32(),
			a.ExpAvg.AsFloat32(), a.ExpAvgSq.AsFloat32(), maxSq)
	}

	v := adamwVariants[dtypePair{a.Param.DType(), a.Grad.DType()}]
	k := v.build(a, h)

	width := vec.Pick(dev.MaxVectorWidth(), a.buffers()...)
	groups, tail := vec.Groups(n, width)
	dev.RecordWidth("adamw", width)
	dev.Logger().Debug().
		Int("numel", n).
		Int("width", width).
		Int("groups", groups).
		Int("tail", n-tail).
		Msg("adamw launch")

	run := v.groups[width]
	if err := dev.Launch(ctx, "adamw", groups, func(lo, hi int) {
		run(k, lo*width, hi*width)
	}); err != nil {
		return err
	}
	if tail < n {
		v.groups[1](k, tail, n)
	}
	return nil
}

func (a *AdamWArgs) buffers() []vec.Buffer {
	ts := []*tensor.RawTensor{a.Param, a.Grad, a.ExpAvg, a.ExpAvgSq, a.Param2}
	if a.AMSGrad {
		ts = append(ts, a.MaxExpAvgSq)
	}
	return buffersOf(ts...)
}

func buffersOf(ts ...*tensor.RawTensor) []vec.Buffer {
	bufs := make([]vec.Buffer, 0, len(ts))
	for _, t := range ts {
		if t == nil {
			continue
		}
		bufs = append(bufs, vec.Buffer{Offset: t.Offset(), Contiguous: t.IsContiguous()})
	}
	return bufs
}

// adamwElement is the per-element update shared by every vector width.
// The explicit float32 conversions forbid fused multiply-add.
func adamwElement(h *device.AdamWHyper, w, g, m, v, vmax float32) (float32, float32, float32, float32) {
	w = float32(w * h.StepWeightDecay)
	m = float32(h.Beta1*m) + float32(h.OneMinusBeta1*g)
	v = float32(h.Beta2*v) + float32(float32(h.OneMinusBeta2*g)*g)

	var denom float32
	if h.AMSGrad {
		vmax = max(vmax, v)
		denom = sqrt32(vmax / h.BiasCorrection2)
	} else {
		denom = sqrt32(v / h.BiasCorrection2)
	}
	w -= float32(h.StepSize*m) / (denom + h.Eps)
	return w, m, v, vmax
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// adamwKernel holds the typed views of one launch.
type adamwKernel[T, G tensor.Float] struct {
	param       []T
	master      []float32 // nil unless master-weight mode
	grad        []G
	expAvg      []float32
	expAvgSq    []float32
	maxExpAvgSq []float32 // nil unless AMSGrad
	negate      bool
	h           device.AdamWHyper
}

// runAdamW updates elements [lo, hi) in groups of W; hi-lo is a multiple of W.
func runAdamW[T, G tensor.Float, CT tensor.Codec[T, float32], CG tensor.Codec[G, float32], W vec.Width](anyK any, lo, hi int) {
	k := anyK.(*adamwKernel[T, G])
	var (
		ct CT
		cg CG
		w  W
	)
	lanes := w.Lanes()
	var wv, gv, mv, vv, xv [vec.MaxWidth]float32

	for base := lo; base < hi; base += lanes {
		param := k.param[base : base+lanes]
		grad := k.grad[base : base+lanes]
		expAvg := k.expAvg[base : base+lanes]
		expAvgSq := k.expAvgSq[base : base+lanes]

		for l := range lanes {
			if k.master != nil {
				wv[l] = k.master[base+l]
			} else {
				wv[l] = ct.Widen(param[l])
			}
			gv[l] = cg.Widen(grad[l])
			if k.negate {
				gv[l] = -gv[l]
			}
			mv[l] = expAvg[l]
			vv[l] = expAvgSq[l]
			if k.maxExpAvgSq != nil {
				xv[l] = k.maxExpAvgSq[base+l]
			}
		}

		for l := range lanes {
			wv[l], mv[l], vv[l], xv[l] = adamwElement(&k.h, wv[l], gv[l], mv[l], vv[l], xv[l])
		}

		for l := range lanes {
			expAvg[l] = mv[l]
			expAvgSq[l] = vv[l]
			if k.maxExpAvgSq != nil {
				k.maxExpAvgSq[base+l] = xv[l]
			}
			if k.master != nil {
				k.master[base+l] = wv[l]
			}
			param[l] = ct.Narrow(wv[l])
		}
	}
}

type dtypePair struct {
	param, grad tensor.DataType
}

// adamwVariant is one row of the dispatch table: a typed view builder and one
// kernel instantiation per vector width.
type adamwVariant struct {
	build  func(a *AdamWArgs, h device.AdamWHyper) any
	groups [vec.MaxWidth + 1]func(k any, lo, hi int)
}

var adamwVariants = map[dtypePair]*adamwVariant{}

func registerAdamW[T, G tensor.Float, CT tensor.Codec[T, float32], CG tensor.Codec[G, float32]]() {
	v := &adamwVariant{
		build: func(a *AdamWArgs, h device.AdamWHyper) any {
			k := &adamwKernel[T, G]{
				param:    tensor.Elements[T](a.Param),
				grad:     tensor.Elements[G](a.Grad),
				expAvg:   a.ExpAvg.AsFloat32(),
				expAvgSq: a.ExpAvgSq.AsFloat32(),
				negate:   a.Maximize,
				h:        h,
			}
			if a.Param2 != nil {
				k.master = a.Param2.AsFloat32()
			}
			if a.AMSGrad {
				k.maxExpAvgSq = a.MaxExpAvgSq.AsFloat32()
			}
			return k
		},
	}
	v.groups[1] = runAdamW[T, G, CT, CG, vec.W1]
	v.groups[2] = runAdamW[T, G, CT, CG, vec.W2]
	v.groups[4] = runAdamW[T, G, CT, CG, vec.W4]
	v.groups[8] = runAdamW[T, G, CT, CG, vec.W8]
	adamwVariants[dtypePair{tensor.DataTypeOf[T](), tensor.DataTypeOf[G]()}] = v
}

func init() {
	registerAdamW[float32, float32, tensor.F32, tensor.F32]()
	registerAdamW[float16.Float16, float16.Float16, tensor.F16, tensor.F16]()
	registerAdamW[float16.Float16, float32, tensor.F16, tensor.F32]()
	registerAdamW[bfloat16.BFloat16, bfloat16.BFloat16, tensor.BF16, tensor.BF16]()
	registerAdamW[bfloat16.BFloat16, float32, tensor.BF16, tensor.F32]()
}
