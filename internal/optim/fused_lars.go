package optim

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/born-ml/kernels/internal/vec"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gonum.org/v1/gonum/blas/blas32"
)

// LARSArgs are the operands of one fused LARS step.
//
// Param (and Param2 in master-weight mode) is updated in place. A nil
// MomentumBuffer with Momentum != 0 means the buffer does not exist yet.
type LARSArgs struct {
	Param          *tensor.RawTensor
	Grad           *tensor.RawTensor
	MomentumBuffer *tensor.RawTensor
	Param2         *tensor.RawTensor

	Momentum    float64
	LR          float64
	Eeta        float64
	Eps         float64
	WeightDecay float64
	Dampening   float64
	Nesterov    bool
}

// LARSTrustRatio returns eeta*wNorm / (gNorm + weightDecay*wNorm + eps), or
// exactly 1 when either norm is zero.
func LARSTrustRatio(wNorm, gNorm, eeta, weightDecay, eps float32) float32 {
	if wNorm > 0 && gNorm > 0 {
		return eeta * wNorm / (gNorm + weightDecay*wNorm + eps)
	}
	return 1
}

// LARSFusedStep applies one layer-wise adaptive rate scaling step:
//
//	lars_lr = -lr * trust_ratio(|w|, |g|)
//	d       = g + weight_decay*w
//	buf     = initialized ? momentum*buf + (1-dampening)*d : d   // momentum != 0
//	d       = nesterov ? buf + momentum*buf : buf
//	w       = w + lars_lr*d
//
// The norms are global L2 norms over the whole weight and gradient. It returns
// the momentum buffer: the given one if any, a freshly zeroed one on first use
// with Momentum != 0, and nil otherwise. A buffer passed with Momentum == 0 is
// returned untouched.
func LARSFusedStep(ctx context.Context, dev *device.Context, a LARSArgs) (*tensor.RawTensor, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	ctx, span := dev.Start(ctx, "optim.LARSFusedStep",
		attribute.Int("numel", a.Param.NumElements()),
		attribute.String("dtype", a.Param.DType().String()),
		attribute.Bool("momentum", a.Momentum != 0),
		attribute.Bool("master_weight", a.Param2 != nil))
	defer span.End()

	buf, err := larsStep(ctx, dev, &a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return buf, nil
}

func (a *LARSArgs) validate() error {
	const op = "lars"
	for _, p := range []struct {
		name string
		v    float64
	}{
		{"lr", a.LR}, {"eps", a.Eps}, {"weight_decay", a.WeightDecay}, {"momentum", a.Momentum}, {"eeta", a.Eeta},
	} {
		if err := checkNonNegative(op, p.name, p.v); err != nil {
			return err
		}
	}
	if err := checkRange(op, "dampening", a.Dampening, 0, 1, false); err != nil {
		return err
	}
	if a.Nesterov && (a.Momentum <= 0 || a.Dampening != 0) {
		return invalidf("%s: nesterov: requires momentum > 0 and zero dampening, got momentum %g dampening %g",
			op, a.Momentum, a.Dampening)
	}

	ts := []named{{"param", a.Param}, {"grad", a.Grad}}
	if a.Param2 != nil {
		ts = append(ts, named{"param2", a.Param2})
	}
	if a.Momentum != 0 && a.MomentumBuffer != nil {
		ts = append(ts, named{"momentum_buffer", a.MomentumBuffer})
	}
	if err := checkSameShape(op, ts...); err != nil {
		return err
	}
	if err := checkWeights(op, a.Param, a.Param2, a.Grad); err != nil {
		return err
	}
	if a.Momentum != 0 && a.MomentumBuffer != nil {
		return checkDType(op, named{"momentum_buffer", a.MomentumBuffer}, tensor.Float32)
	}
	return nil
}

// weight returns the full precision weight tensor.
func (a *LARSArgs) weight() *tensor.RawTensor {
	if a.Param2 != nil {
		return a.Param2
	}
	return a.Param
}

// norms computes the global L2 norms of weight and gradient.
func (a *LARSArgs) norms() (wNorm, gNorm float32) {
	n := a.Param.NumElements()
	wNorm = blas32.Nrm2(blas32.Vector{N: n, Inc: 1, Data: a.weight().AsFloat32()})
	g := a.Grad
	var gData []float32
	if g.DType() == tensor.Float32 {
		gData = g.AsFloat32()
	} else {
		gData = g.ToFloat32()
	}
	gNorm = blas32.Nrm2(blas32.Vector{N: n, Inc: 1, Data: gData})
	return wNorm, gNorm
}

// larsHyper holds the float32 scalars of one LARS step.
type larsHyper struct {
	larsLR      float32
	weightDecay float32
	momentum    float32
	gradDecay   float32 // 1 - dampening
	useMomentum bool
	nesterov    bool
	initialized bool
}

func larsStep(ctx context.Context, dev *device.Context, a *LARSArgs) (*tensor.RawTensor, error) {
	n := a.Param.NumElements()
	buf := a.MomentumBuffer
	initialized := buf != nil
	if a.Momentum != 0 && buf == nil {
		buf = tensor.ZerosLike(a.weight())
	}
	var state *tensor.RawTensor
	if a.Momentum != 0 {
		state = buf
	}
	if n == 0 {
		return buf, nil
	}

	wNorm, gNorm := a.norms()
	ratio := LARSTrustRatio(wNorm, gNorm, float32(a.Eeta), float32(a.WeightDecay), float32(a.Eps))
	h := larsHyper{
		larsLR:      -float32(a.LR) * ratio,
		weightDecay: float32(a.WeightDecay),
		momentum:    float32(a.Momentum),
		gradDecay:   float32(1 - a.Dampening),
		useMomentum: a.Momentum != 0,
		nesterov:    a.Nesterov,
		initialized: initialized,
	}

	v := larsVariants[dtypePair{a.Param.DType(), a.Grad.DType()}]
	k := v.build(a, state, h)

	width := vec.Pick(dev.MaxVectorWidth(), buffersOf(a.Param, a.Grad, a.Param2, state)...)
	groups, tail := vec.Groups(n, width)
	dev.RecordWidth("lars", width)
	dev.Logger().Debug().
		Int("numel", n).
		Int("width", width).
		Float32("w_norm", wNorm).
		Float32("g_norm", gNorm).
		Float32("trust_ratio", ratio).
		Bool("momentum_initialized", initialized).
		Msg("lars launch")

	run := v.groups[width]
	if err := dev.Launch(ctx, "lars", groups, func(lo, hi int) {
		run(k, lo*width, hi*width)
	}); err != nil {
		return nil, err
	}
	if tail < n {
		v.groups[1](k, tail, n)
	}
	return buf, nil
}

// larsElement is the per-element update shared by every vector width.
// It returns the new weight and momentum buffer value.
func larsElement(h *larsHyper, w, g, prev float32) (float32, float32) {
	d := g
	if h.weightDecay != 0 {
		d += float32(h.weightDecay * w)
	}
	var buf float32
	if h.useMomentum {
		buf = d
		if h.initialized {
			buf = float32(h.momentum*prev) + float32(h.gradDecay*d)
		}
		d = buf
		if h.nesterov {
			d = buf + float32(h.momentum*buf)
		}
	}
	return w + float32(h.larsLR*d), buf
}

type larsKernel[T, G tensor.Float] struct {
	param  []T
	master []float32 // nil unless master-weight mode
	grad   []G
	buf    []float32 // nil unless momentum != 0
	h      larsHyper
}

func runLARS[T, G tensor.Float, CT tensor.Codec[T, float32], CG tensor.Codec[G, float32], W vec.Width](anyK any, lo, hi int) {
	k := anyK.(*larsKernel[T, G])
	var (
		ct CT
		cg CG
		w  W
	)
	lanes := w.Lanes()
	var wv, gv, bv [vec.MaxWidth]float32

	for base := lo; base < hi; base += lanes {
		param := k.param[base : base+lanes]
		grad := k.grad[base : base+lanes]

		for l := range lanes {
			if k.master != nil {
				wv[l] = k.master[base+l]
			} else {
				wv[l] = ct.Widen(param[l])
			}
			gv[l] = cg.Widen(grad[l])
			if k.buf != nil {
				bv[l] = k.buf[base+l]
			}
		}

		for l := range lanes {
			wv[l], bv[l] = larsElement(&k.h, wv[l], gv[l], bv[l])
		}

		for l := range lanes {
			if k.buf != nil {
				k.buf[base+l] = bv[l]
			}
			if k.master != nil {
				k.master[base+l] = wv[l]
			}
			param[l] = ct.Narrow(wv[l])
		}
	}
}

type larsVariant struct {
	build  func(a *LARSArgs, buf *tensor.RawTensor, h larsHyper) any
	groups [vec.MaxWidth + 1]func(k any, lo, hi int)
}

var larsVariants = map[dtypePair]*larsVariant{}

func registerLARS[T, G tensor.Float, CT tensor.Codec[T, float32], CG tensor.Codec[G, float32]]() {
	v := &larsVariant{
		build: func(a *LARSArgs, buf *tensor.RawTensor, h larsHyper) any {
			k := &larsKernel[T, G]{
				param: tensor.Elements[T](a.Param),
				grad:  tensor.Elements[G](a.Grad),
				h:     h,
			}
			if a.Param2 != nil {
				k.master = a.Param2.AsFloat32()
			}
			if buf != nil {
				k.buf = buf.AsFloat32()
			}
			return k
		},
	}
	v.groups[1] = runLARS[T, G, CT, CG, vec.W1]
	v.groups[2] = runLARS[T, G, CT, CG, vec.W2]
	v.groups[4] = runLARS[T, G, CT, CG, vec.W4]
	v.groups[8] = runLARS[T, G, CT, CG, vec.W8]
	larsVariants[dtypePair{tensor.DataTypeOf[T](), tensor.DataTypeOf[G]()}] = v
}

func init() {
	registerLARS[float32, float32, tensor.F32, tensor.F32]()
	registerLARS[float16.Float16, float16.Float16, tensor.F16, tensor.F16]()
	registerLARS[float16.Float16, float32, tensor.F16, tensor.F32]()
	registerLARS[bfloat16.BFloat16, bfloat16.BFloat16, tensor.BF16, tensor.BF16]()
	registerLARS[bfloat16.BFloat16, float32, tensor.BF16, tensor.F32]()
}
