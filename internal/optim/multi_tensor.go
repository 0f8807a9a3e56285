package optim

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// MultiAdamWArgs applies AdamW to a list of parameters in one call.
//
// All lists are indexed together. MaxExpAvgSqs is required only with AMSGrad
// and Params2 only in master-weight mode; either may be nil. StateSteps holds
// the step count of each parameter. When LRTensor is set, the learning rate
// is read from that one-element tensor instead of LR.
type MultiAdamWArgs struct {
	Params       []*tensor.RawTensor
	Grads        []*tensor.RawTensor
	ExpAvgs      []*tensor.RawTensor
	ExpAvgSqs    []*tensor.RawTensor
	MaxExpAvgSqs []*tensor.RawTensor
	Params2      []*tensor.RawTensor
	StateSteps   []int64

	AMSGrad     bool
	Maximize    bool
	LR          float64
	LRTensor    *tensor.RawTensor
	Beta1       float64
	Beta2       float64
	WeightDecay float64
	Eps         float64
}

// AdamWFusedStepMulti validates every parameter before updating any of them,
// then runs the per-parameter steps concurrently.
func AdamWFusedStepMulti(ctx context.Context, dev *device.Context, m MultiAdamWArgs) error {
	steps, err := m.expand(dev)
	if err != nil {
		return err
	}
	ctx, span := dev.Start(ctx, "optim.AdamWFusedStepMulti", attribute.Int("tensors", len(steps)))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(dev.Parallel().NumWorkers, 1))
	for i := range steps {
		g.Go(func() error {
			return adamwStep(gctx, dev, &steps[i], steps[i].hyper())
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (m *MultiAdamWArgs) expand(dev *device.Context) ([]AdamWArgs, error) {
	const op = "adamw_multi"
	n := len(m.Params)
	lists := []struct {
		name     string
		length   int
		optional bool
	}{
		{"grads", len(m.Grads), false},
		{"exp_avgs", len(m.ExpAvgs), false},
		{"exp_avg_sqs", len(m.ExpAvgSqs), false},
		{"state_steps", len(m.StateSteps), false},
		{"max_exp_avg_sqs", len(m.MaxExpAvgSqs), !m.AMSGrad},
		{"params2", len(m.Params2), true},
	}
	for _, l := range lists {
		if l.optional && l.length == 0 {
			continue
		}
		if l.length != n {
			return nil, invalidf("%s: %s: expected %d tensors to match params, got %d", op, l.name, n, l.length)
		}
	}

	lr := m.LR
	if m.LRTensor != nil {
		if m.LRTensor.NumElements() != 1 {
			return nil, invalidf("%s: lr: expected a one-element tensor, got shape %v", op, m.LRTensor.Shape())
		}
		if err := checkDType(op, named{"lr", m.LRTensor}, tensor.Float32, tensor.Float64); err != nil {
			return nil, err
		}
		lrt := m.LRTensor
		lr = dev.SyncFloat("adamw.lr", func() float64 {
			if lrt.DType() == tensor.Float64 {
				return lrt.AsFloat64()[0]
			}
			return float64(lrt.AsFloat32()[0])
		})
	}

	steps := make([]AdamWArgs, n)
	for i := range steps {
		a := AdamWArgs{
			Param:       m.Params[i],
			Grad:        m.Grads[i],
			ExpAvg:      m.ExpAvgs[i],
			ExpAvgSq:    m.ExpAvgSqs[i],
			AMSGrad:     m.AMSGrad,
			Maximize:    m.Maximize,
			Step:        m.StateSteps[i],
			Beta1:       m.Beta1,
			Beta2:       m.Beta2,
			LR:          lr,
			WeightDecay: m.WeightDecay,
			Eps:         m.Eps,
		}
		if m.AMSGrad {
			a.MaxExpAvgSq = m.MaxExpAvgSqs[i]
		}
		if len(m.Params2) > 0 {
			a.Param2 = m.Params2[i]
		}
		if err := a.validate(); err != nil {
			return nil, errors.Wrapf(err, "%s: tensor %d", op, i)
		}
		steps[i] = a
	}
	return steps, nil
}
