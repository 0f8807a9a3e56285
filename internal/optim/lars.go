package optim

import (
	"context"
	"strings"

	"github.com/born-ml/kernels/internal/checkpoint"
	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
)

// LARSConfig holds the hyperparameters of LARS.
type LARSConfig struct {
	LR          float64
	Momentum    float64
	Dampening   float64
	WeightDecay float64
	Eeta        float64 // trust coefficient
	Eps         float64
	Nesterov    bool
}

// DefaultLARSConfig returns lr=0.1, momentum=0.9, weight_decay=1e-4,
// eeta=1e-3, eps=1e-8.
func DefaultLARSConfig() LARSConfig {
	return LARSConfig{
		LR:          0.1,
		Momentum:    0.9,
		WeightDecay: 1e-4,
		Eeta:        1e-3,
		Eps:         1e-8,
	}
}

// LARS implements layer-wise adaptive rate scaling on top of LARSFusedStep.
// Every parameter is one layer: its trust ratio comes from its own weight
// and gradient norms.
//
// Update rule:
//
//	trust  = eeta * |w| / (|g| + weight_decay*|w| + eps)   // 1 if a norm is 0
//	d      = g + weight_decay * w
//	buf    = momentum * buf + (1-dampening) * d             // buf = d on first use
//	w      = w - lr * trust * buf
type LARS struct {
	dev     *device.Context
	cfg     LARSConfig
	t       int64
	buffers map[string]*tensor.RawTensor
}

// NewLARS creates a LARS optimizer running on dev.
func NewLARS(dev *device.Context, cfg LARSConfig) *LARS {
	return &LARS{
		dev:     dev,
		cfg:     cfg,
		buffers: make(map[string]*tensor.RawTensor),
	}
}

// Step performs a single optimization step. All parameters are validated
// before the first one is updated.
func (o *LARS) Step(ctx context.Context, params []Param) error {
	var steps []LARSArgs
	var names []string
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		a := LARSArgs{
			Param:          p.Value,
			Grad:           p.Grad,
			MomentumBuffer: o.buffers[p.Name],
			Param2:         p.Master,
			Momentum:       o.cfg.Momentum,
			LR:             o.cfg.LR,
			Eeta:           o.cfg.Eeta,
			Eps:            o.cfg.Eps,
			WeightDecay:    o.cfg.WeightDecay,
			Dampening:      o.cfg.Dampening,
			Nesterov:       o.cfg.Nesterov,
		}
		if err := a.validate(); err != nil {
			return errors.Wrapf(err, "lars: param %q", p.Name)
		}
		steps = append(steps, a)
		names = append(names, p.Name)
	}

	for i := range steps {
		buf, err := LARSFusedStep(ctx, o.dev, steps[i])
		if err != nil {
			return errors.Wrapf(err, "lars: param %q", names[i])
		}
		if buf != nil {
			o.buffers[names[i]] = buf
		}
	}
	if len(steps) > 0 {
		o.t++
	}
	return nil
}

// GetLR returns the current learning rate.
func (o *LARS) GetLR() float64 { return o.cfg.LR }

// SetLR sets the learning rate.
func (o *LARS) SetLR(lr float64) { o.cfg.LR = lr }

// GetTimestep returns the number of steps taken.
func (o *LARS) GetTimestep() int64 { return o.t }

// State exports the momentum buffers.
func (o *LARS) State() checkpoint.State {
	st := checkpoint.State{
		Optimizer: "lars",
		Step:      o.t,
		Hyper: map[string]float64{
			"lr":           o.cfg.LR,
			"momentum":     o.cfg.Momentum,
			"dampening":    o.cfg.Dampening,
			"weight_decay": o.cfg.WeightDecay,
			"eeta":         o.cfg.Eeta,
			"eps":          o.cfg.Eps,
			"nesterov":     boolFloat(o.cfg.Nesterov),
		},
		Tensors: make(map[string]*tensor.RawTensor, len(o.buffers)),
	}
	for name, buf := range o.buffers {
		st.Tensors[stateKey(name, "momentum_buffer")] = buf
	}
	return st
}

// LoadState restores state exported by State.
func (o *LARS) LoadState(st checkpoint.State) error {
	if st.Optimizer != "lars" {
		return invalidf("lars: load state: expected optimizer lars, got %q", st.Optimizer)
	}
	const suffix = ".momentum_buffer"
	buffers := make(map[string]*tensor.RawTensor, len(st.Tensors))
	for key, t := range st.Tensors {
		name, ok := strings.CutSuffix(key, suffix)
		if !ok || name == "" {
			return invalidf("lars: load state: unexpected tensor %q", key)
		}
		buffers[name] = t
	}
	o.cfg = LARSConfig{
		LR:          st.Hyper["lr"],
		Momentum:    st.Hyper["momentum"],
		Dampening:   st.Hyper["dampening"],
		WeightDecay: st.Hyper["weight_decay"],
		Eeta:        st.Hyper["eeta"],
		Eps:         st.Hyper["eps"],
		Nesterov:    st.Hyper["nesterov"] != 0,
	}
	o.t = st.Step
	o.buffers = buffers
	return nil
}

var (
	_ Optimizer = (*AdamW)(nil)
	_ Optimizer = (*LARS)(nil)
)
