package optim

import (
	"context"

	"github.com/born-ml/kernels/internal/checkpoint"
	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/tensor"
)

// AdamWConfig holds the hyperparameters of AdamW.
type AdamWConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	AMSGrad     bool
	Maximize    bool
}

// DefaultAdamWConfig returns lr=1e-3, betas=(0.9, 0.999), eps=1e-8,
// weight_decay=1e-2.
func DefaultAdamWConfig() AdamWConfig {
	return AdamWConfig{
		LR:          1e-3,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 1e-2,
	}
}

// AdamW implements Adam with decoupled weight decay on top of
// AdamWFusedStepMulti.
//
// Update rule (per element, bias corrections bc1 = 1-beta1^t, bc2 = 1-beta2^t):
//
//	param = param * (1 - lr*weight_decay)
//	m_t   = beta1 * m_{t-1} + (1-beta1) * grad
//	v_t   = beta2 * v_{t-1} + (1-beta2) * grad²
//	param = param - lr/bc1 * m_t / (sqrt(v_t/bc2) + eps)
//
// Moment buffers are created lazily, zero-filled, the first time a parameter
// receives a gradient. Each parameter keeps its own step count.
type AdamW struct {
	dev   *device.Context
	cfg   AdamWConfig
	t     int64
	state map[string]*adamwState
}

type adamwState struct {
	step        int64
	expAvg      *tensor.RawTensor
	expAvgSq    *tensor.RawTensor
	maxExpAvgSq *tensor.RawTensor
}

// NewAdamW creates an AdamW optimizer running on dev.
func NewAdamW(dev *device.Context, cfg AdamWConfig) *AdamW {
	return &AdamW{
		dev:   dev,
		cfg:   cfg,
		state: make(map[string]*adamwState),
	}
}

// Step performs a single optimization step.
func (o *AdamW) Step(ctx context.Context, params []Param) error {
	m := MultiAdamWArgs{
		AMSGrad:     o.cfg.AMSGrad,
		Maximize:    o.cfg.Maximize,
		LR:          o.cfg.LR,
		Beta1:       o.cfg.Beta1,
		Beta2:       o.cfg.Beta2,
		WeightDecay: o.cfg.WeightDecay,
		Eps:         o.cfg.Eps,
	}
	pending := make(map[string]*adamwState)
	var names []string
	for _, p := range params {
		if p.Grad == nil {
			continue
		}
		st, ok := o.state[p.Name]
		if !ok {
			st = o.newState(p)
			pending[p.Name] = st
		}
		names = append(names, p.Name)
		m.Params = append(m.Params, p.Value)
		m.Grads = append(m.Grads, p.Grad)
		m.ExpAvgs = append(m.ExpAvgs, st.expAvg)
		m.ExpAvgSqs = append(m.ExpAvgSqs, st.expAvgSq)
		m.MaxExpAvgSqs = append(m.MaxExpAvgSqs, st.maxExpAvgSq)
		m.Params2 = append(m.Params2, p.Master)
		m.StateSteps = append(m.StateSteps, st.step+1)
	}
	if len(names) == 0 {
		return nil
	}

	if err := AdamWFusedStepMulti(ctx, o.dev, m); err != nil {
		return err
	}

	for name, st := range pending {
		o.state[name] = st
	}
	for _, name := range names {
		o.state[name].step++
	}
	o.t++
	return nil
}

func (o *AdamW) newState(p Param) *adamwState {
	shape := p.weight().Shape()
	st := &adamwState{
		expAvg:   tensor.Zeros(tensor.Float32, shape...),
		expAvgSq: tensor.Zeros(tensor.Float32, shape...),
	}
	if o.cfg.AMSGrad {
		st.maxExpAvgSq = tensor.Zeros(tensor.Float32, shape...)
	}
	return st
}

// GetLR returns the current learning rate.
func (o *AdamW) GetLR() float64 { return o.cfg.LR }

// SetLR sets the learning rate.
func (o *AdamW) SetLR(lr float64) { o.cfg.LR = lr }

// GetTimestep returns the number of successful steps.
func (o *AdamW) GetTimestep() int64 { return o.t }

// State exports moments and per-parameter step counts.
func (o *AdamW) State() checkpoint.State {
	st := checkpoint.State{
		Optimizer: "adamw",
		Step:      o.t,
		Hyper: map[string]float64{
			"lr":           o.cfg.LR,
			"beta1":        o.cfg.Beta1,
			"beta2":        o.cfg.Beta2,
			"eps":          o.cfg.Eps,
			"weight_decay": o.cfg.WeightDecay,
			"amsgrad":      boolFloat(o.cfg.AMSGrad),
			"maximize":     boolFloat(o.cfg.Maximize),
		},
		Steps:   make(map[string]int64, len(o.state)),
		Tensors: make(map[string]*tensor.RawTensor, 3*len(o.state)),
	}
	for name, s := range o.state {
		st.Steps[name] = s.step
		st.Tensors[stateKey(name, "exp_avg")] = s.expAvg
		st.Tensors[stateKey(name, "exp_avg_sq")] = s.expAvgSq
		if s.maxExpAvgSq != nil {
			st.Tensors[stateKey(name, "max_exp_avg_sq")] = s.maxExpAvgSq
		}
	}
	return st
}

// LoadState restores state exported by State.
func (o *AdamW) LoadState(st checkpoint.State) error {
	if st.Optimizer != "adamw" {
		return invalidf("adamw: load state: expected optimizer adamw, got %q", st.Optimizer)
	}
	cfg := AdamWConfig{
		LR:          st.Hyper["lr"],
		Beta1:       st.Hyper["beta1"],
		Beta2:       st.Hyper["beta2"],
		Eps:         st.Hyper["eps"],
		WeightDecay: st.Hyper["weight_decay"],
		AMSGrad:     st.Hyper["amsgrad"] != 0,
		Maximize:    st.Hyper["maximize"] != 0,
	}
	state := make(map[string]*adamwState, len(st.Steps))
	for name, step := range st.Steps {
		s := &adamwState{
			step:     step,
			expAvg:   st.Tensors[stateKey(name, "exp_avg")],
			expAvgSq: st.Tensors[stateKey(name, "exp_avg_sq")],
		}
		if s.expAvg == nil || s.expAvgSq == nil {
			return invalidf("adamw: load state: missing moments for %q", name)
		}
		if cfg.AMSGrad {
			s.maxExpAvgSq = st.Tensors[stateKey(name, "max_exp_avg_sq")]
			if s.maxExpAvgSq == nil {
				return invalidf("adamw: load state: missing max_exp_avg_sq for %q", name)
			}
		}
		state[name] = s
	}
	o.cfg = cfg
	o.t = st.Step
	o.state = state
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
