// Package optim implements fused optimizer kernels and the stateful
// optimizers built on them.
//
// This package provides:
//   - AdamWFusedStep: one-pass AdamW update with AMSGrad and master weights
//   - AdamWFusedStepMulti: the same over a list of tensors
//   - LARSFusedStep: layer-wise adaptive rate scaling with momentum
//   - AdamW, LARS: optimizers that own the moment and momentum state
//
// Example usage:
//
//	dev := device.New(device.DefaultConfig())
//	opt := optim.NewAdamW(dev, optim.DefaultAdamWConfig())
//
//	for step := range steps {
//	    grads := backward(model)
//	    if err := opt.Step(ctx, model.Params(grads)); err != nil {
//	        return err
//	    }
//	}
package optim

import (
	"context"

	"github.com/born-ml/kernels/internal/checkpoint"
	"github.com/born-ml/kernels/internal/tensor"
)

// Optimizer is the base interface for the stateful optimizers.
type Optimizer interface {
	// Step applies one update to every parameter that has a gradient.
	// Either all parameters are updated or, on a precondition error, none.
	Step(ctx context.Context, params []Param) error

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR changes the learning rate used by the next Step.
	SetLR(lr float64)

	// State exports the optimizer state for checkpointing.
	State() checkpoint.State

	// LoadState restores state exported by State.
	LoadState(st checkpoint.State) error
}

// Param is one trainable tensor.
//
// Value is float32, or float16/bfloat16 when Master holds the float32
// weights. Params with a nil Grad are skipped.
type Param struct {
	Name   string
	Value  *tensor.RawTensor
	Grad   *tensor.RawTensor
	Master *tensor.RawTensor
}

// weight returns the tensor whose shape the optimizer state follows.
func (p Param) weight() *tensor.RawTensor {
	if p.Master != nil {
		return p.Master
	}
	return p.Value
}

func stateKey(param, slot string) string {
	return param + "." + slot
}
