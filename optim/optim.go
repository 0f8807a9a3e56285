// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/optim"
	"github.com/born-ml/kernels/internal/tensor"
)

// Optimizer is the interface of the stateful optimizers.
type Optimizer = optim.Optimizer

// Param is one trainable tensor with its gradient and optional master copy.
type Param = optim.Param

// Errors returned by precondition checks; test with errors.Is.
var (
	ErrInvalidArgument = optim.ErrInvalidArgument
	ErrShapeMismatch   = optim.ErrShapeMismatch
	ErrDTypeMismatch   = optim.ErrDTypeMismatch
)

// AdamW

// AdamWArgs are the operands of one fused AdamW step.
type AdamWArgs = optim.AdamWArgs

// MultiAdamWArgs are the operands of a multi-tensor AdamW step.
type MultiAdamWArgs = optim.MultiAdamWArgs

// AdamWConfig holds the hyperparameters of AdamW.
type AdamWConfig = optim.AdamWConfig

// AdamW is Adam with decoupled weight decay.
type AdamW = optim.AdamW

// AdamWFusedStep applies one AdamW step in place.
func AdamWFusedStep(ctx context.Context, dev *device.Context, a AdamWArgs) error {
	return optim.AdamWFusedStep(ctx, dev, a)
}

// AdamWFusedStepMulti applies one AdamW step to a list of tensors. No tensor
// is written unless every one passes validation.
func AdamWFusedStepMulti(ctx context.Context, dev *device.Context, m MultiAdamWArgs) error {
	return optim.AdamWFusedStepMulti(ctx, dev, m)
}

// DefaultAdamWConfig returns lr=1e-3, betas=(0.9, 0.999), eps=1e-8,
// weight_decay=1e-2.
func DefaultAdamWConfig() AdamWConfig {
	return optim.DefaultAdamWConfig()
}

// NewAdamW creates an AdamW optimizer.
func NewAdamW(dev *device.Context, cfg AdamWConfig) *AdamW {
	return optim.NewAdamW(dev, cfg)
}

// LARS

// LARSArgs are the operands of one fused LARS step.
type LARSArgs = optim.LARSArgs

// LARSConfig holds the hyperparameters of LARS.
type LARSConfig = optim.LARSConfig

// LARS is SGD with layer-wise adaptive rate scaling.
type LARS = optim.LARS

// LARSFusedStep applies one LARS step in place and returns the momentum
// buffer, which is newly allocated on first use.
func LARSFusedStep(ctx context.Context, dev *device.Context, a LARSArgs) (*tensor.RawTensor, error) {
	return optim.LARSFusedStep(ctx, dev, a)
}

// LARSTrustRatio returns the layer-wise scale for the given norms.
func LARSTrustRatio(wNorm, gNorm, eeta, weightDecay, eps float32) float32 {
	return optim.LARSTrustRatio(wNorm, gNorm, eeta, weightDecay, eps)
}

// DefaultLARSConfig returns lr=0.1, momentum=0.9, weight_decay=1e-4,
// eeta=1e-3, eps=1e-8.
func DefaultLARSConfig() LARSConfig {
	return optim.DefaultLARSConfig()
}

// NewLARS creates a LARS optimizer.
func NewLARS(dev *device.Context, cfg LARSConfig) *LARS {
	return optim.NewLARS(dev, cfg)
}
