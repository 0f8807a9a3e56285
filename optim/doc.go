// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides fused optimizer kernels and the stateful optimizers
// built on them.
//
// # Overview
//
// This package contains:
//   - AdamWFusedStep: one-pass AdamW update with AMSGrad and master weights
//   - AdamWFusedStepMulti: the same over a list of tensors
//   - LARSFusedStep: layer-wise adaptive rate scaling with momentum
//   - AdamW, LARS: optimizers that own their moment and momentum state
//
// # Basic Usage
//
//	dev := device.New(device.DefaultConfig())
//	opt := optim.NewAdamW(dev, optim.DefaultAdamWConfig())
//
//	for range steps {
//	    if err := opt.Step(ctx, params); err != nil {
//	        return err
//	    }
//	}
//
// # Mixed Precision
//
// Parameters may be float16 or bfloat16 when a float32 master copy is
// supplied. The update runs on the master weights and the low-precision
// parameter is rewritten by rounding.
//
// # Checkpoints
//
// State and LoadState exchange a checkpoint.State, which the checkpoint
// package serializes.
package optim
