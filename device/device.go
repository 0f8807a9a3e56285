// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device provides the execution context every kernel runs in.
//
// A Context carries the launcher configuration, the vector width, the scratch
// pool and the logging, tracing and metrics hooks. There is no global default;
// create one and pass it to each kernel call.
//
//	cfg := device.DefaultConfig()
//	cfg.Logger = zerolog.New(os.Stderr)
//	dev := device.New(cfg)
package device

import (
	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/parallel"
)

// Context is the explicit device handle passed to every kernel.
type Context = device.Context

// Config configures a Context.
type Config = device.Config

// ParallelConfig controls how launches are split across goroutines.
type ParallelConfig = parallel.Config

// Metrics holds the prometheus collectors a Context reports to.
type Metrics = device.Metrics

// PoolStats is a snapshot of scratch pool usage.
type PoolStats = device.PoolStats

// Accelerator is an optional offload target for float32 kernels.
type Accelerator = device.Accelerator

// AdamWHyper holds the host-side scalars of one AdamW step.
type AdamWHyper = device.AdamWHyper

// New creates a Context from cfg.
func New(cfg Config) *Context {
	return device.New(cfg)
}

// DefaultConfig uses all CPUs, the detected vector width and a disabled logger.
func DefaultConfig() Config {
	return device.DefaultConfig()
}

// SequentialConfig returns a config that runs every launch on the caller's
// goroutine.
func SequentialConfig() Config {
	cfg := device.DefaultConfig()
	cfg.Parallel = parallel.Sequential()
	return cfg
}
