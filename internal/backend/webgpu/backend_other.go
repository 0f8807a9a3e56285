//go:build !windows

package webgpu

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
)

// Backend is the WebGPU accelerator. It cannot be created on this platform.
type Backend struct{}

// New always returns ErrNotAvailable on this platform.
func New() (*Backend, error) {
	return nil, ErrNotAvailable
}

// Name returns the accelerator name.
func (b *Backend) Name() string { return "webgpu" }

// FusedAdamW always returns ErrNotAvailable on this platform.
func (b *Backend) FusedAdamW(context.Context, device.AdamWHyper, []float32, []float32, []float32, []float32, []float32) error {
	return ErrNotAvailable
}

// Release is a no-op on this platform.
func (b *Backend) Release() {}

var _ device.Accelerator = (*Backend)(nil)
