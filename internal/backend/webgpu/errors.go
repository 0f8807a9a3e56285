// Package webgpu offloads float32 optimizer kernels to a GPU through WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The backend is only built on windows, where the wgpu-native library is
// loaded at runtime. Elsewhere New returns ErrNotAvailable.
package webgpu

import "errors"

// ErrNotAvailable is returned by New when no WebGPU device can be used.
var ErrNotAvailable = errors.New("webgpu: not available")
