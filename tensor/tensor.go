// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/kernels/internal/tensor"

// RawTensor is the low-level tensor representation.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Device()
//   - Type-safe data access via AsFloat32(), AsInt64(), etc.
//   - Views via Narrow() and Reshape()
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
//	view, _ := raw.Narrow(2, 3)
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType represents runtime type information for tensors.
type DataType = tensor.DataType

// Device represents the compute device a tensor lives on.
type Device = tensor.Device

// Float is the constraint for element types the fused kernels accept.
type Float = tensor.Float

// Supported data types.
const (
	Float32  = tensor.Float32
	Float64  = tensor.Float64
	Int64    = tensor.Int64
	Float16  = tensor.Float16
	BFloat16 = tensor.BFloat16
)

// CPU is the host device.
const CPU = tensor.CPU

// NewRaw allocates a zeroed contiguous tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros allocates a zeroed CPU tensor with the given dimensions.
func Zeros(dtype DataType, dims ...int) *RawTensor {
	return tensor.Zeros(dtype, dims...)
}

// ZerosLike allocates a zeroed tensor with the shape and dtype of r.
func ZerosLike(r *RawTensor) *RawTensor {
	return tensor.ZerosLike(r)
}

// FromFloat32 builds a floating-point tensor, rounding values to dtype.
func FromFloat32(dtype DataType, shape Shape, values []float32) (*RawTensor, error) {
	return tensor.FromFloat32(dtype, shape, values)
}

// FromInt64 builds an Int64 tensor.
func FromInt64(shape Shape, values []int64) (*RawTensor, error) {
	return tensor.FromInt64(shape, values)
}

// ParseDataType parses a dtype name such as "bfloat16".
func ParseDataType(s string) (DataType, bool) {
	return tensor.ParseDataType(s)
}
