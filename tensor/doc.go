// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the raw tensor type the fused kernels operate on.
//
// A RawTensor is a typed, strided view over a reference-counted byte buffer.
// Kernels accept contiguous views only; Narrow produces a contiguous view at
// an element offset, which is how parameter groups are usually sliced out of a
// flat buffer.
//
// # Supported Data Types
//
//   - Float32, Float64
//   - Float16 (IEEE half), BFloat16
//   - Int64 for index tensors
//
// # Basic Usage
//
//	w, _ := tensor.FromFloat32(tensor.BFloat16, tensor.Shape{4}, []float32{1, 2, 3, 4})
//	idx, _ := tensor.FromInt64(tensor.Shape{3}, []int64{2, 0, 2})
//	fmt.Println(w.ToFloat32(), idx.AsInt64())
package tensor
