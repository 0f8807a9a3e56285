// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package embedding computes embedding-table gradients deterministically.
//
// Rows of the output gradient are reduced in a fixed order that depends only
// on the sorted indices, so results are bit-identical across runs and worker
// counts.
//
//	grad, err := embedding.DenseBackward(ctx, dev, embedding.DenseArgs{
//	    Grad:       outGrad,   // [..., features]
//	    Indices:    indices,   // int64, same leading shape
//	    NumWeights: vocabSize,
//	    PaddingIdx: -1,
//	})
package embedding

import (
	"context"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/embedding"
	"github.com/born-ml/kernels/internal/tensor"
)

// Errors returned by precondition checks; test with errors.Is.
var (
	ErrInvalidArgument = embedding.ErrInvalidArgument
	ErrShapeMismatch   = embedding.ErrShapeMismatch
	ErrDTypeMismatch   = embedding.ErrDTypeMismatch
)

// BackwardArgs are the operands of the segmented reduction.
type BackwardArgs = embedding.BackwardArgs

// DenseArgs are the operands of the plain embedding backward.
type DenseArgs = embedding.DenseArgs

// BagArgs are the operands of the embedding-bag backward.
type BagArgs = embedding.BagArgs

// BagMode selects how an embedding bag combines its rows.
type BagMode = embedding.BagMode

// Embedding bag modes.
const (
	BagSum  = embedding.BagSum
	BagMean = embedding.BagMean
)

// BackwardDeterministic reduces pre-sorted gradient rows into a
// [NumWeights, features] weight gradient.
func BackwardDeterministic(ctx context.Context, dev *device.Context, a BackwardArgs) (*tensor.RawTensor, error) {
	return embedding.BackwardDeterministic(ctx, dev, a)
}

// DenseBackward sorts indices and computes the weight gradient of a plain
// embedding lookup.
func DenseBackward(ctx context.Context, dev *device.Context, a DenseArgs) (*tensor.RawTensor, error) {
	return embedding.DenseBackward(ctx, dev, a)
}

// BagBackward computes the weight gradient of an embedding-bag lookup.
func BagBackward(ctx context.Context, dev *device.Context, a BagArgs) (*tensor.RawTensor, error) {
	return embedding.BagBackward(ctx, dev, a)
}

// SortIndices stably sorts indices and returns them with their original
// positions.
func SortIndices(ctx context.Context, dev *device.Context, indices *tensor.RawTensor) (sorted, orig *tensor.RawTensor, err error) {
	return embedding.SortIndices(ctx, dev, indices)
}

// ComputeCount returns, for each sorted position, how many times its index
// occurs.
func ComputeCount(ctx context.Context, dev *device.Context, sorted *tensor.RawTensor) (*tensor.RawTensor, error) {
	return embedding.ComputeCount(ctx, dev, sorted)
}
