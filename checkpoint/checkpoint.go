// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint saves and restores optimizer state.
//
// A checkpoint is a fixed header, a deterministic CBOR header naming every
// tensor, and a 64-byte aligned data section guarded by a SHA-256 checksum.
//
//	if err := checkpoint.Write(f, opt.State()); err != nil {
//	    return err
//	}
package checkpoint

import (
	"io"

	"github.com/born-ml/kernels/internal/checkpoint"
)

// State is the serializable state of an optimizer.
type State = checkpoint.State

// Errors returned by Read.
var (
	ErrChecksumMismatch   = checkpoint.ErrChecksumMismatch
	ErrInvalidMagic       = checkpoint.ErrInvalidMagic
	ErrUnsupportedVersion = checkpoint.ErrUnsupportedVersion
)

// Write serializes st to w.
func Write(w io.Writer, st State) error {
	return checkpoint.Write(w, st)
}

// Read parses a checkpoint written by Write.
func Read(r io.Reader) (State, error) {
	return checkpoint.Read(r)
}
