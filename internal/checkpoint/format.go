// Package checkpoint stores optimizer state in the .bkcp format.
//
// Layout:
//
//	0x00  magic "BKCP"
//	0x04  format version (uint32 LE)
//	0x08  flags (uint32 LE)
//	0x0C  header size (uint64 LE)
//	0x14  SHA-256 of the data section (32 bytes)
//	0x34  CBOR header
//	....  zero padding to a 64-byte boundary
//	....  data section: tensor payloads, little endian, in header order
package checkpoint

import (
	"github.com/born-ml/kernels/internal/tensor"
)

// Format constants.
const (
	MagicBytes      = "BKCP"
	FormatVersion   = 1
	HeaderAlignment = 64 // Data section starts on a 64-byte boundary
	ChecksumSize    = 32
	FixedHeaderSize = 4 + 4 + 4 + 8 + ChecksumSize
)

// Flags describing optional contents.
const (
	FlagHasSteps uint32 = 1 << 0 // per-parameter step counts present
)

// State is the optimizer state a checkpoint holds.
type State struct {
	Optimizer string
	Step      int64
	Hyper     map[string]float64
	Steps     map[string]int64 // optional per-parameter step counts
	Tensors   map[string]*tensor.RawTensor
}

// Header is the CBOR header of a checkpoint file.
type Header struct {
	Optimizer string             `cbor:"optimizer"`
	Step      int64              `cbor:"step"`
	CreatedAt int64              `cbor:"created_at"` // unix seconds
	Hyper     map[string]float64 `cbor:"hyper"`
	Steps     map[string]int64   `cbor:"steps,omitempty"`
	Tensors   []TensorMeta       `cbor:"tensors"`
}

// TensorMeta describes a tensor in the data section.
type TensorMeta struct {
	Name   string `cbor:"name"`
	DType  string `cbor:"dtype"`
	Shape  []int  `cbor:"shape"`
	Offset int64  `cbor:"offset"` // bytes from the start of the data section
	Size   int64  `cbor:"size"`   // bytes
}

func padding(pos int64) int64 {
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}
