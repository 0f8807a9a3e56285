package checkpoint

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/born-ml/kernels/internal/tensor"
)

// ReadHeader reads the fixed header and CBOR header from r, leaving r
// positioned at the start of the data section.
func ReadHeader(r io.Reader) (*Header, [ChecksumSize]byte, error) {
	var sum [ChecksumSize]byte

	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, sum, errors.Wrap(err, "checkpoint: read fixed header")
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, sum, errors.Wrapf(ErrInvalidMagic, "checkpoint: got %q", fixed[0:4])
	}
	if v := binary.LittleEndian.Uint32(fixed[4:8]); v != FormatVersion {
		return nil, sum, errors.Wrapf(ErrUnsupportedVersion, "checkpoint: version %d", v)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[12:20])
	if headerSize > MaxHeaderSize {
		return nil, sum, errors.Wrapf(ErrHeaderTooLarge, "checkpoint: %d bytes", headerSize)
	}
	copy(sum[:], fixed[20:20+ChecksumSize])

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, sum, errors.Wrap(err, "checkpoint: read header")
	}
	var h Header
	if err := cbor.Unmarshal(headerBytes, &h); err != nil {
		return nil, sum, errors.Wrap(err, "checkpoint: decode header")
	}

	pad := padding(int64(FixedHeaderSize) + int64(headerSize))
	if _, err := io.CopyN(io.Discard, r, pad); err != nil {
		return nil, sum, errors.Wrap(err, "checkpoint: read padding")
	}
	return &h, sum, nil
}

// Read parses a checkpoint written by Write and verifies its checksum.
func Read(r io.Reader) (State, error) {
	h, stored, err := ReadHeader(r)
	if err != nil {
		return State{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return State{}, errors.Wrap(err, "checkpoint: read data")
	}
	if err := ValidateChecksum(ComputeChecksum(data), stored); err != nil {
		return State{}, err
	}
	if err := ValidateHeader(h, int64(len(data))); err != nil {
		return State{}, err
	}

	st := State{
		Optimizer: h.Optimizer,
		Step:      h.Step,
		Hyper:     h.Hyper,
		Steps:     h.Steps,
		Tensors:   make(map[string]*tensor.RawTensor, len(h.Tensors)),
	}
	for _, meta := range h.Tensors {
		if _, dup := st.Tensors[meta.Name]; dup {
			return State{}, &ValidationError{Type: "duplicate_name", Tensor: meta.Name, Details: "appears twice"}
		}
		dt, ok := tensor.ParseDataType(meta.DType)
		if !ok {
			return State{}, errors.Wrapf(ErrUnsupportedDType, "checkpoint: tensor %q: %s", meta.Name, meta.DType)
		}
		t, err := tensor.NewRaw(tensor.Shape(meta.Shape), dt, tensor.CPU)
		if err != nil {
			return State{}, errors.Wrapf(err, "checkpoint: tensor %q", meta.Name)
		}
		copy(t.Data(), data[meta.Offset:meta.Offset+meta.Size])
		st.Tensors[meta.Name] = t
	}
	return st, nil
}
