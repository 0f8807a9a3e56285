package checkpoint

import (
	"bytes"
	"encoding/binary"
	"io"
	"slices"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Write serializes st to w. Tensors are stored in name order so equal states
// produce identical data sections.
func Write(w io.Writer, st State) error {
	names := make([]string, 0, len(st.Tensors))
	for name := range st.Tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := Header{
		Optimizer: st.Optimizer,
		Step:      st.Step,
		CreatedAt: time.Now().Unix(),
		Hyper:     st.Hyper,
		Steps:     st.Steps,
		Tensors:   make([]TensorMeta, 0, len(names)),
	}

	var data bytes.Buffer
	for _, name := range names {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		t := st.Tensors[name]
		if t == nil {
			return errors.Errorf("checkpoint: tensor %q is nil", name)
		}
		if !t.IsContiguous() {
			return errors.Errorf("checkpoint: tensor %q is not contiguous", name)
		}
		payload := t.Data()
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   name,
			DType:  t.DType().String(),
			Shape:  slices.Clone([]int(t.Shape())),
			Offset: int64(data.Len()),
			Size:   int64(len(payload)),
		})
		data.Write(payload)
	}

	headerBytes, err := encMode.Marshal(&header)
	if err != nil {
		return errors.Wrap(err, "checkpoint: encode header")
	}
	if len(headerBytes) > MaxHeaderSize {
		return errors.Wrapf(ErrHeaderTooLarge, "checkpoint: %d bytes", len(headerBytes))
	}

	var flags uint32
	if len(st.Steps) > 0 {
		flags |= FlagHasSteps
	}

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[12:20], uint64(len(headerBytes)))
	sum := ComputeChecksum(data.Bytes())
	copy(fixed[20:20+ChecksumSize], sum[:])

	pad := padding(int64(FixedHeaderSize + len(headerBytes)))
	for _, chunk := range [][]byte{fixed, headerBytes, make([]byte, pad), data.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrap(err, "checkpoint: write")
		}
	}
	return nil
}
