package embedding

import (
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
)

// Errors returned by precondition checks, always wrapped with the name of the
// offending argument.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrDTypeMismatch   = errors.New("dtype mismatch")
)

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// checkIndex requires a contiguous 1-D int64 tensor.
func checkIndex(op, name string, t *tensor.RawTensor) error {
	if t == nil {
		return invalidf("%s: %s: expected a tensor, got nil", op, name)
	}
	if t.DType() != tensor.Int64 {
		return errors.Wrapf(ErrDTypeMismatch, "%s: %s: expected dtype int64, got %s", op, name, t.DType())
	}
	if len(t.Shape()) != 1 {
		return errors.Wrapf(ErrShapeMismatch, "%s: %s: expected a 1-D tensor, got shape %v", op, name, t.Shape())
	}
	if !t.IsContiguous() {
		return invalidf("%s: %s: expected a contiguous tensor", op, name)
	}
	return nil
}

func checkLen(op, name string, t *tensor.RawTensor, want int, wantName string) error {
	if n := t.NumElements(); n != want {
		return errors.Wrapf(ErrShapeMismatch, "%s: expect %s to have %d elements like %s, got %d",
			op, name, want, wantName, n)
	}
	return nil
}

// checkRange requires every value of vals to lie in [0, hi).
func checkRange(op, name string, vals []int64, hi int64) error {
	for i, v := range vals {
		if v < 0 || v >= hi {
			return invalidf("%s: %s[%d]: expected value in [0, %d), got %d", op, name, i, hi, v)
		}
	}
	return nil
}
