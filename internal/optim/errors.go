package optim

import (
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/pkg/errors"
)

// Errors returned by precondition checks. They are always wrapped with the
// name of the offending tensor or argument; test with errors.Is.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrDTypeMismatch   = errors.New("dtype mismatch")
)

func invalidf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// checkRange rejects v outside [lo, hi] (or [lo, hi) when openHi).
func checkRange(op, name string, v, lo, hi float64, openHi bool) error {
	if v < lo || v > hi || (openHi && v == hi) || v != v {
		closing := "]"
		if openHi {
			closing = ")"
		}
		return invalidf("%s: %s: expected value in [%g, %g%s, got %g", op, name, lo, hi, closing, v)
	}
	return nil
}

func checkNonNegative(op, name string, v float64) error {
	if v < 0 || v != v {
		return invalidf("%s: %s: expected value >= 0, got %g", op, name, v)
	}
	return nil
}

// named pairs a tensor with the argument name used in error messages.
type named struct {
	name string
	t    *tensor.RawTensor
}

// checkSameShape requires every tensor to be present, contiguous and shaped
// like the first one.
func checkSameShape(op string, ts ...named) error {
	ref := ts[0]
	for _, nt := range ts {
		if nt.t == nil {
			return invalidf("%s: %s: expected a tensor, got nil", op, nt.name)
		}
		if !nt.t.IsContiguous() {
			return invalidf("%s: %s: expected a contiguous tensor, got strides %v for shape %v",
				op, nt.name, nt.t.Strides(), nt.t.Shape())
		}
		if !nt.t.Shape().Equal(ref.t.Shape()) {
			return errors.Wrapf(ErrShapeMismatch, "%s: expect %s and %s have the same sizes, %s shape %v, %s shape %v",
				op, ref.name, nt.name, ref.name, ref.t.Shape(), nt.name, nt.t.Shape())
		}
	}
	return nil
}

func checkDType(op string, nt named, want ...tensor.DataType) error {
	for _, dt := range want {
		if nt.t.DType() == dt {
			return nil
		}
	}
	return errors.Wrapf(ErrDTypeMismatch, "%s: %s: expected dtype in %v, got %s", op, nt.name, want, nt.t.DType())
}

// checkWeights validates the param/param2/grad dtype combination shared by
// the fused optimizers. In master-weight mode param is float16 or bfloat16
// and param2 holds the float32 weights; otherwise param is float32.
func checkWeights(op string, param, param2, grad *tensor.RawTensor) error {
	if param2 == nil {
		if err := checkDType(op, named{"param", param}, tensor.Float32); err != nil {
			return err
		}
		return checkDType(op, named{"grad", grad}, tensor.Float32)
	}
	if err := checkDType(op, named{"param", param}, tensor.Float16, tensor.BFloat16); err != nil {
		return err
	}
	if err := checkDType(op, named{"param2", param2}, tensor.Float32); err != nil {
		return err
	}
	return checkDType(op, named{"grad", grad}, param.DType(), tensor.Float32)
}
