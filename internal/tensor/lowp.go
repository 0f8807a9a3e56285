package tensor

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Accum is the set of accumulation types kernels compute in.
type Accum interface {
	float32 | float64
}

// Codec converts between a storage type T and its accumulation type A.
// Implementations are zero-size so generic kernels can call them on a zero value.
type Codec[T Float, A Accum] interface {
	Widen(v T) A
	Narrow(v A) T
}

// F32 is the identity codec for float32 storage.
type F32 struct{}

func (F32) Widen(v float32) float32  { return v }
func (F32) Narrow(v float32) float32 { return v }

// F64 is the identity codec for float64 storage.
type F64 struct{}

func (F64) Widen(v float64) float64  { return v }
func (F64) Narrow(v float64) float64 { return v }

// F16 widens IEEE half precision to float32 and rounds back to nearest even.
type F16 struct{}

func (F16) Widen(v float16.Float16) float32  { return v.Float32() }
func (F16) Narrow(v float32) float16.Float16 { return float16.Fromfloat32(v) }

// BF16 widens bfloat16 to float32 and rounds back.
type BF16 struct{}

func (BF16) Widen(v bfloat16.BFloat16) float32  { return v.Float32() }
func (BF16) Narrow(v float32) bfloat16.BFloat16 { return bfloat16.FromFloat32(v) }

// RoundFloat32 rounds v to the precision of dtype and widens it back.
// Float32 values are returned unchanged.
func RoundFloat32(dtype DataType, v float32) float32 {
	switch dtype {
	case Float16:
		return float16.Fromfloat32(v).Float32()
	case BFloat16:
		return bfloat16.FromFloat32(v).Float32()
	default:
		return v
	}
}

// FromFloat32 creates a CPU tensor of the given dtype from float32 values,
// rounding to the target precision when dtype is narrower.
func FromFloat32(dtype DataType, shape Shape, values []float32) (*RawTensor, error) {
	r, err := NewRaw(shape, dtype, CPU)
	if err != nil {
		return nil, err
	}
	if len(values) != r.NumElements() {
		return nil, fmt.Errorf("from float32: %d values for shape %v", len(values), shape)
	}
	switch dtype {
	case Float32:
		copy(r.AsFloat32(), values)
	case Float64:
		dst := r.AsFloat64()
		for i, v := range values {
			dst[i] = float64(v)
		}
	case Float16:
		dst := r.AsFloat16()
		for i, v := range values {
			dst[i] = float16.Fromfloat32(v)
		}
	case BFloat16:
		dst := r.AsBFloat16()
		for i, v := range values {
			dst[i] = bfloat16.FromFloat32(v)
		}
	default:
		return nil, fmt.Errorf("from float32: unsupported dtype %s", dtype)
	}
	return r, nil
}

// FromInt64 creates an int64 CPU tensor from values.
func FromInt64(shape Shape, values []int64) (*RawTensor, error) {
	r, err := NewRaw(shape, Int64, CPU)
	if err != nil {
		return nil, err
	}
	if len(values) != r.NumElements() {
		return nil, fmt.Errorf("from int64: %d values for shape %v", len(values), shape)
	}
	copy(r.AsInt64(), values)
	return r, nil
}

// ToFloat32 returns a widened float32 copy of a floating point tensor.
func (r *RawTensor) ToFloat32() []float32 {
	out := make([]float32, r.NumElements())
	switch r.dtype {
	case Float32:
		copy(out, r.AsFloat32())
	case Float64:
		for i, v := range r.AsFloat64() {
			out[i] = float32(v)
		}
	case Float16:
		for i, v := range r.AsFloat16() {
			out[i] = v.Float32()
		}
	case BFloat16:
		for i, v := range r.AsBFloat16() {
			out[i] = v.Float32()
		}
	default:
		panic(fmt.Sprintf("tensor dtype is %s, not a float type", r.dtype))
	}
	return out
}
