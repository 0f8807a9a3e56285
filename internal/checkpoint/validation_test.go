package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32(name string, n int, offset int64) TensorMeta {
	return TensorMeta{Name: name, DType: "float32", Shape: []int{n}, Offset: offset, Size: int64(4 * n)}
}

func TestValidateTensorOffsets(t *testing.T) {
	tests := []struct {
		name     string
		tensors  []TensorMeta
		dataSize int64
		wantType string
	}{
		{
			name:     "adjacent",
			tensors:  []TensorMeta{f32("a", 25, 0), f32("b", 25, 100)},
			dataSize: 200,
		},
		{
			name:     "unsorted input",
			tensors:  []TensorMeta{f32("b", 25, 100), f32("a", 25, 0)},
			dataSize: 200,
		},
		{
			name:     "overlap by one byte",
			tensors:  []TensorMeta{f32("a", 25, 0), f32("b", 25, 99)},
			dataSize: 200,
			wantType: "offset_overlap",
		},
		{
			name:     "out of bounds",
			tensors:  []TensorMeta{f32("a", 25, 150)},
			dataSize: 200,
			wantType: "out_of_bounds",
		},
		{
			name:     "negative offset",
			tensors:  []TensorMeta{f32("a", 1, -4)},
			dataSize: 200,
			wantType: "negative_offset",
		},
		{
			name:     "size disagrees with shape",
			tensors:  []TensorMeta{{Name: "a", DType: "float16", Shape: []int{4}, Size: 16}},
			dataSize: 200,
			wantType: "size_mismatch",
		},
		{
			name:     "unknown dtype",
			tensors:  []TensorMeta{{Name: "a", DType: "complex64", Shape: []int{1}, Size: 8}},
			dataSize: 200,
			wantType: "invalid_dtype",
		},
		{
			name:     "negative dimension",
			tensors:  []TensorMeta{{Name: "a", DType: "float32", Shape: []int{-1}, Size: 0}},
			dataSize: 200,
			wantType: "invalid_shape",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTensorOffsets(tt.tensors, tt.dataSize)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantType, verr.Type)
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Type: "offset_overlap", Tensor: "a", Tensor2: "b", Details: "x"}
	assert.Equal(t, `offset_overlap: tensors "a" and "b": x`, err.Error())

	err = &ValidationError{Type: "too_many_tensors", Details: "y"}
	assert.Equal(t, "too_many_tensors: y", err.Error())
}
