package tensor

import (
	"testing"
)

func TestRawTensorAsInt64(t *testing.T) {
	raw, _ := NewRaw(Shape{3, 2}, Int64, CPU)
	data := raw.AsInt64()

	if len(data) != 6 {
		t.Errorf("AsInt64 length = %d, want 6", len(data))
	}

	// Modify and verify zero-copy
	data[0] = 42
	if raw.AsInt64()[0] != 42 {
		t.Error("AsInt64 should return zero-copy slice")
	}
}

func TestRawTensorZeroLength(t *testing.T) {
	raw, err := NewRaw(Shape{0, 4}, Float32, CPU)
	if err != nil {
		t.Fatalf("NewRaw with zero dim: %v", err)
	}
	if raw.NumElements() != 0 {
		t.Errorf("NumElements = %d, want 0", raw.NumElements())
	}
	if got := raw.AsFloat32(); len(got) != 0 {
		t.Errorf("AsFloat32 length = %d, want 0", len(got))
	}
	if _, err := NewRaw(Shape{-1}, Float32, CPU); err == nil {
		t.Error("negative dimension should be rejected")
	}
}

func TestRawTensorNarrow(t *testing.T) {
	raw, _ := FromFloat32(Float32, Shape{2, 3}, []float32{0, 1, 2, 3, 4, 5})
	view, err := raw.Narrow(1, 4)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	if view.Offset() != 1 {
		t.Errorf("Offset = %d, want 1", view.Offset())
	}
	if !view.Shape().Equal(Shape{4}) {
		t.Errorf("Shape = %v, want [4]", view.Shape())
	}
	got := view.AsFloat32()
	if got[0] != 1 || got[3] != 4 {
		t.Errorf("view data = %v, want [1 2 3 4]", got)
	}

	// Views alias the parent buffer.
	got[0] = 10
	if raw.AsFloat32()[1] != 10 {
		t.Error("Narrow should return a view sharing the buffer")
	}
	if !view.SharesBuffer(raw) {
		t.Error("SharesBuffer should be true for a view")
	}

	if _, err := raw.Narrow(4, 3); err == nil {
		t.Error("out of range Narrow should fail")
	}
}

func TestRawTensorReshape(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 3}, Float32, CPU)
	flat, err := raw.Reshape(Shape{6})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	flat.AsFloat32()[5] = 7
	if raw.AsFloat32()[5] != 7 {
		t.Error("Reshape should return a view")
	}
	if _, err := raw.Reshape(Shape{4}); err == nil {
		t.Error("Reshape to a different size should fail")
	}
}

func TestRawTensorCopy(t *testing.T) {
	raw, _ := FromFloat32(Float32, Shape{3}, []float32{1, 2, 3})
	cp := raw.Copy()
	cp.AsFloat32()[0] = 9
	if raw.AsFloat32()[0] != 1 {
		t.Error("Copy should not alias the source")
	}
}

func TestRawTensorRelease(t *testing.T) {
	raw, _ := NewRaw(Shape{2, 2}, Float32, CPU)
	if !raw.IsUnique() {
		t.Error("New RawTensor should be unique initially")
	}

	clone := raw.Clone()
	if raw.IsUnique() {
		t.Error("After Clone(), IsUnique() should return false")
	}
	clone.Release()
	if !raw.IsUnique() {
		t.Error("After releasing the clone, IsUnique() should return true")
	}
}

func TestShapeRowMajor(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		strides []int
		want    bool
	}{
		{"dense", Shape{2, 3}, []int{3, 1}, true},
		{"transposed", Shape{2, 3}, []int{1, 2}, false},
		{"unit dim any stride", Shape{1, 3}, []int{99, 1}, true},
		{"rank mismatch", Shape{2, 3}, []int{1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.shape.RowMajor(tt.strides); got != tt.want {
				t.Errorf("RowMajor(%v) = %v, want %v", tt.strides, got, tt.want)
			}
		})
	}
}
