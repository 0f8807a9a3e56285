package tensor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Device represents the compute device for tensor operations.
type Device int

// Supported compute devices.
const (
	CPU Device = iota
	CUDA
	Vulkan
	Metal
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// tensorBuffer is a reference-counted byte buffer shared by a tensor and its views.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex
}

func newTensorBuffer(size int) *tensorBuffer {
	// Backed by uint64 words so every view starts 8-byte aligned.
	words := make([]uint64, (size+7)/8)
	buf := &tensorBuffer{}
	if size > 0 {
		//nolint:gosec // reinterpretation of a freshly allocated word slice
		buf.data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	}
	buf.refCount.Store(1)
	return buf
}

func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

func (tb *tensorBuffer) isUnique() bool {
	return tb.refCount.Load() == 1
}

// RawTensor is the low-level tensor representation.
//
// offset is measured in elements, not bytes, so a view created by Narrow
// reports where it starts inside the shared buffer. Vector width planning
// relies on that to decide whether wide loads stay aligned.
type RawTensor struct {
	buffer *tensorBuffer
	shape  Shape
	stride []int
	dtype  DataType
	device Device
	offset int
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		buffer: newTensorBuffer(shape.NumElements() * dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// Zeros returns a zero-filled CPU tensor. It panics on a negative dimension.
func Zeros(dtype DataType, dims ...int) *RawTensor {
	r, err := NewRaw(Shape(dims), dtype, CPU)
	if err != nil {
		panic(err)
	}
	return r
}

// ZerosLike returns a zero-filled tensor with the shape, dtype and device of r.
func ZerosLike(r *RawTensor) *RawTensor {
	out, err := NewRaw(r.shape, r.dtype, r.device)
	if err != nil {
		panic(err)
	}
	return out
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides in elements.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's compute device.
func (r *RawTensor) Device() Device {
	return r.device
}

// Offset returns the element offset of this view inside its buffer.
func (r *RawTensor) Offset() int {
	return r.offset
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the elements are laid out densely in row-major order.
func (r *RawTensor) IsContiguous() bool {
	return r.shape.RowMajor(r.stride)
}

// Data returns the bytes backing this view.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	size := r.dtype.Size()
	return r.buffer.data[r.offset*size : (r.offset+r.NumElements())*size]
}

// Narrow returns a 1-D view of length elements starting at element start of
// the flattened tensor. The view shares the buffer.
func (r *RawTensor) Narrow(start, length int) (*RawTensor, error) {
	if !r.IsContiguous() {
		return nil, fmt.Errorf("narrow: tensor with shape %v and strides %v is not contiguous", r.shape, r.stride)
	}
	if start < 0 || length < 0 || start+length > r.NumElements() {
		return nil, fmt.Errorf("narrow: range [%d, %d) out of bounds for %d elements", start, start+length, r.NumElements())
	}
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  Shape{length},
		stride: []int{1},
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset + start,
	}, nil
}

// Reshape returns a view of a contiguous tensor with a new shape of the same size.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("reshape: cannot view %v as %v", r.shape, shape)
	}
	if !r.IsContiguous() {
		return nil, fmt.Errorf("reshape: tensor with shape %v is not contiguous", r.shape)
	}
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}, nil
}

func view[T any](r *RawTensor, want DataType) []T {
	if r.dtype != want {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, want))
	}
	n := r.NumElements()
	if n == 0 {
		return nil
	}
	data := r.Data()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by Data()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 { return view[float32](r, Float32) }

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 { return view[float64](r, Float64) }

// AsInt32 interprets the data as []int32.
// Panics if the tensor's dtype is not Int32.
func (r *RawTensor) AsInt32() []int32 { return view[int32](r, Int32) }

// AsInt64 interprets the data as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 { return view[int64](r, Int64) }

// AsFloat16 interprets the data as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (r *RawTensor) AsFloat16() []float16.Float16 { return view[float16.Float16](r, Float16) }

// AsBFloat16 interprets the data as []bfloat16.BFloat16.
// Panics if the tensor's dtype is not BFloat16.
func (r *RawTensor) AsBFloat16() []bfloat16.BFloat16 { return view[bfloat16.BFloat16](r, BFloat16) }

// Elements returns the data of r typed as T.
// Panics if T does not match the tensor's dtype.
func Elements[T Float](r *RawTensor) []T {
	return view[T](r, DataTypeOf[T]())
}

// Clone creates a shallow copy of the RawTensor sharing the same buffer.
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// Copy returns a deep, contiguous copy of a contiguous tensor.
func (r *RawTensor) Copy() *RawTensor {
	out := ZerosLike(r)
	copy(out.Data(), r.Data())
	return out
}

// Release decrements the reference count and deallocates if it reaches 0.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// IsUnique returns true if this tensor is the only reference to the buffer.
func (r *RawTensor) IsUnique() bool {
	return r.buffer.isUnique()
}

// SharesBuffer reports whether r and other are views of the same buffer.
func (r *RawTensor) SharesBuffer(other *RawTensor) bool {
	return other != nil && r.buffer == other.buffer
}

// String returns a short description such as "float32[2 3]@CPU".
func (r *RawTensor) String() string {
	return fmt.Sprintf("%s%v@%s", r.dtype, r.shape, r.device)
}
