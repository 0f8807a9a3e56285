//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/born-ml/kernels/internal/device"
	"github.com/go-webgpu/webgpu/wgpu"
)

// adamwParamsSize is the size of the Params uniform in bytes.
const adamwParamsSize = 48

// adamwParams packs the uniform block of adamwShader.
func adamwParams(h device.AdamWHyper, size, strideY uint32) []byte {
	buf := make([]byte, adamwParamsSize)
	for i, f := range []float32{
		h.Beta1, h.Beta2, h.OneMinusBeta1, h.OneMinusBeta2,
		h.BiasCorrection2, h.StepSize, h.StepWeightDecay, h.Eps,
	} {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	var amsgrad uint32
	if h.AMSGrad {
		amsgrad = 1
	}
	binary.LittleEndian.PutUint32(buf[32:], size)
	binary.LittleEndian.PutUint32(buf[36:], amsgrad)
	binary.LittleEndian.PutUint32(buf[40:], strideY)
	return buf
}

// getOrCreatePipeline returns a cached compute pipeline, compiling the shader
// on first use. Callers hold b.mu.
func (b *Backend) getOrCreatePipeline(name, code string) (*wgpu.ComputePipeline, error) {
	if p, ok := b.pipelines[name]; ok {
		return p, nil
	}
	shader := b.device.CreateShaderModuleWGSL(code)
	if shader == nil {
		return nil, fmt.Errorf("webgpu: compile shader %s", name)
	}
	b.shaders[name] = shader

	p := b.device.CreateComputePipelineSimple(nil, shader, "main")
	if p == nil {
		return nil, fmt.Errorf("webgpu: create pipeline %s", name)
	}
	b.pipelines[name] = p
	return p, nil
}

// createBuffer allocates a GPU buffer initialized with data.
func (b *Backend) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	ptr := buffer.GetMappedRange(0, size)
	copy(unsafe.Slice((*byte)(ptr), size), data)
	buffer.Unmap()
	return buffer
}

func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	return b.createBuffer(data, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
}

// readInto copies a storage buffer back to the host.
func (b *Backend) readInto(src *wgpu.Buffer, dst []float32) error {
	size := uint64(len(dst)) * 4 //nolint:gosec // slice length.
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	b.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	defer staging.Unmap()

	ptr := staging.GetMappedRange(0, size)
	bytesToFloat32(unsafe.Slice((*byte)(ptr), size), dst)
	return nil
}

func float32ToBytes(data []float32) []byte {
	out := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32(data []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
}
