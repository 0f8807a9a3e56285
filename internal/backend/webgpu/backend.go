//go:build windows

package webgpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/born-ml/kernels/internal/device"
	"github.com/go-webgpu/webgpu/wgpu"
)

// Backend runs fused optimizer steps on a WebGPU device.
type Backend struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	mu        sync.Mutex
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
}

var _ device.Accelerator = (*Backend)(nil)

// New creates a WebGPU backend on the high-performance adapter.
func New() (b *Backend, err error) {
	defer func() {
		if r := recover(); r != nil {
			b = nil
			err = fmt.Errorf("%w: native library not available: %v", ErrNotAvailable, r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	if instance == nil {
		return nil, fmt.Errorf("%w: create instance", ErrNotAvailable)
	}

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("%w: request adapter: %v", ErrNotAvailable, err)
	}

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("%w: request device: %v", ErrNotAvailable, err)
	}

	return &Backend{
		instance:  instance,
		adapter:   adapter,
		device:    dev,
		queue:     dev.GetQueue(),
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
	}, nil
}

// Name returns the accelerator name.
func (b *Backend) Name() string { return "webgpu" }

// Release frees all GPU resources held by the backend.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pipelines {
		p.Release()
	}
	for _, s := range b.shaders {
		s.Release()
	}
	b.pipelines = nil
	b.shaders = nil

	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

// FusedAdamW applies one AdamW step to the slices in place.
// maxExpAvgSq is only read when h.AMSGrad is set.
func (b *Backend) FusedAdamW(ctx context.Context, h device.AdamWHyper, param, grad, expAvg, expAvgSq, maxExpAvgSq []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := len(param)
	if len(grad) != n || len(expAvg) != n || len(expAvgSq) != n || (h.AMSGrad && len(maxExpAvgSq) != n) {
		return fmt.Errorf("webgpu: adamw buffer lengths differ from param length %d", n)
	}
	if n == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	pipeline, err := b.getOrCreatePipeline("adamw", adamwShader)
	if err != nil {
		return err
	}

	size := uint64(n) * 4 //nolint:gosec // n is a slice length.
	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

	bufParam := b.createBuffer(float32ToBytes(param), usage)
	defer bufParam.Release()
	bufGrad := b.createBuffer(float32ToBytes(grad), wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	defer bufGrad.Release()
	bufExpAvg := b.createBuffer(float32ToBytes(expAvg), usage)
	defer bufExpAvg.Release()
	bufExpAvgSq := b.createBuffer(float32ToBytes(expAvgSq), usage)
	defer bufExpAvgSq.Release()

	maxData := []float32{0}
	if h.AMSGrad {
		maxData = maxExpAvgSq
	}
	bufMax := b.createBuffer(float32ToBytes(maxData), usage)
	defer bufMax.Release()
	maxSize := uint64(len(maxData)) * 4 //nolint:gosec // slice length.

	groups := uint32((n + workgroupSize - 1) / workgroupSize) //nolint:gosec // bounded by slice length.
	x, y := dispatchGrid(groups)

	bufParams := b.createUniformBuffer(adamwParams(h, uint32(n), x*workgroupSize)) //nolint:gosec // slice length.
	defer bufParams.Release()

	layout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(layout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufParam, 0, size),
		wgpu.BufferBindingEntry(1, bufGrad, 0, size),
		wgpu.BufferBindingEntry(2, bufExpAvg, 0, size),
		wgpu.BufferBindingEntry(3, bufExpAvgSq, 0, size),
		wgpu.BufferBindingEntry(4, bufMax, 0, maxSize),
		wgpu.BufferBindingEntry(5, bufParams, 0, adamwParamsSize),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()
	b.queue.Submit(encoder.Finish(nil))

	if err := b.readInto(bufParam, param); err != nil {
		return err
	}
	if err := b.readInto(bufExpAvg, expAvg); err != nil {
		return err
	}
	if err := b.readInto(bufExpAvgSq, expAvgSq); err != nil {
		return err
	}
	if h.AMSGrad {
		return b.readInto(bufMax, maxExpAvgSq)
	}
	return nil
}

// dispatchGrid splits a workgroup count into x and y dimensions.
func dispatchGrid(groups uint32) (x, y uint32) {
	if groups <= maxWorkgroupsX {
		return groups, 1
	}
	return maxWorkgroupsX, (groups + maxWorkgroupsX - 1) / maxWorkgroupsX
}
