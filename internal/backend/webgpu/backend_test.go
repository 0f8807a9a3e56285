//go:build windows

package webgpu

import (
	"context"
	"math"
	"testing"

	"github.com/born-ml/kernels/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New()
	if err != nil {
		t.Skipf("WebGPU not available: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

// cpuAdamW mirrors the shader on the host.
func cpuAdamW(h device.AdamWHyper, w, g, m, v, vmax []float32) {
	for i := range w {
		m[i] = h.Beta1*m[i] + h.OneMinusBeta1*g[i]
		v[i] = h.Beta2*v[i] + h.OneMinusBeta2*g[i]*g[i]
		vhat := v[i]
		if h.AMSGrad {
			if vmax[i] > vhat {
				vhat = vmax[i]
			}
			vmax[i] = vhat
		}
		w[i] = w[i]*h.StepWeightDecay - h.StepSize*m[i]/(sqrt32(vhat/h.BiasCorrection2)+h.Eps)
	}
}

func hyper(amsgrad bool) device.AdamWHyper {
	return device.AdamWHyper{
		Beta1: 0.9, Beta2: 0.999, OneMinusBeta1: 0.1, OneMinusBeta2: 0.001,
		BiasCorrection2: 0.001, StepSize: 0.01, StepWeightDecay: 0.9999, Eps: 1e-8,
		AMSGrad: amsgrad,
	}
}

func fill(n int, f func(i int) float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestFusedAdamWMatchesHost(t *testing.T) {
	b := newBackend(t)

	for _, amsgrad := range []bool{false, true} {
		n := 1000
		w := fill(n, func(i int) float32 { return float32(i%17) * 0.1 })
		g := fill(n, func(i int) float32 { return float32(i%7) - 3 })
		m := fill(n, func(i int) float32 { return float32(i%5) * 0.01 })
		v := fill(n, func(i int) float32 { return float32(i%3) * 0.001 })
		vmax := fill(n, func(i int) float32 { return float32(i%11) * 0.002 })

		ew, em, ev, evmax := clone(w), clone(m), clone(v), clone(vmax)
		cpuAdamW(hyper(amsgrad), ew, g, em, ev, evmax)

		var maxArg []float32
		if amsgrad {
			maxArg = vmax
		}
		require.NoError(t, b.FusedAdamW(context.Background(), hyper(amsgrad), w, g, m, v, maxArg))
		assert.InDeltaSlice(t, ew, w, 1e-5)
		assert.InDeltaSlice(t, em, m, 1e-6)
		assert.InDeltaSlice(t, ev, v, 1e-6)
		if amsgrad {
			assert.InDeltaSlice(t, evmax, vmax, 1e-6)
		}
	}
}

func TestFusedAdamWRejectsLengthMismatch(t *testing.T) {
	b := newBackend(t)
	err := b.FusedAdamW(context.Background(), hyper(false), make([]float32, 3), make([]float32, 2), make([]float32, 3), make([]float32, 3), nil)
	assert.Error(t, err)
	assert.NoError(t, b.FusedAdamW(context.Background(), hyper(false), nil, nil, nil, nil, nil))
}

func TestDispatchGrid(t *testing.T) {
	x, y := dispatchGrid(10)
	assert.Equal(t, []uint32{10, 1}, []uint32{x, y})
	x, y = dispatchGrid(maxWorkgroupsX + 1)
	assert.Equal(t, []uint32{maxWorkgroupsX, 2}, []uint32{x, y})
}

func clone(s []float32) []float32 { return append([]float32(nil), s...) }

func sqrt32(x float32) float32 { return float32(math.Sqrt(float64(x))) }
