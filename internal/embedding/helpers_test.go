package embedding

import (
	"testing"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/parallel"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newDev(t *testing.T) *device.Context {
	t.Helper()
	cfg := device.DefaultConfig()
	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 2}
	cfg.Registerer = prometheus.NewRegistry()
	return device.New(cfg)
}

func sequentialDev(t *testing.T) *device.Context {
	t.Helper()
	cfg := device.DefaultConfig()
	cfg.Parallel = parallel.Sequential()
	cfg.Registerer = prometheus.NewRegistry()
	return device.New(cfg)
}

func ints(t *testing.T, vals ...int64) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromInt64(tensor.Shape{len(vals)}, vals)
	require.NoError(t, err)
	return r
}

func floats2D(t *testing.T, dt tensor.DataType, rows, cols int, vals ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(dt, tensor.Shape{rows, cols}, vals)
	require.NoError(t, err)
	return r
}

func ones(t *testing.T, dt tensor.DataType, rows, cols int) *tensor.RawTensor {
	vals := make([]float32, rows*cols)
	for i := range vals {
		vals[i] = 1
	}
	return floats2D(t, dt, rows, cols, vals...)
}

func iota(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i)
	}
	return out
}
