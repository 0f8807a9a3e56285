package optim

import (
	"math/rand/v2"
	"testing"

	"github.com/born-ml/kernels/internal/device"
	"github.com/born-ml/kernels/internal/parallel"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// newDev returns a parallel context limited to the given vector width.
func newDev(t *testing.T, width int) *device.Context {
	t.Helper()
	cfg := device.DefaultConfig()
	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 4}
	cfg.MaxVectorWidth = width
	cfg.Registerer = prometheus.NewRegistry()
	return device.New(cfg)
}

func from(t *testing.T, dt tensor.DataType, vals ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromFloat32(dt, tensor.Shape{len(vals)}, vals)
	require.NoError(t, err)
	return r
}

func randVals(rng *rand.Rand, n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = (rng.Float32()*2 - 1) * scale
	}
	return out
}

func positiveVals(rng *rand.Rand, n int, scale float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32() * scale
	}
	return out
}

// padded returns a view of vals starting at element offset 1 of a larger
// buffer, which forces scalar execution.
func padded(t *testing.T, dt tensor.DataType, vals []float32) *tensor.RawTensor {
	t.Helper()
	base := from(t, dt, append([]float32{42}, append(vals, 42)...)...)
	view, err := base.Narrow(1, len(vals))
	require.NoError(t, err)
	return view
}

func snapshot(ts ...*tensor.RawTensor) [][]byte {
	out := make([][]byte, len(ts))
	for i, t := range ts {
		if t != nil {
			out[i] = append([]byte(nil), t.Data()...)
		}
	}
	return out
}
