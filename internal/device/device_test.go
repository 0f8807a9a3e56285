package device

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/born-ml/kernels/internal/parallel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) (*Context, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}
	cfg.Registerer = reg
	return New(cfg), reg
}

func TestNewDefaults(t *testing.T) {
	c := New(DefaultConfig())
	assert.Equal(t, DefaultSubGroupSize, c.SubGroupSize())
	assert.GreaterOrEqual(t, c.MaxVectorWidth(), 1)
	assert.LessOrEqual(t, c.MaxVectorWidth(), 8)
	assert.Nil(t, c.Accelerator())
}

func TestMaxVectorWidthOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVectorWidth = 1
	assert.Equal(t, 1, New(cfg).MaxVectorWidth())

	cfg.MaxVectorWidth = 64
	assert.Equal(t, 8, New(cfg).MaxVectorWidth())
}

func TestLaunchCoversIndexSpace(t *testing.T) {
	c, reg := newTestContext(t)
	hits := make([]int32, 500)
	err := c.Launch(context.Background(), "test", len(hits), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})
	require.NoError(t, err)
	for i, h := range hits {
		require.Equal(t, int32(1), h, "index %d", i)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().Launches.WithLabelValues("test")))
	assert.Equal(t, 500.0, testutil.ToFloat64(c.Metrics().Elements.WithLabelValues("test")))
	n, err := testutil.GatherAndCount(reg, "born_kernels_launches_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLaunchRecoversPanic(t *testing.T) {
	c, _ := newTestContext(t)
	err := c.Launch(context.Background(), "bad", 100, func(lo, _ int) {
		if lo == 0 {
			panic("index out of range")
		}
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, err.Error(), "index out of range")
}

func TestLaunchCanceled(t *testing.T) {
	c, _ := newTestContext(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := c.Launch(ctx, "canceled", 10, func(_, _ int) { called = true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLaunch2D(t *testing.T) {
	c, _ := newTestContext(t)
	grid := make([]int32, 7*5)
	require.NoError(t, c.Launch2D(context.Background(), "grid", 7, 5, func(r, col int) {
		atomic.AddInt32(&grid[r*5+col], 1)
	}))
	for _, h := range grid {
		assert.Equal(t, int32(1), h)
	}
}

func TestSyncScalarCounts(t *testing.T) {
	c, _ := newTestContext(t)
	got := c.SyncScalar("num_partial_segments", func() int64 { return 42 })
	assert.Equal(t, int64(42), got)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Metrics().HostSyncs.WithLabelValues("num_partial_segments")))
}

func TestPoolReuse(t *testing.T) {
	c, _ := newTestContext(t)
	p := c.Pool()

	a := Scratch[int64](p, 100)
	require.Len(t, a, 100)
	a[0] = 7
	Recycle(p, a)

	b := Scratch[float32](p, 150)
	require.Len(t, b, 150)
	assert.Equal(t, float32(0), b[0], "scratch must be zeroed")
	Recycle(p, b)

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, 1, st.Pooled)
	assert.Contains(t, st.String(), "hits=1")

	assert.Nil(t, Scratch[float64](p, 0))
	p.Clear()
	assert.Equal(t, 0, p.Stats().Pooled)
}
