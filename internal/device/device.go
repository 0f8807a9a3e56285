// Package device provides the explicit execution context every kernel runs in.
//
// A Context bundles the launcher configuration, the chosen vector width, the
// scratch pool and the observability hooks (zerolog, OpenTelemetry,
// prometheus). There is no package-level default: callers create one with New
// and pass it to every kernel entry point.
package device

import (
	"context"
	"time"

	"github.com/born-ml/kernels/internal/parallel"
	"github.com/born-ml/kernels/internal/vec"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSubGroupSize is the number of work-items that cooperate on one
// reduction row, matching the sub-group size of the XPU kernels.
const DefaultSubGroupSize = 32

const tracerName = "github.com/born-ml/kernels"

// Config configures a Context.
type Config struct {
	Parallel       parallel.Config
	MaxVectorWidth int // 0 selects vec.HardwareWidth().
	SubGroupSize   int // 0 selects DefaultSubGroupSize.

	Logger         zerolog.Logger
	TracerProvider trace.TracerProvider  // nil selects otel.GetTracerProvider().
	Registerer     prometheus.Registerer // nil registers into a private registry.
	Accelerator    Accelerator           // optional offload target.
}

// DefaultConfig returns a config using all CPUs, the detected vector width and
// a disabled logger.
func DefaultConfig() Config {
	return Config{
		Parallel: parallel.DefaultConfig(),
		Logger:   zerolog.Nop(),
	}
}

// Context is the explicit device handle passed to every kernel.
type Context struct {
	parallel     parallel.Config
	width        int
	subGroupSize int

	logger      zerolog.Logger
	tracer      trace.Tracer
	metrics     *Metrics
	pool        *Pool
	accelerator Accelerator
}

// New creates a Context from cfg.
func New(cfg Config) *Context {
	width := cfg.MaxVectorWidth
	if width <= 0 {
		width = vec.HardwareWidth()
	}
	width = vec.Pick(width)

	sg := cfg.SubGroupSize
	if sg <= 0 {
		sg = DefaultSubGroupSize
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	c := &Context{
		parallel:     cfg.Parallel,
		width:        width,
		subGroupSize: sg,
		logger:       cfg.Logger,
		tracer:       tp.Tracer(tracerName),
		metrics:      metrics,
		pool:         NewPool(metrics),
		accelerator:  cfg.Accelerator,
	}
	c.logger.Debug().
		Int("max_vector_width", width).
		Str("simd", vec.Detect().String()).
		Int("workers", cfg.Parallel.NumWorkers).
		Bool("parallel", cfg.Parallel.Enabled).
		Msg("device context created")
	return c
}

// Parallel returns the launcher configuration.
func (c *Context) Parallel() parallel.Config { return c.parallel }

// MaxVectorWidth returns the widest group kernels may use on this context.
func (c *Context) MaxVectorWidth() int { return c.width }

// SubGroupSize returns the reduction sub-group size.
func (c *Context) SubGroupSize() int { return c.subGroupSize }

// Logger returns the context logger.
func (c *Context) Logger() *zerolog.Logger { return &c.logger }

// Metrics returns the context collectors.
func (c *Context) Metrics() *Metrics { return c.metrics }

// Pool returns the scratch pool for kernel intermediates.
func (c *Context) Pool() *Pool { return c.pool }

// Accelerator returns the offload target, or nil.
func (c *Context) Accelerator() Accelerator { return c.accelerator }

// Start opens a span for a kernel entry point.
func (c *Context) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Launch runs fn over disjoint chunks of the index space [0, n).
// Work-items must not depend on each other. A panic inside a work-item is
// returned as an error after every chunk has finished.
func (c *Context) Launch(ctx context.Context, kernel string, n int, fn func(lo, hi int)) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("device: kernel %s failed: %v", kernel, r)
		}
		c.metrics.Launches.WithLabelValues(kernel).Inc()
		c.metrics.Elements.WithLabelValues(kernel).Add(float64(n))
		c.metrics.LaunchSeconds.WithLabelValues(kernel).Observe(time.Since(start).Seconds())
	}()
	parallel.ForRange(n, fn, c.parallel)
	return nil
}

// Launch2D runs fn once per (row, col) pair of a rows x cols grid.
func (c *Context) Launch2D(ctx context.Context, kernel string, rows, cols int, fn func(row, col int)) error {
	if cols == 0 {
		return nil
	}
	return c.Launch(ctx, kernel, rows*cols, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			fn(k/cols, k%cols)
		}
	})
}

// SyncScalar reads a single value produced by previous launches back to the
// host. Every call is a synchronization point and is counted per site.
func (c *Context) SyncScalar(site string, read func() int64) int64 {
	c.metrics.HostSyncs.WithLabelValues(site).Inc()
	return read()
}

// SyncFloat is SyncScalar for floating point values such as a learning rate
// held in a one-element device tensor.
func (c *Context) SyncFloat(site string, read func() float64) float64 {
	c.metrics.HostSyncs.WithLabelValues(site).Inc()
	return read()
}

// RecordWidth publishes the vector width chosen for a kernel launch.
func (c *Context) RecordWidth(kernel string, width int) {
	c.metrics.VectorWidth.WithLabelValues(kernel).Set(float64(width))
}
