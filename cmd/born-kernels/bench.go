package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/born-ml/kernels/device"
	"github.com/born-ml/kernels/embedding"
	"github.com/born-ml/kernels/optim"
	"github.com/born-ml/kernels/tensor"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type benchOptions struct {
	deviceOptions
	kernel   string
	dtype    string
	n        int
	features int
	vocab    int
	iters    int
	seed     uint64
	trace    bool
	metrics  string
}

func runBench(args []string) error {
	var o benchOptions
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.StringVar(&o.kernel, "kernel", "adamw", "Kernel to time (adamw, lars, embedding)")
	fs.StringVar(&o.dtype, "dtype", "float32", "Parameter or gradient dtype (float32, float64, float16, bfloat16)")
	fs.IntVar(&o.n, "n", 1<<20, "Number of elements (rows for embedding)")
	fs.IntVar(&o.features, "features", 64, "Embedding feature dimension")
	fs.IntVar(&o.vocab, "vocab", 32000, "Embedding table rows")
	fs.IntVar(&o.iters, "iters", 10, "Timed iterations")
	fs.Uint64Var(&o.seed, "seed", 1, "Random seed")
	fs.BoolVar(&o.trace, "trace", false, "Print OpenTelemetry spans to stdout")
	fs.StringVar(&o.metrics, "metrics", "", "Serve prometheus metrics on this address (e.g. :9090) until interrupted")
	fs.IntVar(&o.width, "width", 0, "Maximum vector width (0 detects)")
	fs.StringVar(&o.accel, "accel", "none", "Offload accelerator (none, webgpu)")
	fs.BoolVar(&o.verbose, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if o.n < 0 || o.iters < 1 || o.features < 1 || o.vocab < 1 {
		return errors.New("bench: n must be >= 0 and iters, features, vocab >= 1")
	}
	dt, ok := tensor.ParseDataType(o.dtype)
	if !ok || !dt.IsFloat() {
		return fmt.Errorf("bench: unsupported dtype %q", o.dtype)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if o.trace {
		shutdown, err := initTracer()
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	reg := prometheus.NewRegistry()
	cfg := device.DefaultConfig()
	cfg.Registerer = reg
	dev, release, err := newDevice(o.deviceOptions, cfg)
	if err != nil {
		return err
	}
	defer release()

	var srv *http.Server
	if o.metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: o.metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", o.metrics).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", o.metrics).Msg("serving metrics")
	}

	step, err := newBenchStep(dev, o, dt)
	if err != nil {
		return err
	}

	// Warm the scratch pool.
	if err := step(ctx); err != nil {
		return err
	}
	start := time.Now()
	for range o.iters {
		if err := step(ctx); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	perIter := elapsed / time.Duration(o.iters)
	elems := float64(o.n) * float64(o.iters)
	if o.kernel == "embedding" {
		elems *= float64(o.features)
	}
	fmt.Printf("kernel=%s dtype=%s n=%s width=%d\n", o.kernel, dt, humanize.Comma(int64(o.n)), dev.MaxVectorWidth())
	fmt.Printf("  %s/iter, %s\n", perIter, humanize.SI(elems/elapsed.Seconds(), "elem/s"))
	fmt.Printf("  pool: %s\n", dev.Pool().Stats())

	if srv != nil {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// newBenchStep allocates the operands of one kernel and returns a closure
// running it once.
func newBenchStep(dev *device.Context, o benchOptions, dt tensor.DataType) (func(context.Context) error, error) {
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
	randn := func(n int, scale float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(rng.NormFloat64()) * scale
		}
		return out
	}
	shape := tensor.Shape{o.n}

	switch o.kernel {
	case "adamw", "lars":
		if dt == tensor.Float64 {
			return nil, fmt.Errorf("bench: %s does not support float64 parameters", o.kernel)
		}
		// Low-precision parameters run with float32 master weights.
		gradType := dt
		var master *tensor.RawTensor
		w := randn(o.n, 1)
		if dt.IsReducedPrecision() {
			gradType = tensor.Float32
			m, err := tensor.FromFloat32(tensor.Float32, shape, w)
			if err != nil {
				return nil, err
			}
			master = m
		}
		param, err := tensor.FromFloat32(dt, shape, w)
		if err != nil {
			return nil, err
		}
		grad, err := tensor.FromFloat32(gradType, shape, randn(o.n, 0.01))
		if err != nil {
			return nil, err
		}
		params := []optim.Param{{Name: "w", Value: param, Grad: grad, Master: master}}

		var opt optim.Optimizer
		if o.kernel == "adamw" {
			opt = optim.NewAdamW(dev, optim.DefaultAdamWConfig())
		} else {
			opt = optim.NewLARS(dev, optim.DefaultLARSConfig())
		}
		return func(ctx context.Context) error { return opt.Step(ctx, params) }, nil

	case "embedding":
		idx := make([]int64, o.n)
		for i := range idx {
			idx[i] = rng.Int64N(int64(o.vocab))
		}
		indices, err := tensor.FromInt64(shape, idx)
		if err != nil {
			return nil, err
		}
		grad, err := tensor.FromFloat32(dt, tensor.Shape{o.n, o.features}, randn(o.n*o.features, 1))
		if err != nil {
			return nil, err
		}
		args := embedding.DenseArgs{Grad: grad, Indices: indices, NumWeights: int64(o.vocab), PaddingIdx: -1}
		return func(ctx context.Context) error {
			_, err := embedding.DenseBackward(ctx, dev, args)
			return err
		}, nil
	}
	return nil, fmt.Errorf("bench: unknown kernel %q", o.kernel)
}
