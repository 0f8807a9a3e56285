// Package main provides the born-kernels CLI: micro-benchmarks and a
// self-check of the fused kernels.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/born-ml/kernels/device"
	"github.com/born-ml/kernels/internal/backend/webgpu"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const version = "v0.1.0-dev"

// workersEnv overrides the number of launch workers.
const workersEnv = "BORN_KERNELS_WORKERS"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("born-kernels %s\n", version)
	case "bench":
		err = runBench(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg(os.Args[1] + " failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: born-kernels <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version    Show version")
	fmt.Fprintln(os.Stderr, "  bench      Time a fused kernel")
	fmt.Fprintln(os.Stderr, "  verify     Check the kernels against known results")
}

// deviceOptions are the flags shared by every command that builds a Context.
type deviceOptions struct {
	width   int
	accel   string
	verbose bool
}

// newDevice builds a Context from opts and the environment. The returned
// release func frees the accelerator, if any.
func newDevice(opts deviceOptions, cfg device.Config) (*device.Context, func(), error) {
	level := zerolog.InfoLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	cfg.Logger = log.Logger.Level(level)
	cfg.MaxVectorWidth = opts.width

	if s := os.Getenv(workersEnv); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, nil, fmt.Errorf("%s: expected a positive integer, got %q", workersEnv, s)
		}
		cfg.Parallel.NumWorkers = n
	}

	release := func() {}
	switch opts.accel {
	case "", "none":
	case "webgpu":
		b, err := webgpu.New()
		if err != nil {
			return nil, nil, err
		}
		cfg.Accelerator = b
		release = b.Release
	default:
		return nil, nil, fmt.Errorf("unknown accelerator %q", opts.accel)
	}
	return device.New(cfg), release, nil
}

// initTracer installs a stdout span exporter as the global tracer provider.
func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "born-kernels"),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
