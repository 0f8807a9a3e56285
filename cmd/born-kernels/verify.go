package main

import (
	"context"
	"flag"
	"fmt"
	"math"

	"github.com/born-ml/kernels/device"
	"github.com/born-ml/kernels/embedding"
	"github.com/born-ml/kernels/optim"
	"github.com/born-ml/kernels/tensor"
	"github.com/rs/zerolog/log"
)

type check struct {
	name string
	run  func(context.Context, *device.Context) error
}

var checks = []check{
	{"adamw-single-element", verifyAdamW},
	{"embedding-segment-sum", verifyEmbedding},
	{"lars-zero-weight-norm", verifyLARS},
}

func runVerify(args []string) error {
	var o deviceOptions
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.IntVar(&o.width, "width", 0, "Maximum vector width (0 detects)")
	fs.StringVar(&o.accel, "accel", "none", "Offload accelerator (none, webgpu)")
	fs.BoolVar(&o.verbose, "v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dev, release, err := newDevice(o, device.DefaultConfig())
	if err != nil {
		return err
	}
	defer release()

	failed := 0
	for _, c := range checks {
		if err := c.run(context.Background(), dev); err != nil {
			failed++
			log.Error().Err(err).Str("check", c.name).Msg("FAIL")
			continue
		}
		log.Info().Str("check", c.name).Msg("ok")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

func near(name string, got, want, tol float64) error {
	if math.Abs(got-want) > tol {
		return fmt.Errorf("%s: got %g, want %g (tolerance %g)", name, got, want, tol)
	}
	return nil
}

func scalar(v float32) *tensor.RawTensor {
	t, err := tensor.FromFloat32(tensor.Float32, tensor.Shape{1}, []float32{v})
	if err != nil {
		panic(err)
	}
	return t
}

// verifyAdamW runs the first step of a one-element AdamW update.
func verifyAdamW(ctx context.Context, dev *device.Context) error {
	param, grad := scalar(1), scalar(1)
	expAvg, expAvgSq := scalar(0), scalar(0)
	err := optim.AdamWFusedStep(ctx, dev, optim.AdamWArgs{
		Param: param, Grad: grad, ExpAvg: expAvg, ExpAvgSq: expAvgSq,
		Step: 1, Beta1: 0.9, Beta2: 0.999, LR: 1e-3, Eps: 1e-8,
	})
	if err != nil {
		return err
	}
	if err := near("exp_avg", float64(expAvg.AsFloat32()[0]), 0.1, 1e-7); err != nil {
		return err
	}
	if err := near("exp_avg_sq", float64(expAvgSq.AsFloat32()[0]), 0.001, 1e-9); err != nil {
		return err
	}
	return near("param", float64(param.AsFloat32()[0]), 0.999, 1e-6)
}

// verifyEmbedding reduces six unit rows over indices 2, 5 and 7.
func verifyEmbedding(ctx context.Context, dev *device.Context) error {
	sorted, err := tensor.FromInt64(tensor.Shape{6}, []int64{2, 2, 5, 5, 5, 7})
	if err != nil {
		return err
	}
	orig, err := tensor.FromInt64(tensor.Shape{6}, []int64{0, 1, 2, 3, 4, 5})
	if err != nil {
		return err
	}
	grad, err := tensor.FromFloat32(tensor.Float32, tensor.Shape{6, 1}, []float32{1, 1, 1, 1, 1, 1})
	if err != nil {
		return err
	}
	out, err := embedding.BackwardDeterministic(ctx, dev, embedding.BackwardArgs{
		Grad: grad, SortedIndices: sorted, OrigIndices: orig, NumWeights: 9, PaddingIdx: -1,
	})
	if err != nil {
		return err
	}
	want := []float32{0, 0, 2, 0, 0, 3, 0, 1, 0}
	for i, v := range out.AsFloat32() {
		if v != want[i] {
			return fmt.Errorf("row %d: got %g, want %g", i, v, want[i])
		}
	}
	return nil
}

// verifyLARS steps a zero weight, where the trust ratio must be 1.
func verifyLARS(ctx context.Context, dev *device.Context) error {
	param := tensor.Zeros(tensor.Float32, 2)
	grad, err := tensor.FromFloat32(tensor.Float32, tensor.Shape{2}, []float32{3, 4})
	if err != nil {
		return err
	}
	if _, err := optim.LARSFusedStep(ctx, dev, optim.LARSArgs{
		Param: param, Grad: grad, LR: 0.1, Eeta: 1e-3, Eps: 1e-8,
	}); err != nil {
		return err
	}
	w := param.AsFloat32()
	if err := near("w[0]", float64(w[0]), -0.3, 1e-7); err != nil {
		return err
	}
	return near("w[1]", float64(w[1]), -0.4, 1e-7)
}
