package device

import "context"

// AdamWHyper holds the float32 scalars of one AdamW step, precomputed on the host.
type AdamWHyper struct {
	Beta1           float32
	Beta2           float32
	OneMinusBeta1   float32
	OneMinusBeta2   float32
	BiasCorrection2 float32
	StepSize        float32 // lr / bias_correction1
	StepWeightDecay float32 // 1 - lr*weight_decay
	Eps             float32
	AMSGrad         bool
}

// Accelerator is an optional offload target for float32 kernels.
// Implementations update the slices in place.
type Accelerator interface {
	Name() string
	FusedAdamW(ctx context.Context, h AdamWHyper, param, grad, expAvg, expAvgSq, maxExpAvgSq []float32) error
}
