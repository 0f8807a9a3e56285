package optim

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/born-ml/kernels/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func larsArgs(param, grad *tensor.RawTensor) LARSArgs {
	return LARSArgs{
		Param: param,
		Grad:  grad,
		LR:    0.1,
		Eeta:  1e-3,
		Eps:   1e-8,
	}
}

func TestLARSTrustRatio(t *testing.T) {
	assert.InDelta(t, 0.002, LARSTrustRatio(2, 1, 1e-3, 0, 0), 1e-9)
	assert.InDelta(t, 1e-3*2/(1+0.5*2+1e-8), LARSTrustRatio(2, 1, 1e-3, 0.5, 1e-8), 1e-9)

	assert.Equal(t, float32(1), LARSTrustRatio(0, 5, 1e-3, 0.1, 1e-8))
	assert.Equal(t, float32(1), LARSTrustRatio(5, 0, 1e-3, 0.1, 1e-8))
	assert.Equal(t, float32(1), LARSTrustRatio(0, 0, 1e-3, 0.1, 1e-8))
}

func TestLARSZeroWeightNorm(t *testing.T) {
	a := larsArgs(from(t, tensor.Float32, 0, 0), from(t, tensor.Float32, 3, 4))
	buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)
	assert.Nil(t, buf)

	lr := float32(0.1)
	assert.Equal(t, []float32{-lr * 3, -lr * 4}, a.Param.AsFloat32())
}

func TestLARSZeroNormWithMomentum(t *testing.T) {
	a := larsArgs(from(t, tensor.Float32, 0, 0), from(t, tensor.Float32, 3, 4))
	a.Momentum = 0.9
	buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)
	require.NotNil(t, buf)

	lr := float32(0.1)
	assert.Equal(t, []float32{3, 4}, buf.AsFloat32())
	assert.Equal(t, []float32{-lr * 3, -lr * 4}, a.Param.AsFloat32())
}

func TestLARSTrustRatioScalesStep(t *testing.T) {
	a := larsArgs(from(t, tensor.Float32, 3, 4), from(t, tensor.Float32, 0, 0.5))
	_, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)

	// |w| = 5, |g| = 0.5, trust = 1e-3 * 5 / 0.5 = 0.01.
	ratio := 1e-3 * 5 / (0.5 + 1e-8)
	got := a.Param.AsFloat32()
	assert.Equal(t, float32(3), got[0])
	assert.InDelta(t, 4-0.1*ratio*0.5, got[1], 1e-6)
}

func TestLARSWeightDecayAddsToDirection(t *testing.T) {
	a := larsArgs(from(t, tensor.Float32, 2), from(t, tensor.Float32, 1))
	a.WeightDecay = 0.5
	a.Eeta = 1
	a.Eps = 0
	_, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)

	// trust = 1*2 / (1 + 0.5*2) = 1, d = 1 + 0.5*2 = 2.
	assert.InDelta(t, 2-0.1*2, a.Param.AsFloat32()[0], 1e-6)
}

func TestLARSMomentumFirstAndSecondUse(t *testing.T) {
	dev := newDev(t, 0)
	a := larsArgs(from(t, tensor.Float32, 1, 2), from(t, tensor.Float32, 0.5, 0.5))
	a.Momentum = 0.9
	a.Dampening = 0.25

	buf, err := LARSFusedStep(context.Background(), dev, a)
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Equal(t, tensor.Shape{2}, buf.Shape())
	// The first use copies the direction and ignores dampening.
	assert.Equal(t, []float32{0.5, 0.5}, buf.AsFloat32())

	a.MomentumBuffer = buf
	again, err := LARSFusedStep(context.Background(), dev, a)
	require.NoError(t, err)
	assert.Same(t, buf, again)

	m, d := float32(0.9), float32(0.5)
	want := float32(m*d) + float32(float32(0.75)*d)
	assert.Equal(t, []float32{want, want}, buf.AsFloat32())
}

func TestLARSNesterov(t *testing.T) {
	a := larsArgs(from(t, tensor.Float32, 0), from(t, tensor.Float32, 1))
	a.Momentum = 0.5
	a.Nesterov = true
	buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)

	assert.Equal(t, []float32{1}, buf.AsFloat32())
	// d = buf + momentum*buf = 1.5, trust = 1 because |w| = 0.
	assert.InDelta(t, -0.1*1.5, a.Param.AsFloat32()[0], 1e-7)
}

func TestLARSBufferIgnoredWithoutMomentum(t *testing.T) {
	stale := from(t, tensor.Float32, 7, 7)
	a := larsArgs(from(t, tensor.Float32, 0, 0), from(t, tensor.Float32, 1, 1))
	a.MomentumBuffer = stale

	buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)
	assert.Same(t, stale, buf)
	assert.Equal(t, []float32{7, 7}, stale.AsFloat32())
}

func TestLARSEmpty(t *testing.T) {
	a := larsArgs(tensor.Zeros(tensor.Float32, 0), tensor.Zeros(tensor.Float32, 0))
	a.Momentum = 0.9
	buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
	require.NoError(t, err)
	require.NotNil(t, buf)
	assert.Zero(t, buf.NumElements())
}

func TestLARSWidthsBitIdentical(t *testing.T) {
	const n = 45
	rng := rand.New(rand.NewPCG(5, 6))
	w, g, b := randVals(rng, n, 1), randVals(rng, n, 0.1), randVals(rng, n, 0.1)

	run := func(width int, mk func([]float32) *tensor.RawTensor) (*tensor.RawTensor, *tensor.RawTensor) {
		a := larsArgs(mk(w), mk(g))
		a.MomentumBuffer = mk(b)
		a.Momentum = 0.9
		a.WeightDecay = 1e-4
		a.Nesterov = true
		buf, err := LARSFusedStep(context.Background(), newDev(t, width), a)
		require.NoError(t, err)
		return a.Param, buf
	}
	dense := func(v []float32) *tensor.RawTensor { return from(t, tensor.Float32, v...) }
	shifted := func(v []float32) *tensor.RawTensor { return padded(t, tensor.Float32, v) }

	refW, refB := run(1, dense)
	for _, width := range []int{2, 4, 8} {
		gotW, gotB := run(width, dense)
		assert.Equal(t, refW.AsFloat32(), gotW.AsFloat32(), "width %d", width)
		assert.Equal(t, refB.AsFloat32(), gotB.AsFloat32(), "width %d", width)
	}
	gotW, gotB := run(8, shifted)
	assert.Equal(t, refW.AsFloat32(), gotW.AsFloat32())
	assert.Equal(t, refB.AsFloat32(), gotB.AsFloat32())
}

func TestLARSMasterWeights(t *testing.T) {
	for _, dt := range []tensor.DataType{tensor.Float16, tensor.BFloat16} {
		t.Run(dt.String(), func(t *testing.T) {
			w := []float32{0.5, -0.25, 1.5}
			a := larsArgs(from(t, dt, w...), from(t, dt, 0.1, 0.2, 0.3))
			a.Param2 = from(t, tensor.Float32, w...)
			a.Momentum = 0.9
			buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
			require.NoError(t, err)
			assert.Equal(t, tensor.Float32, buf.DType())

			master, half := a.Param2.AsFloat32(), a.Param.ToFloat32()
			for i := range master {
				assert.Equal(t, tensor.RoundFloat32(dt, master[i]), half[i])
			}
			assert.NotEqual(t, w, master)
		})
	}
}

func TestLARSPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *LARSArgs)
		want   error
	}{
		{"negative lr", func(a *LARSArgs) { a.LR = -0.1 }, ErrInvalidArgument},
		{"negative eeta", func(a *LARSArgs) { a.Eeta = -1 }, ErrInvalidArgument},
		{"nan momentum", func(a *LARSArgs) { a.Momentum = math.NaN() }, ErrInvalidArgument},
		{"dampening above one", func(a *LARSArgs) { a.Dampening = 1.5 }, ErrInvalidArgument},
		{"nesterov without momentum", func(a *LARSArgs) { a.Nesterov = true }, ErrInvalidArgument},
		{"nesterov with dampening", func(a *LARSArgs) {
			a.Nesterov, a.Momentum, a.Dampening = true, 0.9, 0.1
		}, ErrInvalidArgument},
		{"grad shape", func(a *LARSArgs) { a.Grad = from(t, tensor.Float32, 1) }, ErrShapeMismatch},
		{"buffer shape", func(a *LARSArgs) {
			a.Momentum = 0.9
			a.MomentumBuffer = from(t, tensor.Float32, 0, 0, 0)
		}, ErrShapeMismatch},
		{"half buffer", func(a *LARSArgs) {
			a.Momentum = 0.9
			a.MomentumBuffer = from(t, tensor.Float16, 0, 0)
		}, ErrDTypeMismatch},
		{"half param", func(a *LARSArgs) { a.Param = from(t, tensor.BFloat16, 1, 2) }, ErrDTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := larsArgs(from(t, tensor.Float32, 1, 2), from(t, tensor.Float32, 0.5, 0.5))
			tt.mutate(&a)
			before := snapshot(a.Param, a.MomentumBuffer)

			buf, err := LARSFusedStep(context.Background(), newDev(t, 0), a)
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, buf)
			assert.Equal(t, before, snapshot(a.Param, a.MomentumBuffer))
		})
	}
}
