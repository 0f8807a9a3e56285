package optim

import (
	"bytes"
	"context"
	"testing"

	"github.com/born-ml/kernels/internal/checkpoint"
	"github.com/born-ml/kernels/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(t *testing.T) []Param {
	return []Param{
		{Name: "fc.weight", Value: from(t, tensor.Float32, 0.5, -0.5, 1), Grad: from(t, tensor.Float32, 0.1, 0.2, -0.1)},
		{Name: "fc.bias", Value: from(t, tensor.Float32, 0.1), Grad: from(t, tensor.Float32, 0.3)},
		{Name: "frozen", Value: from(t, tensor.Float32, 9)},
	}
}

func roundTrip(t *testing.T, st checkpoint.State) checkpoint.State {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, checkpoint.Write(&buf, st))
	got, err := checkpoint.Read(&buf)
	require.NoError(t, err)
	return got
}

func TestAdamWOptimizer(t *testing.T) {
	dev := newDev(t, 0)
	cfg := DefaultAdamWConfig()
	cfg.AMSGrad = true
	opt := NewAdamW(dev, cfg)
	ps := params(t)

	for range 3 {
		require.NoError(t, opt.Step(context.Background(), ps))
	}
	assert.Equal(t, int64(3), opt.GetTimestep())
	assert.Equal(t, []float32{9}, ps[2].Value.AsFloat32())
	assert.Less(t, ps[0].Value.AsFloat32()[0], float32(0.5))

	st := opt.State()
	assert.Equal(t, "adamw", st.Optimizer)
	assert.Equal(t, map[string]int64{"fc.weight": 3, "fc.bias": 3}, st.Steps)
	assert.Len(t, st.Tensors, 6)
	assert.Contains(t, st.Tensors, "fc.weight.max_exp_avg_sq")

	opt.SetLR(0.5)
	assert.InDelta(t, 0.5, opt.GetLR(), 0)
}

func TestAdamWOptimizerResume(t *testing.T) {
	ps := params(t)
	opt := NewAdamW(newDev(t, 0), DefaultAdamWConfig())
	require.NoError(t, opt.Step(context.Background(), ps))

	resumed := NewAdamW(newDev(t, 0), AdamWConfig{})
	require.NoError(t, resumed.LoadState(roundTrip(t, opt.State())))
	assert.Equal(t, opt.cfg, resumed.cfg)
	assert.Equal(t, int64(1), resumed.GetTimestep())

	clone := params(t)
	for i := range clone {
		copy(clone[i].Value.AsFloat32(), ps[i].Value.AsFloat32())
	}
	require.NoError(t, opt.Step(context.Background(), ps))
	require.NoError(t, resumed.Step(context.Background(), clone))
	for i := range ps {
		assert.Equal(t, ps[i].Value.AsFloat32(), clone[i].Value.AsFloat32(), ps[i].Name)
	}
}

func TestAdamWOptimizerFailedStepKeepsState(t *testing.T) {
	opt := NewAdamW(newDev(t, 0), DefaultAdamWConfig())
	ps := params(t)
	ps[1].Grad = from(t, tensor.Float32, 1, 2)

	require.ErrorIs(t, opt.Step(context.Background(), ps), ErrShapeMismatch)
	assert.Zero(t, opt.GetTimestep())
	assert.Empty(t, opt.State().Tensors)
	assert.Equal(t, []float32{0.5, -0.5, 1}, ps[0].Value.AsFloat32())
}

func TestAdamWOptimizerMasterWeights(t *testing.T) {
	opt := NewAdamW(newDev(t, 0), DefaultAdamWConfig())
	p := Param{
		Name:   "emb",
		Value:  from(t, tensor.BFloat16, 1, 2),
		Grad:   from(t, tensor.BFloat16, 0.5, 0.5),
		Master: from(t, tensor.Float32, 1, 2),
	}
	require.NoError(t, opt.Step(context.Background(), []Param{p}))
	assert.Equal(t, tensor.Float32, opt.State().Tensors["emb.exp_avg"].DType())
	assert.Less(t, p.Master.AsFloat32()[0], float32(1))
}

func TestAdamWLoadStateRejects(t *testing.T) {
	opt := NewAdamW(newDev(t, 0), DefaultAdamWConfig())
	assert.ErrorIs(t, opt.LoadState(checkpoint.State{Optimizer: "lars"}), ErrInvalidArgument)
	assert.ErrorIs(t, opt.LoadState(checkpoint.State{
		Optimizer: "adamw",
		Steps:     map[string]int64{"w": 1},
	}), ErrInvalidArgument)
}

func TestLARSOptimizer(t *testing.T) {
	opt := NewLARS(newDev(t, 0), DefaultLARSConfig())
	ps := params(t)
	require.NoError(t, opt.Step(context.Background(), ps))
	require.NoError(t, opt.Step(context.Background(), ps))

	assert.Equal(t, int64(2), opt.GetTimestep())
	st := opt.State()
	assert.Equal(t, "lars", st.Optimizer)
	assert.Len(t, st.Tensors, 2)

	resumed := NewLARS(newDev(t, 0), LARSConfig{})
	require.NoError(t, resumed.LoadState(roundTrip(t, st)))
	assert.Equal(t, opt.cfg, resumed.cfg)
	assert.Equal(t, st.Tensors["fc.bias.momentum_buffer"].AsFloat32(),
		resumed.buffers["fc.bias"].AsFloat32())

	clone := params(t)
	for i := range clone {
		copy(clone[i].Value.AsFloat32(), ps[i].Value.AsFloat32())
	}
	require.NoError(t, opt.Step(context.Background(), ps))
	require.NoError(t, resumed.Step(context.Background(), clone))
	for i := range ps {
		assert.Equal(t, ps[i].Value.AsFloat32(), clone[i].Value.AsFloat32(), ps[i].Name)
	}
}

func TestLARSOptimizerValidatesAllFirst(t *testing.T) {
	opt := NewLARS(newDev(t, 0), DefaultLARSConfig())
	ps := params(t)
	ps[1].Grad = from(t, tensor.Float16, 1)

	err := opt.Step(context.Background(), ps)
	require.ErrorIs(t, err, ErrDTypeMismatch)
	assert.Contains(t, err.Error(), `"fc.bias"`)
	assert.Equal(t, []float32{0.5, -0.5, 1}, ps[0].Value.AsFloat32())
	assert.Empty(t, opt.State().Tensors)
}
