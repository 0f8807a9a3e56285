package main

import (
	"context"
	"testing"

	"github.com/born-ml/kernels/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksPass(t *testing.T) {
	for _, width := range []int{1, 8} {
		cfg := device.SequentialConfig()
		cfg.MaxVectorWidth = width
		dev := device.New(cfg)
		for _, c := range checks {
			assert.NoError(t, c.run(context.Background(), dev), "%s width %d", c.name, width)
		}
	}
}

func TestRunVerify(t *testing.T) {
	require.NoError(t, runVerify([]string{"-width", "4"}))
}

func TestRunBench(t *testing.T) {
	for _, kernel := range []string{"adamw", "lars", "embedding"} {
		require.NoError(t, runBench([]string{"-kernel", kernel, "-n", "300", "-features", "4", "-vocab", "50", "-iters", "2"}), kernel)
	}
	require.NoError(t, runBench([]string{"-kernel", "adamw", "-dtype", "bfloat16", "-n", "100", "-iters", "1"}))
}

func TestRunBenchRejects(t *testing.T) {
	assert.Error(t, runBench([]string{"-kernel", "nope", "-n", "10"}))
	assert.Error(t, runBench([]string{"-dtype", "int64"}))
	assert.Error(t, runBench([]string{"-kernel", "lars", "-dtype", "float64", "-n", "10"}))
	assert.Error(t, runBench([]string{"-iters", "0"}))
}

func TestNewDeviceWorkersEnv(t *testing.T) {
	t.Setenv(workersEnv, "3")
	dev, release, err := newDevice(deviceOptions{}, device.DefaultConfig())
	require.NoError(t, err)
	defer release()
	assert.Equal(t, 3, dev.Parallel().NumWorkers)

	t.Setenv(workersEnv, "zero")
	_, _, err = newDevice(deviceOptions{}, device.DefaultConfig())
	assert.Error(t, err)

	t.Setenv(workersEnv, "")
	_, _, err = newDevice(deviceOptions{accel: "tpu"}, device.DefaultConfig())
	assert.Error(t, err)
}
