//go:build !windows

package webgpu

import (
	"context"
	"testing"

	"github.com/born-ml/kernels/internal/device"
	"github.com/stretchr/testify/assert"
)

func TestNewNotAvailable(t *testing.T) {
	b, err := New()
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.Nil(t, b)

	var stub Backend
	assert.Equal(t, "webgpu", stub.Name())
	assert.ErrorIs(t, stub.FusedAdamW(context.Background(), device.AdamWHyper{}, nil, nil, nil, nil, nil), ErrNotAvailable)
}
