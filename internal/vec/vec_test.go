package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanes(t *testing.T) {
	assert.Equal(t, 1, Lanes[W1]())
	assert.Equal(t, 2, Lanes[W2]())
	assert.Equal(t, 4, Lanes[W4]())
	assert.Equal(t, 8, Lanes[W8]())
}

func TestCanVectorizeUpTo(t *testing.T) {
	tests := []struct {
		buf  Buffer
		want int
	}{
		{Buffer{Offset: 0, Contiguous: true}, 8},
		{Buffer{Offset: 4, Contiguous: true}, 4},
		{Buffer{Offset: 6, Contiguous: true}, 2},
		{Buffer{Offset: 3, Contiguous: true}, 1},
		{Buffer{Offset: 16, Contiguous: true}, 8},
		{Buffer{Offset: 0, Contiguous: false}, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanVectorizeUpTo(tt.buf), "%+v", tt.buf)
	}
}

func TestPick(t *testing.T) {
	aligned := Buffer{Contiguous: true}
	assert.Equal(t, 8, Pick(8, aligned, aligned))
	assert.Equal(t, 4, Pick(4, aligned))
	assert.Equal(t, 4, Pick(6, aligned), "limit rounds down to a power of two")
	assert.Equal(t, 2, Pick(8, aligned, Buffer{Offset: 2, Contiguous: true}))
	assert.Equal(t, 1, Pick(0, aligned))
	assert.Equal(t, 8, Pick(16))
}

func TestGroups(t *testing.T) {
	g, tail := Groups(19, 8)
	assert.Equal(t, 2, g)
	assert.Equal(t, 16, tail)

	g, tail = Groups(3, 4)
	assert.Equal(t, 0, g)
	assert.Equal(t, 0, tail)
}

func TestHardwareWidth(t *testing.T) {
	w := HardwareWidth()
	assert.GreaterOrEqual(t, w, 1)
	assert.LessOrEqual(t, w, MaxWidth)
	assert.Equal(t, w&(w-1), 0, "width must be a power of two")
}
