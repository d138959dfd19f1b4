package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferFIFO(t *testing.T) {
	b := NewBuffer(4)
	for _, n := range []uint16{3, 1, 2} {
		require.True(t, b.Push(Frame{FrameNumber: n}))
	}

	var order []uint16
	for {
		f, ok := b.Pop()
		if !ok {
			break
		}
		order = append(order, f.FrameNumber)
	}
	// Arrival order, not sorted by frame number.
	assert.Equal(t, []uint16{3, 1, 2}, order)
	assert.Zero(t, b.Len())
}

func TestBufferCapacity(t *testing.T) {
	b := NewBuffer(2)
	assert.True(t, b.Push(Frame{FrameNumber: 1}))
	assert.True(t, b.Push(Frame{FrameNumber: 2}))
	assert.False(t, b.Push(Frame{FrameNumber: 3}))
	assert.Equal(t, 2, b.Len())

	frames := b.Frames()
	require.Len(t, frames, 2)
	assert.Equal(t, uint16(1), frames[0].FrameNumber)
	assert.Equal(t, uint16(2), frames[1].FrameNumber)

	_, _ = b.Pop()
	assert.True(t, b.Push(Frame{FrameNumber: 4}))
}

func TestBufferClearAndDefaults(t *testing.T) {
	b := NewBuffer(0)
	assert.Equal(t, DefaultCapacity, b.Cap())

	b.Push(Frame{FrameNumber: 1})
	b.Clear()
	assert.Zero(t, b.Len())
	_, ok := b.Pop()
	assert.False(t, ok)
}
