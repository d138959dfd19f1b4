// Package playout implements the client playout buffer and the adaptive
// scheduler that drains it into a display sink.
package playout

import (
	"sync"
)

// Frame is one reconstructed frame awaiting display.
type Frame struct {
	FrameNumber uint16
	Data        []byte
	Fingerprint string
}

// Buffer is a bounded FIFO of frames in arrival order. It is safe for
// concurrent use by one producer and one consumer.
type Buffer struct {
	mu       sync.Mutex
	frames   []Frame
	capacity int
}

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 48

// NewBuffer creates a buffer holding at most capacity frames.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a frame. It returns false and discards the frame when the
// buffer is full.
func (b *Buffer) Push(f Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) >= b.capacity {
		return false
	}
	b.frames = append(b.frames, f)
	return true
}

// Pop removes and returns the oldest frame.
func (b *Buffer) Pop() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		return Frame{}, false
	}
	f := b.frames[0]
	b.frames[0] = Frame{}
	b.frames = b.frames[1:]
	if len(b.frames) == 0 {
		b.frames = b.frames[:0:0]
	}
	return f, true
}

// Len returns the number of queued frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Frames returns a copy of the queued frames, oldest first.
func (b *Buffer) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// Clear drops every queued frame.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}
