package playout

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []uint16
	data   [][]byte
	err    error
}

func (r *recordingSink) Show(frameNumber uint16, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frameNumber)
	r.data = append(r.data, frame)
	return r.err
}

func (r *recordingSink) shown() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint16, len(r.frames))
	copy(out, r.frames)
	return out
}

type mapLookup map[string][]byte

func (m mapLookup) Lookup(fp string) ([]byte, bool) {
	b, ok := m[fp]
	return b, ok
}

func fastConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseInterval: time.Millisecond,
		EmptyPoll:    time.Millisecond,
		StarveAfter:  3,
	}
}

func TestMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		depth    int
		capacity int
		want     float64
	}{
		{name: "Empty", depth: 0, capacity: 100, want: 1.8},
		{name: "Below 8%", depth: 7, capacity: 100, want: 1.8},
		{name: "Below 25%", depth: 20, capacity: 100, want: 1.3},
		{name: "Middle", depth: 50, capacity: 100, want: 1.0},
		{name: "At 67%", depth: 67, capacity: 100, want: 1.0},
		{name: "Above 67%", depth: 80, capacity: 100, want: 0.9},
		{name: "Full", depth: 100, capacity: 100, want: 0.9},
		{name: "Zero capacity", depth: 5, capacity: 0, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Multiplier(tt.depth, tt.capacity))
		})
	}
}

func TestSchedulerDrainsInOrder(t *testing.T) {
	b := NewBuffer(10)
	for i := uint16(1); i <= 5; i++ {
		require.True(t, b.Push(Frame{FrameNumber: i, Data: []byte{byte(i)}}))
	}
	sink := &recordingSink{}
	s := NewScheduler(b, nil, sink, fastConfig())

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(sink.shown()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint16{1, 2, 3, 4, 5}, sink.shown())
	assert.Equal(t, uint64(5), s.Displayed())
}

func TestSchedulerPrefersCachedCopy(t *testing.T) {
	b := NewBuffer(4)
	b.Push(Frame{FrameNumber: 1, Data: []byte("queued"), Fingerprint: "fp1"})
	b.Push(Frame{FrameNumber: 2, Data: []byte("uncached"), Fingerprint: "fp2"})
	sink := &recordingSink{}
	s := NewScheduler(b, mapLookup{"fp1": []byte("cached")}, sink, fastConfig())

	s.Start()
	assert.Eventually(t, func() bool { return len(sink.shown()) == 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []byte("cached"), sink.data[0])
	assert.Equal(t, []byte("uncached"), sink.data[1])
	assert.Equal(t, uint64(1), s.CacheHits())
}

func TestSchedulerReportsStarvation(t *testing.T) {
	b := NewBuffer(4)
	s := NewScheduler(b, nil, &recordingSink{}, fastConfig())

	s.Start()
	assert.Eventually(t, func() bool { return s.Starvations() >= 1 }, time.Second, 2*time.Millisecond)
	assert.True(t, s.Running())

	// A frame ends the starvation episode and the scheduler keeps going.
	b.Push(Frame{FrameNumber: 1})
	assert.Eventually(t, func() bool { return s.Displayed() == 1 }, time.Second, 2*time.Millisecond)
	assert.Eventually(t, func() bool { return s.Starvations() >= 2 }, time.Second, 2*time.Millisecond)
	s.Stop()
}

func TestSchedulerStopKeepsQueuedFrames(t *testing.T) {
	b := NewBuffer(10)
	for i := uint16(1); i <= 10; i++ {
		b.Push(Frame{FrameNumber: i})
	}
	cfg := fastConfig()
	cfg.BaseInterval = 20 * time.Millisecond
	sink := &recordingSink{}
	s := NewScheduler(b, nil, sink, cfg)

	s.Start()
	assert.Eventually(t, func() bool { return len(sink.shown()) >= 1 }, time.Second, time.Millisecond)
	s.Stop()
	assert.False(t, s.Running())

	shown := len(sink.shown())
	assert.Equal(t, 10-shown, b.Len())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, shown, len(sink.shown()))

	// Restart continues from the next queued frame.
	s.Start()
	assert.Eventually(t, func() bool { return len(sink.shown()) == shown+1 }, time.Second, time.Millisecond)
	s.Stop()
	assert.Equal(t, uint16(shown+1), sink.shown()[shown])
}

func TestSchedulerIgnoresSinkErrors(t *testing.T) {
	b := NewBuffer(4)
	b.Push(Frame{FrameNumber: 1})
	b.Push(Frame{FrameNumber: 2})
	sink := &recordingSink{err: errors.New("render failed")}
	s := NewScheduler(b, nil, sink, fastConfig())

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return s.Displayed() == 2 }, time.Second, 2*time.Millisecond)
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	s := NewScheduler(NewBuffer(1), nil, &recordingSink{}, fastConfig())
	s.Stop()
	s.Start()
	s.Start()
	assert.True(t, s.Running())
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
}
