package playout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtspcast/metrics"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseInterval paces playback at 24 frames per second.
	DefaultBaseInterval = time.Second / 24

	// DefaultEmptyPoll is the wait between polls of an empty buffer.
	DefaultEmptyPoll = 20 * time.Millisecond

	// DefaultStarveAfter is the number of consecutive empty polls before the
	// buffer is reported starved.
	DefaultStarveAfter = 10
)

// Sink receives frames for display.
type Sink interface {
	Show(frameNumber uint16, frame []byte) error
}

// FrameLookup resolves a fingerprint to cached frame bytes.
type FrameLookup interface {
	Lookup(fingerprint string) ([]byte, bool)
}

// Multiplier scales the base interval by buffer fill level: a nearly empty
// buffer slows playback down, a nearly full one speeds it up.
func Multiplier(depth, capacity int) float64 {
	if capacity <= 0 {
		return 1.0
	}
	fill := float64(depth) / float64(capacity)
	switch {
	case fill < 0.08:
		return 1.8
	case fill < 0.25:
		return 1.3
	case fill > 0.67:
		return 0.9
	default:
		return 1.0
	}
}

// SchedulerConfig tunes pacing. Zero values select the defaults.
type SchedulerConfig struct {
	BaseInterval time.Duration
	EmptyPoll    time.Duration
	StarveAfter  int
	Metrics      *metrics.Client
}

// Scheduler pops frames from a Buffer at an adaptive rate and hands them to
// a Sink. It can be started and stopped repeatedly; each start runs a fresh
// consumer goroutine with its own cancellation.
type Scheduler struct {
	buffer  *Buffer
	cache   FrameLookup
	sink    Sink
	cfg     SchedulerConfig
	metrics *metrics.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	displayed   atomic.Uint64
	starvations atomic.Uint64
	cacheHits   atomic.Uint64
}

// NewScheduler creates a stopped scheduler. cache may be nil.
func NewScheduler(buffer *Buffer, cache FrameLookup, sink Sink, cfg SchedulerConfig) *Scheduler {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.EmptyPoll <= 0 {
		cfg.EmptyPoll = DefaultEmptyPoll
	}
	if cfg.StarveAfter <= 0 {
		cfg.StarveAfter = DefaultStarveAfter
	}
	return &Scheduler{
		buffer:  buffer,
		cache:   cache,
		sink:    sink,
		cfg:     cfg,
		metrics: cfg.Metrics,
	}
}

// Start launches the consumer. It is a no-op while already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	logrus.WithFields(logrus.Fields{
		"function":      "Scheduler.Start",
		"base_interval": s.cfg.BaseInterval.String(),
		"buffered":      s.buffer.Len(),
	}).Info("Starting playout scheduler")

	go s.run(ctx, done)
}

// Stop cancels the consumer and waits for it to exit. Queued frames stay
// in the buffer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	logrus.WithFields(logrus.Fields{
		"function": "Scheduler.Stop",
		"buffered": s.buffer.Len(),
	}).Info("Stopped playout scheduler")
}

// Running reports whether a consumer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Displayed returns the number of frames handed to the sink.
func (s *Scheduler) Displayed() uint64 { return s.displayed.Load() }

// Starvations returns the number of starvation episodes.
func (s *Scheduler) Starvations() uint64 { return s.starvations.Load() }

// CacheHits returns how many displayed frames were served from the cache.
func (s *Scheduler) CacheHits() uint64 { return s.cacheHits.Load() }

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	empty := 0
	for {
		if ctx.Err() != nil {
			return
		}

		frame, ok := s.buffer.Pop()
		if !ok {
			empty++
			if empty == s.cfg.StarveAfter {
				s.starvations.Add(1)
				s.metrics.Starved()
				logrus.WithFields(logrus.Fields{
					"function":    "Scheduler.run",
					"empty_polls": empty,
				}).Warn("Playout buffer starved")
			}
			if !sleepCtx(ctx, s.cfg.EmptyPoll) {
				return
			}
			continue
		}
		empty = 0

		s.display(frame)

		depth := s.buffer.Len()
		s.metrics.SetBufferDepth(depth)
		interval := time.Duration(float64(s.cfg.BaseInterval) * Multiplier(depth, s.buffer.Cap()))
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

func (s *Scheduler) display(frame Frame) {
	data := frame.Data
	if s.cache != nil && frame.Fingerprint != "" {
		cached, hit := s.cache.Lookup(frame.Fingerprint)
		s.metrics.CacheLookup(hit)
		if hit {
			data = cached
			s.cacheHits.Add(1)
		}
	}

	if err := s.sink.Show(frame.FrameNumber, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":     "Scheduler.display",
			"frame_number": frame.FrameNumber,
			"error":        err.Error(),
		}).Warn("Display sink failed")
	}
	s.displayed.Add(1)
	s.metrics.FrameDisplayed()

	logrus.WithFields(logrus.Fields{
		"function":     "Scheduler.display",
		"frame_number": frame.FrameNumber,
		"size":         len(data),
	}).Debug("Displayed frame")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
