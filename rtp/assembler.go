package rtp

import (
	"fmt"
	"sync"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/sirupsen/logrus"
)

// Assembler reconstructs frames from fragments.
//
// It follows the most recently seen frame number: a packet whose number
// differs from the current one discards whatever was accumulated and starts
// a new frame. Fragments within one frame are assumed to arrive in
// transmission order.
type Assembler struct {
	mu          sync.Mutex
	frameNumber uint16
	started     bool
	buf         []byte
	maxSize     int

	resets  uint64
	gaps    uint64
	dropped uint64
}

// NewAssembler creates an assembler bounded by limits.MaxFrameSize.
func NewAssembler() *Assembler {
	return NewAssemblerWithLimit(limits.MaxFrameSize)
}

// NewAssemblerWithLimit creates an assembler with a custom frame size bound.
func NewAssemblerWithLimit(maxSize int) *Assembler {
	if maxSize <= 0 {
		maxSize = limits.MaxFrameSize
	}
	return &Assembler{maxSize: maxSize}
}

// Push adds a packet. When the packet carries the marker bit the completed
// frame is returned with complete set and the buffer is cleared.
func (a *Assembler) Push(pkt *Packet) (frame []byte, frameNumber uint16, complete bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || pkt.SequenceNumber != a.frameNumber {
		if a.started && len(a.buf) > 0 {
			a.resets++
			logrus.WithFields(logrus.Fields{
				"function":       "Assembler.Push",
				"previous_frame": a.frameNumber,
				"new_frame":      pkt.SequenceNumber,
				"discarded":      len(a.buf),
			}).Debug("Discarding incomplete frame")
		}
		if a.started && pkt.SequenceNumber > a.frameNumber+1 {
			a.gaps++
			logrus.WithFields(logrus.Fields{
				"function": "Assembler.Push",
				"expected": a.frameNumber + 1,
				"received": pkt.SequenceNumber,
			}).Warn("Frame gap detected")
		}
		a.buf = a.buf[:0]
		a.frameNumber = pkt.SequenceNumber
		a.started = true
	}

	if err := limits.ValidateFrameSizeWithin(len(a.buf)+len(pkt.Payload), a.maxSize); err != nil {
		a.buf = a.buf[:0]
		a.dropped++
		return nil, pkt.SequenceNumber, false, fmt.Errorf("%w: frame %d: %v", ErrFrameTooLarge, pkt.SequenceNumber, err)
	}
	a.buf = append(a.buf, pkt.Payload...)

	if !pkt.Marker {
		return nil, pkt.SequenceNumber, false, nil
	}

	frame = make([]byte, len(a.buf))
	copy(frame, a.buf)
	a.buf = a.buf[:0]

	return frame, pkt.SequenceNumber, true, nil
}

// Reset clears the buffer and forgets the current frame number.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf = a.buf[:0]
	a.started = false
}

// Pending returns the number of bytes held for the current frame.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}

// AssemblerStats counts frames lost during reassembly.
type AssemblerStats struct {
	Resets  uint64 // incomplete frames discarded by a frame number change
	Gaps    uint64 // forward jumps of more than one frame number
	Dropped uint64 // frames discarded by the size guard
}

// Stats returns the current reassembly counters.
func (a *Assembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AssemblerStats{Resets: a.resets, Gaps: a.gaps, Dropped: a.dropped}
}
