// Package limits provides centralized size limits for the rtspcast protocols.
// This ensures consistent validation across the control and data planes.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP datagram the receiver will read.
	MaxDatagram = 65536

	// MaxControlMessage is the read buffer for one chunk of control traffic.
	// Requests and replies are short text messages that always fit.
	MaxControlMessage = 4096

	// DefaultMaxPayload is the fragment size used by the sender pump.
	// 1400 bytes plus the 12 byte RTP header stays under a 1500 byte MTU.
	DefaultMaxPayload = 1400

	// MaxPayload bounds the configurable fragment size so a header plus
	// payload always fits in one datagram.
	MaxPayload = MaxDatagram - 12 - 8 - 20

	// MaxFrameSize bounds a single reassembled frame (8 MiB). A stream of
	// fragments that never carries a marker bit is discarded once it
	// crosses this size.
	MaxFrameSize = 8 * 1024 * 1024
)

var (
	// ErrEmpty indicates an empty payload or frame was provided
	ErrEmpty = errors.New("empty payload")

	// ErrTooLarge indicates a value exceeds its maximum size
	ErrTooLarge = errors.New("size exceeds limit")
)

// ValidatePayloadSize validates a configured fragment size against MaxPayload.
func ValidatePayloadSize(n int) error {
	if n <= 0 {
		return ErrEmpty
	}
	if n > MaxPayload {
		return fmt.Errorf("%w: payload size %d exceeds limit %d", ErrTooLarge, n, MaxPayload)
	}
	return nil
}

// ValidateFrameSize validates a (partial) frame size against MaxFrameSize.
// Unlike the other validators an empty frame is accepted, since a source
// may legitimately yield a zero-length record.
func ValidateFrameSize(n int) error {
	return ValidateFrameSizeWithin(n, MaxFrameSize)
}

// ValidateFrameSizeWithin is ValidateFrameSize with an explicit bound.
func ValidateFrameSizeWithin(n, maxSize int) error {
	if n > maxSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrTooLarge, n, maxSize)
	}
	return nil
}
