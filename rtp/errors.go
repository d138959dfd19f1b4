package rtp

import "errors"

var (
	// ErrMalformedPacket indicates a datagram that cannot hold an RTP header.
	ErrMalformedPacket = errors.New("malformed RTP packet")

	// ErrFrameTooLarge indicates a reassembly buffer crossed limits.MaxFrameSize
	// and was discarded.
	ErrFrameTooLarge = errors.New("reassembled frame too large")
)
