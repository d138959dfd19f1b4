package rtp

import (
	"time"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/sirupsen/logrus"
)

// Fragment splits a frame into chunks of at most maxPayload bytes.
// The chunks alias frame. An empty frame yields no chunks.
func Fragment(frame []byte, maxPayload int) [][]byte {
	if len(frame) == 0 {
		return nil
	}
	if maxPayload <= 0 {
		maxPayload = limits.DefaultMaxPayload
	}

	numChunks := (len(frame) + maxPayload - 1) / maxPayload
	chunks := make([][]byte, 0, numChunks)
	for start := 0; start < len(frame); start += maxPayload {
		end := start + maxPayload
		if end > len(frame) {
			end = len(frame)
		}
		chunks = append(chunks, frame[start:end])
	}
	return chunks
}

// Packetizer turns frames into encoded datagrams.
type Packetizer struct {
	PayloadType uint8
	SSRC        uint32
	MaxPayload  int

	// Clock supplies the header timestamp. Defaults to time.Now.
	Clock func() time.Time
}

// NewPacketizer creates a packetizer with the system clock.
func NewPacketizer(payloadType uint8, ssrc uint32, maxPayload int) *Packetizer {
	if maxPayload <= 0 {
		maxPayload = limits.DefaultMaxPayload
	}
	return &Packetizer{
		PayloadType: payloadType,
		SSRC:        ssrc,
		MaxPayload:  maxPayload,
		Clock:       time.Now,
	}
}

// Packetize encodes frame as one datagram per fragment. All datagrams carry
// frameNumber as their sequence number; only the last one has the marker set.
func (p *Packetizer) Packetize(frameNumber uint16, frame []byte) [][]byte {
	chunks := Fragment(frame, p.MaxPayload)
	if len(chunks) == 0 {
		return nil
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	ts := uint32(clock().Unix())

	datagrams := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		var marker uint8
		if i == len(chunks)-1 {
			marker = 1
		}
		datagrams[i] = EncodeAt(Version, 0, 0, 0, frameNumber, marker, p.PayloadType, p.SSRC, ts, chunk)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Packetizer.Packetize",
		"frame_number": frameNumber,
		"frame_size":   len(frame),
		"fragments":    len(datagrams),
	}).Debug("Packetized frame")

	return datagrams
}
