package rtp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderSize is the size of the fixed RTP header in bytes.
	HeaderSize = 12

	// Version is the RTP protocol version carried in every header.
	Version = 2

	// PayloadTypeMJPEG is the static RTP payload type for JPEG (RFC 3551).
	PayloadTypeMJPEG = 26
)

// Packet is a decoded RTP datagram.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16 // frame number
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

// Encode packs an RTP header and appends payload unchanged.
// The timestamp field is the current wall-clock second count.
func Encode(version, padding, extension, csrcCount uint8, sequenceNumber uint16, marker, payloadType uint8, sourceID uint32, payload []byte) []byte {
	return EncodeAt(version, padding, extension, csrcCount, sequenceNumber, marker, payloadType, sourceID, uint32(time.Now().Unix()), payload)
}

// EncodeAt is Encode with an explicit timestamp.
func EncodeAt(version, padding, extension, csrcCount uint8, sequenceNumber uint16, marker, payloadType uint8, sourceID, timestamp uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))

	// V(2) P(1) X(1) CC(4)
	buf[0] = (version&0x03)<<6 | (padding&0x01)<<5 | (extension&0x01)<<4 | csrcCount&0x0F
	// M(1) PT(7)
	buf[1] = (marker&0x01)<<7 | payloadType&0x7F
	binary.BigEndian.PutUint16(buf[2:4], sequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], timestamp)
	binary.BigEndian.PutUint32(buf[8:12], sourceID)
	copy(buf[HeaderSize:], payload)

	return buf
}

// Decode splits a datagram into header fields and payload.
//
// Reserved bits are not validated: any datagram of at least HeaderSize bytes
// decodes. The payload is copied so the caller may reuse its read buffer.
func Decode(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPacket, len(b), HeaderSize)
	}

	payload := make([]byte, len(b)-HeaderSize)
	copy(payload, b[HeaderSize:])

	return &Packet{
		Version:        b[0] >> 6,
		Padding:        b[0]&0x20 != 0,
		Extension:      b[0]&0x10 != 0,
		CSRCCount:      b[0] & 0x0F,
		Marker:         b[1]&0x80 != 0,
		PayloadType:    b[1] & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
		Payload:        payload,
	}, nil
}

// DecodeStrict decodes like Decode but also requires the header to be a
// well-formed RFC 3550 header: any CSRC list, extension or padding that the
// header claims must actually be present.
func DecodeStrict(b []byte) (*Packet, error) {
	pkt, err := Decode(b)
	if err != nil {
		return nil, err
	}

	var check rtp.Packet
	if err := check.Unmarshal(b); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DecodeStrict",
			"size":     len(b),
			"error":    err.Error(),
		}).Debug("Strict header validation failed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if pkt.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrMalformedPacket, pkt.Version)
	}

	return pkt, nil
}

// Marshal encodes the packet back into wire format, keeping its timestamp.
func (p *Packet) Marshal() []byte {
	return EncodeAt(p.Version, boolBit(p.Padding), boolBit(p.Extension), p.CSRCCount,
		p.SequenceNumber, boolBit(p.Marker), p.PayloadType, p.SSRC, p.Timestamp, p.Payload)
}

// RTP converts the packet to a pion/rtp packet. CSRC identifiers are not
// carried by this protocol, so the result has an empty CSRC list.
func (p *Packet) RTP() *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        p.Version,
			Padding:        p.Padding,
			Extension:      p.Extension,
			Marker:         p.Marker,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.SequenceNumber,
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
		},
		Payload: p.Payload,
	}
}

func boolBit(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
