// Package rtp implements the data plane of rtspcast: the 12 byte RTP header
// codec, fragmentation of Motion-JPEG frames into datagrams, and reassembly of
// fragments back into frames on the receiving side.
//
// # Wire Format
//
// Every datagram carries the fixed RTP header followed by one fragment of a
// frame:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|X|  CC   |M|     PT      |  sequence number (frame nbr)  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                  timestamp (wall clock seconds)               |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                              SSRC                             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// The sequence number is the frame number, not a datagram counter: every
// fragment of one frame carries the same value and the marker bit is set on
// the final fragment only.
//
// # Packetization
//
//	p := rtp.NewPacketizer(rtp.PayloadTypeMJPEG, 0, limits.DefaultMaxPayload)
//	for _, datagram := range p.Packetize(frameNumber, frame) {
//	    conn.WriteToUDP(datagram, clientAddr)
//	}
//
// # Reassembly
//
//	asm := rtp.NewAssembler()
//	pkt, err := rtp.Decode(datagram)
//	if err != nil {
//	    // drop; the assembler state is untouched
//	}
//	frame, frameNumber, complete, err := asm.Push(pkt)
//
// Decode is lenient and only rejects datagrams shorter than the header.
// DecodeStrict additionally validates the header with github.com/pion/rtp.
package rtp
