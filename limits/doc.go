// Package limits provides centralized size constants and validation functions
// shared by the rtspcast server and client.
//
// # Size Hierarchy
//
//   - DefaultMaxPayload (1400 bytes): the fragment size of one RTP datagram
//     payload. Together with the 12 byte RTP header and IP/UDP overhead it fits
//     a standard Ethernet MTU.
//
//   - MaxDatagram (64 KiB): the receive buffer for one UDP datagram.
//
//   - MaxControlMessage (4 KiB): the read size for one chunk of RTSP control
//     traffic.
//
//   - MaxFrameSize (8 MiB): the largest frame the client will reassemble.
//     Fragments keep accumulating until a marker bit arrives, so without this
//     bound a lost final fragment followed by marker-less traffic would grow
//     the reassembly buffer without limit.
//
// # Validation Functions
//
//	if err := limits.ValidatePayloadSize(cfg.MaxPayload); err != nil {
//	    // ErrEmpty or ErrTooLarge
//	}
//
// Errors wrap ErrEmpty or ErrTooLarge and can be classified with errors.Is.
package limits
