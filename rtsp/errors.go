package rtsp

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol indicates a malformed or inapplicable control message.
	ErrProtocol = errors.New("rtsp protocol error")

	// ErrStaleReply indicates a reply whose CSeq does not match the last request.
	ErrStaleReply = fmt.Errorf("%w: stale reply", ErrProtocol)

	// ErrSessionMismatch indicates a reply for a different session.
	ErrSessionMismatch = fmt.Errorf("%w: session mismatch", ErrProtocol)

	// ErrInvalidTransition indicates a request issued from a state that does
	// not permit it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrUnknownMethod indicates a request line with an unsupported method.
	ErrUnknownMethod = fmt.Errorf("%w: unknown method", ErrProtocol)
)
