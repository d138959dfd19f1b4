package client

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtspcast/rtsp"
)

var (
	// ErrNotConnected is returned by requests issued before Connect.
	ErrNotConnected = errors.New("control connection not established")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client closed")

	// ErrTransport indicates a socket failure.
	ErrTransport = errors.New("transport error")

	// ErrRequestFailed indicates a reply with a status other than 200.
	ErrRequestFailed = fmt.Errorf("%w: request failed", rtsp.ErrProtocol)
)
