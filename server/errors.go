package server

import "errors"

var (
	// ErrServerClosed is returned by Serve after Close.
	ErrServerClosed = errors.New("server closed")

	// ErrTransport indicates a socket failure on the data plane.
	ErrTransport = errors.New("transport error")
)
