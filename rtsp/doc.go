// Package rtsp implements the text control protocol shared by the rtspcast
// server and client: the closed set of request methods, the session states,
// the transition table both sides enforce, and the request/reply codec.
//
// Requests are CRLF separated:
//
//	SETUP movie.Mjpeg RTSP/1.0
//	CSeq: 1
//	Transport: RTP/UDP; client_port=25000
//
// Replies use bare newlines:
//
//	RTSP/1.0 200 OK
//	CSeq: 1
//	Session: 123456
//
// Both parsers accept either terminator. Method names and status codes are
// the github.com/bluenviron/gortsplib/v4/pkg/base definitions.
package rtsp
