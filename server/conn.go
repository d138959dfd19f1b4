package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/google/uuid"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/rtp"
	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/opd-ai/rtspcast/source"
	"github.com/sirupsen/logrus"
)

// connHandler runs the control protocol for one client connection. It owns
// at most one session at a time.
type connHandler struct {
	server *Server
	conn   net.Conn
	id     string
	ctx    context.Context

	mu      sync.Mutex
	state   rtsp.State
	session *Session
}

func newConnHandler(ctx context.Context, s *Server, conn net.Conn) *connHandler {
	return &connHandler{
		server: s,
		conn:   conn,
		id:     uuid.NewString(),
		ctx:    ctx,
		state:  rtsp.Init,
	}
}

// serve reads requests until the connection fails or ctx is cancelled.
func (h *connHandler) serve() {
	defer h.close()

	stop := context.AfterFunc(h.ctx, func() { h.conn.Close() })
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function": "connHandler.serve",
		"conn_id":  h.id,
		"remote":   h.conn.RemoteAddr().String(),
	}).Info("Control connection accepted")

	buf := make([]byte, limits.MaxControlMessage)
	for {
		n, err := h.conn.Read(buf)
		if err != nil {
			fields := logrus.Fields{
				"function": "connHandler.serve",
				"conn_id":  h.id,
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logrus.WithFields(fields).Info("Control connection closed")
			} else {
				fields["error"] = err.Error()
				logrus.WithFields(fields).Warn("Control connection failed")
			}
			return
		}

		for _, text := range rtsp.SplitRequests(string(buf[:n])) {
			req, err := rtsp.ParseRequest(text)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "connHandler.serve",
					"conn_id":  h.id,
					"error":    err.Error(),
				}).Warn("Dropping malformed request")
				continue
			}
			h.handle(req)
		}
	}
}

// handle executes one request against the transition table.
func (h *connHandler) handle(req *rtsp.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "connHandler.handle",
		"conn_id":  h.id,
		"method":   req.Method.String(),
		"target":   req.Target,
		"cseq":     req.CSeq,
		"state":    h.state.String(),
	}).Debug("Received request")

	switch {
	case req.Method == rtsp.Setup && h.state == rtsp.Init:
		h.setup(req)
	case req.Method == rtsp.Setup:
		h.resetup(req)
	case req.Method == rtsp.Teardown && h.state == rtsp.Init:
		h.reply(req, base.StatusOK)
	case !rtsp.Permitted(req.Method, h.state):
		h.server.metrics.Request(req.Method.String(), 0)
		logrus.WithFields(logrus.Fields{
			"function": "connHandler.handle",
			"conn_id":  h.id,
			"method":   req.Method.String(),
			"state":    h.state.String(),
			"error":    rtsp.ErrInvalidTransition.Error(),
		}).Warn("Ignoring request not permitted in current state")
	case req.Method == rtsp.Play:
		h.play(req)
	case req.Method == rtsp.Pause:
		h.pause(req)
	case req.Method == rtsp.Teardown:
		h.teardown(req)
	}
}

func (h *connHandler) setup(req *rtsp.Request) {
	src, err := h.server.opener(req.Target)
	if err != nil {
		h.logFailure("connHandler.setup", req, err)
		h.reply(req, base.StatusNotFound)
		return
	}

	if req.ClientPort == 0 {
		src.Close()
		h.logFailure("connHandler.setup", req, errors.New("missing client_port"))
		h.reply(req, base.StatusInternalServerError)
		return
	}

	client := &net.UDPAddr{IP: remoteIP(h.conn), Port: req.ClientPort}
	sess, err := newSession(req.Target, src, client)
	if err != nil {
		src.Close()
		h.logFailure("connHandler.setup", req, err)
		h.reply(req, base.StatusInternalServerError)
		return
	}

	h.session = sess
	h.state = rtsp.Ready
	h.server.metrics.SessionOpened()

	logrus.WithFields(logrus.Fields{
		"function": "connHandler.setup",
		"conn_id":  h.id,
		"session":  sess.ID,
		"target":   req.Target,
		"client":   client.String(),
	}).Info("Session created")

	h.reply(req, base.StatusOK)
}

// resetup answers SETUP outside INIT: a target that cannot be opened still
// gets 404, anything else is ignored.
func (h *connHandler) resetup(req *rtsp.Request) {
	src, err := h.server.opener(req.Target)
	if err != nil {
		h.logFailure("connHandler.resetup", req, err)
		h.reply(req, base.StatusNotFound)
		return
	}
	src.Close()
	h.server.metrics.Request(req.Method.String(), 0)
	logrus.WithFields(logrus.Fields{
		"function": "connHandler.resetup",
		"conn_id":  h.id,
		"state":    h.state.String(),
	}).Warn("Ignoring SETUP on an established session")
}

func (h *connHandler) play(req *rtsp.Request) {
	sess := h.session
	if err := sess.openTransmit(h.server.cfg.DSCP); err != nil {
		h.logFailure("connHandler.play", req, err)
		h.reply(req, base.StatusInternalServerError)
		return
	}

	h.state = rtsp.Playing
	h.reply(req, base.StatusOK)

	packetizer := rtp.NewPacketizer(h.server.cfg.PayloadType, sess.ID, h.server.cfg.MaxPayload)
	if h.server.clock != nil {
		packetizer.Clock = h.server.clock
	}
	sess.startPump(h.ctx, &pump{
		packetizer: packetizer,
		interval:   h.server.cfg.FrameInterval.Std(),
		metrics:    h.server.metrics,
	})
}

func (h *connHandler) pause(req *rtsp.Request) {
	h.session.stopPump()
	h.state = rtsp.Ready
	h.reply(req, base.StatusOK)
}

// teardown releases the session before acknowledging, so no datagram
// follows the reply.
func (h *connHandler) teardown(req *rtsp.Request) {
	session := h.sessionID()
	h.destroySession()
	h.writeReply(req, base.StatusOK, session)
}

// destroySession must be called with h.mu held.
func (h *connHandler) destroySession() {
	if h.session == nil {
		return
	}
	id := h.session.ID
	h.session.close()
	h.session = nil
	h.state = rtsp.Init
	h.server.metrics.SessionClosed()

	logrus.WithFields(logrus.Fields{
		"function": "connHandler.destroySession",
		"conn_id":  h.id,
		"session":  id,
	}).Info("Session destroyed")
}

// reply writes a reply. Only 200 replies carry the session id.
func (h *connHandler) reply(req *rtsp.Request, code base.StatusCode) {
	var session string
	if code == base.StatusOK {
		session = h.sessionID()
	}
	h.writeReply(req, code, session)
}

func (h *connHandler) sessionID() string {
	if h.session == nil {
		return ""
	}
	return strconv.FormatUint(uint64(h.session.ID), 10)
}

func (h *connHandler) writeReply(req *rtsp.Request, code base.StatusCode, session string) {
	h.server.metrics.Request(req.Method.String(), int(code))

	if _, err := io.WriteString(h.conn, rtsp.FormatReply(code, req.CSeq, session)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "connHandler.writeReply",
			"conn_id":  h.id,
			"status":   int(code),
			"error":    err.Error(),
		}).Warn("Failed to write reply")
	}
}

func (h *connHandler) logFailure(function string, req *rtsp.Request, err error) {
	fields := logrus.Fields{
		"function": function,
		"conn_id":  h.id,
		"method":   req.Method.String(),
		"target":   req.Target,
		"error":    err.Error(),
	}
	if errors.Is(err, source.ErrNotFound) {
		logrus.WithFields(fields).Warn("Frame source not found")
		return
	}
	logrus.WithFields(fields).Error("Request failed")
}

func (h *connHandler) info() (SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return SessionInfo{}, false
	}
	return h.session.info(h.id, h.state), true
}

func (h *connHandler) close() {
	h.mu.Lock()
	h.destroySession()
	h.mu.Unlock()
	h.conn.Close()
	h.server.forget(h)
}

func remoteIP(conn net.Conn) net.IP {
	switch addr := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return addr.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.IPv4(127, 0, 0, 1)
		}
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
		return net.IPv4(127, 0, 0, 1)
	}
}
