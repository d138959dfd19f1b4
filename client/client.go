// Package client implements the streaming client: the control protocol
// state machine, the RTP receiver that reassembles frames, and the playout
// pipeline that hands them to a display sink.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/opd-ai/rtspcast/cache"
	"github.com/opd-ai/rtspcast/config"
	"github.com/opd-ai/rtspcast/display"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/playout"
	"github.com/opd-ai/rtspcast/rtp"
	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/sirupsen/logrus"
)

// replyPollInterval bounds each blocking read of the reply reader.
const replyPollInterval = 500 * time.Millisecond

// Client is one viewer of one stream.
type Client struct {
	cfg     config.Client
	metrics *metrics.Client

	cache     *cache.FrameCache
	buffer    *playout.Buffer
	scheduler *playout.Scheduler
	fileSink  *display.FileSink
	counters  counters

	mu            sync.Mutex
	conn          net.Conn
	state         rtsp.State
	cseq          int
	lastMethod    rtsp.Method
	session       string
	teardownAcked bool
	receiver      *receiver
	assembler     *rtp.Assembler
	closed        bool
	readerDone    chan struct{}
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	metrics *metrics.Client
	sinks   []display.Sink
}

// WithMetrics records client activity in m.
func WithMetrics(m *metrics.Client) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSink adds a display sink next to the cache file writer.
func WithSink(sink display.Sink) Option {
	return func(o *clientOptions) { o.sinks = append(o.sinks, sink) }
}

// New creates a disconnected client.
func New(cfg config.Client, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:      cfg,
		metrics:  o.metrics,
		cache:    cache.New(cfg.CacheCapacity),
		buffer:   playout.NewBuffer(cfg.BufferCapacity),
		fileSink: display.NewFileSink(cfg.CacheDir),
		state:    rtsp.Init,
	}
	sinks := append(display.MultiSink{c.fileSink, display.LogSink{}}, o.sinks...)
	c.scheduler = playout.NewScheduler(c.buffer, c.cache, sinks, playout.SchedulerConfig{
		BaseInterval: cfg.BaseInterval.Std(),
		Metrics:      o.metrics,
	})
	return c, nil
}

// Connect dials the control connection and starts the reply reader.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}

	addr := net.JoinHostPort(c.cfg.ServerAddr, strconv.Itoa(c.cfg.ServerPort))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.Connect",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to connect to server")
		return fmt.Errorf("%w: connect %s: %v", ErrTransport, addr, err)
	}

	c.conn = conn
	c.teardownAcked = false
	c.readerDone = make(chan struct{})
	go c.readReplies(conn, c.readerDone)

	logrus.WithFields(logrus.Fields{
		"function": "Client.Connect",
		"addr":     addr,
	}).Info("Connected to server")
	return nil
}

// Setup requests a session for the configured file.
func (c *Client) Setup() error { return c.SendRequest(rtsp.Setup) }

// Play starts or resumes the stream.
func (c *Client) Play() error { return c.SendRequest(rtsp.Play) }

// Pause stops playback without ending the session.
func (c *Client) Pause() error { return c.SendRequest(rtsp.Pause) }

// Teardown ends the session.
func (c *Client) Teardown() error { return c.SendRequest(rtsp.Teardown) }

// SendRequest issues method if the current state permits it. A request
// that is not permitted is discarded before any network I/O and leaves the
// CSeq unchanged.
func (c *Client) SendRequest(method rtsp.Method) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}

	c.cseq++
	if !rtsp.Permitted(method, c.state) {
		c.cseq--
		logrus.WithFields(logrus.Fields{
			"function": "Client.SendRequest",
			"method":   method.String(),
			"state":    c.state.String(),
		}).Debug("Request not permitted in current state")
		return fmt.Errorf("%w: %s in state %s", rtsp.ErrInvalidTransition, method, c.state)
	}

	req := rtsp.Request{
		Method:     method,
		Target:     c.cfg.FileName,
		CSeq:       strconv.Itoa(c.cseq),
		Session:    c.session,
		ClientPort: c.cfg.RTPPort,
	}
	if _, err := io.WriteString(c.conn, req.Marshal()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.SendRequest",
			"method":   method.String(),
			"error":    err.Error(),
		}).Error("Failed to send request")
		return fmt.Errorf("%w: send %s: %v", ErrTransport, method, err)
	}
	c.lastMethod = method

	logrus.WithFields(logrus.Fields{
		"function": "Client.SendRequest",
		"method":   method.String(),
		"cseq":     c.cseq,
	}).Debug("Sent request")
	return nil
}

// HandleReply applies one reply to the state machine. Replies that are
// malformed, stale, for another session or not 200 are rejected without a
// state change.
func (c *Client) HandleReply(text string) error {
	reply, err := rtsp.ParseReply(text)
	if err != nil {
		return err
	}
	if !reply.HasCSeq {
		return fmt.Errorf("%w: reply without CSeq", rtsp.ErrProtocol)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cseq == 0 || reply.CSeq != c.cseq {
		return fmt.Errorf("%w: CSeq %d, expected %d", rtsp.ErrStaleReply, reply.CSeq, c.cseq)
	}
	if reply.StatusCode != base.StatusOK {
		return fmt.Errorf("%w: %s returned %d %s", ErrRequestFailed, c.lastMethod, reply.StatusCode, reply.Reason)
	}
	if c.session == "" {
		c.session = reply.Session
	} else if reply.Session != c.session {
		return fmt.Errorf("%w: got %q, expected %q", rtsp.ErrSessionMismatch, reply.Session, c.session)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.HandleReply",
		"method":   c.lastMethod.String(),
		"cseq":     reply.CSeq,
		"session":  c.session,
	}).Debug("Applying reply")

	switch c.lastMethod {
	case rtsp.Setup:
		c.state = rtsp.Ready
		return c.startReceiver()
	case rtsp.Play:
		c.state = rtsp.Playing
		c.scheduler.Start()
	case rtsp.Pause:
		c.state = rtsp.Ready
		c.scheduler.Stop()
	case rtsp.Teardown:
		c.state = rtsp.Init
		c.teardownAcked = true
		c.scheduler.Stop()
		c.stopReceiver()
		c.session = ""
	}
	return nil
}

// startReceiver binds the RTP port. Must be called with c.mu held.
func (c *Client) startReceiver() error {
	if c.receiver != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: c.cfg.RTPPort})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Client.startReceiver",
			"port":     c.cfg.RTPPort,
			"error":    err.Error(),
		}).Error("Failed to bind RTP port")
		return fmt.Errorf("%w: bind rtp port %d: %v", ErrTransport, c.cfg.RTPPort, err)
	}

	if id, err := strconv.ParseUint(c.session, 10, 32); err == nil {
		c.fileSink.SetSession(uint32(id))
	}

	decode := rtp.Decode
	if c.cfg.StrictDecode {
		decode = rtp.DecodeStrict
	}
	c.assembler = rtp.NewAssembler()
	c.receiver = &receiver{
		conn:      conn,
		timeout:   c.cfg.SocketTimeout.Std(),
		decode:    decode,
		assembler: c.assembler,
		cache:     c.cache,
		buffer:    c.buffer,
		metrics:   c.metrics,
		counters:  &c.counters,
	}
	c.receiver.start()
	return nil
}

// stopReceiver must be called with c.mu held.
func (c *Client) stopReceiver() {
	if c.receiver == nil {
		return
	}
	c.receiver.stop()
	c.receiver = nil
}

// readReplies applies replies until the connection fails or a TEARDOWN is
// acknowledged, then closes the connection.
func (c *Client) readReplies(conn net.Conn, done chan struct{}) {
	defer close(done)
	defer conn.Close()
	defer c.detach(conn)

	buf := make([]byte, limits.MaxControlMessage)
	var pending string
	for {
		if c.finished() {
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(replyPollInterval)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// A quiet line means the held reply is all there is.
				c.applyReplies(rtsp.SplitReplies(pending))
				pending = ""
				continue
			}
			if !c.finished() {
				logrus.WithFields(logrus.Fields{
					"function": "Client.readReplies",
					"error":    err.Error(),
				}).Warn("Control connection lost")
			}
			return
		}

		var replies []string
		replies, pending = rtsp.SplitCompleteReplies(pending + string(buf[:n]))
		if len(pending) > limits.MaxControlMessage {
			replies = append(replies, rtsp.SplitReplies(pending)...)
			pending = ""
		}
		c.applyReplies(replies)
	}
}

func (c *Client) applyReplies(replies []string) {
	for _, text := range replies {
		if err := c.HandleReply(text); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Client.readReplies",
				"error":    err.Error(),
			}).Warn("Rejected reply")
		}
	}
}

// finished reports whether the reader should stop.
func (c *Client) finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.teardownAcked
}

func (c *Client) detach(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

// Done is closed when the reply reader of the current connection exits.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readerDone == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return c.readerDone
}

// Close stops every task, closes both sockets and removes the cache file.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.scheduler.Stop()
	c.stopReceiver()
	conn, done := c.conn, c.readerDone
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if done != nil {
		<-done
	}

	logrus.WithFields(logrus.Fields{
		"function": "Client.Close",
	}).Info("Client closed")
	return c.fileSink.Remove()
}

// State returns the current session state.
func (c *Client) State() rtsp.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the latched session id, or "" before SETUP succeeds.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// CSeq returns the sequence number of the last request sent.
func (c *Client) CSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cseq
}

// Buffer exposes the playout buffer.
func (c *Client) Buffer() *playout.Buffer { return c.buffer }

// Cache exposes the frame cache.
func (c *Client) Cache() *cache.FrameCache { return c.cache }

// CacheFile returns the path of the display cache file.
func (c *Client) CacheFile() string { return c.fileSink.Path() }

// Stats is a snapshot of the client pipeline.
type Stats struct {
	State            string             `json:"state"`
	Session          string             `json:"session"`
	CSeq             int                `json:"cseq"`
	BufferDepth      int                `json:"buffer_depth"`
	BufferCapacity   int                `json:"buffer_capacity"`
	Cache            cache.Stats        `json:"cache"`
	CacheHitRate     float64            `json:"cache_hit_rate"`
	PacketsReceived  uint64             `json:"packets_received"`
	MalformedPackets uint64             `json:"malformed_packets"`
	FramesReceived   uint64             `json:"frames_received"`
	FramesDropped    uint64             `json:"frames_dropped"`
	FramesDisplayed  uint64             `json:"frames_displayed"`
	Starvations      uint64             `json:"starvations"`
	Reassembly       rtp.AssemblerStats `json:"reassembly"`
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	state, session, cseq, assembler := c.state, c.session, c.cseq, c.assembler
	c.mu.Unlock()

	stats := Stats{
		State:            state.String(),
		Session:          session,
		CSeq:             cseq,
		BufferDepth:      c.buffer.Len(),
		BufferCapacity:   c.buffer.Cap(),
		Cache:            c.cache.Stats(),
		CacheHitRate:     c.cache.HitRate(),
		PacketsReceived:  c.counters.packets.Load(),
		MalformedPackets: c.counters.malformed.Load(),
		FramesReceived:   c.counters.frames.Load(),
		FramesDropped:    c.counters.dropped.Load(),
		FramesDisplayed:  c.scheduler.Displayed(),
		Starvations:      c.scheduler.Starvations(),
	}
	if assembler != nil {
		stats.Reassembly = assembler.Stats()
	}
	return stats
}
