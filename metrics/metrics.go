// Package metrics defines the Prometheus collectors for the rtspcast server
// and client.
//
// Collectors are registered against a caller-supplied Registerer so tests
// and multiple instances in one process do not collide on the default
// registry. Every method is safe to call on a nil receiver, which lets
// components run without metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtspcast"

// Server holds server-side collectors.
type Server struct {
	requests       *prometheus.CounterVec
	activeSessions prometheus.Gauge
	framesSent     prometheus.Counter
	packetsSent    prometheus.Counter
	sendErrors     prometheus.Counter
}

// NewServer creates and registers the server collectors.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Control requests handled, by method and reply status.",
		}, []string{"method", "status"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Sessions between SETUP and TEARDOWN.",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_sent_total",
			Help:      "Frames fully transmitted by sender pumps.",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "packets_sent_total",
			Help:      "RTP datagrams transmitted.",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "send_errors_total",
			Help:      "Datagram sends that failed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.activeSessions, m.framesSent, m.packetsSent, m.sendErrors)
	}
	return m
}

// Request counts a handled request. A zero status means no reply was sent.
func (m *Server) Request(method string, status int) {
	if m == nil {
		return
	}
	label := "none"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Server) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Server) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// FrameSent counts one transmitted frame of n datagrams.
func (m *Server) FrameSent(packets int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.packetsSent.Add(float64(packets))
}

// SendError counts a failed datagram send.
func (m *Server) SendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

// Client holds client-side collectors.
type Client struct {
	packetsReceived  prometheus.Counter
	packetsMalformed prometheus.Counter
	framesAssembled  prometheus.Counter
	framesDropped    prometheus.Counter
	framesDisplayed  prometheus.Counter
	starvations      prometheus.Counter
	cacheLookups     *prometheus.CounterVec
	bufferDepth      prometheus.Gauge
}

// NewClient creates and registers the client collectors.
func NewClient(reg prometheus.Registerer) *Client {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      name,
			Help:      help,
		})
	}
	m := &Client{
		packetsReceived:  counter("packets_received_total", "RTP datagrams received."),
		packetsMalformed: counter("packets_malformed_total", "Datagrams discarded by the decoder."),
		framesAssembled:  counter("frames_assembled_total", "Frames completed by the reassembler."),
		framesDropped:    counter("frames_dropped_total", "Completed frames discarded because the playout buffer was full."),
		framesDisplayed:  counter("frames_displayed_total", "Frames handed to the display sink."),
		starvations:      counter("buffer_starvations_total", "Times the playout buffer ran dry."),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "cache_lookups_total",
			Help:      "Frame cache lookups during playback, by result.",
		}, []string{"result"}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "playout_buffer_depth",
			Help:      "Frames waiting in the playout buffer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.packetsReceived, m.packetsMalformed, m.framesAssembled, m.framesDropped,
			m.framesDisplayed, m.starvations, m.cacheLookups, m.bufferDepth)
	}
	return m
}

// PacketReceived counts a received datagram.
func (m *Client) PacketReceived() {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
}

// PacketMalformed counts a discarded datagram.
func (m *Client) PacketMalformed() {
	if m == nil {
		return
	}
	m.packetsMalformed.Inc()
}

// FrameAssembled counts a completed frame.
func (m *Client) FrameAssembled() {
	if m == nil {
		return
	}
	m.framesAssembled.Inc()
}

// FrameDropped counts a frame rejected by a full playout buffer.
func (m *Client) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// FrameDisplayed counts a frame handed to the sink.
func (m *Client) FrameDisplayed() {
	if m == nil {
		return
	}
	m.framesDisplayed.Inc()
}

// Starved counts a starvation episode.
func (m *Client) Starved() {
	if m == nil {
		return
	}
	m.starvations.Inc()
}

// CacheLookup counts a playback cache lookup.
func (m *Client) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// SetBufferDepth records the playout buffer depth.
func (m *Client) SetBufferDepth(depth int) {
	if m == nil {
		return
	}
	m.bufferDepth.Set(float64(depth))
}
