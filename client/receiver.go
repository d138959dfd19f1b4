package client

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtspcast/cache"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/playout"
	"github.com/opd-ai/rtspcast/rtp"
	"github.com/sirupsen/logrus"
)

// counters accumulate receive statistics across sessions.
type counters struct {
	packets   atomic.Uint64
	malformed atomic.Uint64
	frames    atomic.Uint64
	dropped   atomic.Uint64
}

// receiver turns datagrams on the RTP socket into buffered frames.
type receiver struct {
	conn      *net.UDPConn
	timeout   time.Duration
	decode    func([]byte) (*rtp.Packet, error)
	assembler *rtp.Assembler
	cache     *cache.FrameCache
	buffer    *playout.Buffer
	metrics   *metrics.Client
	counters  *counters

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *receiver) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx)
}

// stop cancels the loop, closes the socket and waits for the loop to exit.
func (r *receiver) stop() {
	r.cancel()
	r.conn.Close()
	<-r.done
}

func (r *receiver) run(ctx context.Context) {
	defer close(r.done)

	logrus.WithFields(logrus.Fields{
		"function": "receiver.run",
		"addr":     r.conn.LocalAddr().String(),
	}).Info("Receiver started")

	buf := make([]byte, limits.MaxDatagram)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			r.logStop(ctx, err)
			return
		}
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.logStop(ctx, err)
			return
		}
		r.handle(buf[:n])
	}
}

func (r *receiver) logStop(ctx context.Context, err error) {
	if ctx.Err() != nil {
		logrus.WithFields(logrus.Fields{
			"function": "receiver.run",
			"frames":   r.counters.frames.Load(),
		}).Info("Receiver stopped")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "receiver.run",
		"error":    err.Error(),
	}).Error("Receive socket failed")
}

// handle processes one datagram.
func (r *receiver) handle(datagram []byte) {
	r.counters.packets.Add(1)
	r.metrics.PacketReceived()

	pkt, err := r.decode(datagram)
	if err != nil {
		r.counters.malformed.Add(1)
		r.metrics.PacketMalformed()
		logrus.WithFields(logrus.Fields{
			"function": "receiver.handle",
			"size":     len(datagram),
			"error":    err.Error(),
		}).Debug("Dropping undecodable datagram")
		return
	}

	frame, frameNumber, complete, err := r.assembler.Push(pkt)
	if err != nil {
		r.counters.dropped.Add(1)
		r.metrics.FrameDropped()
		logrus.WithFields(logrus.Fields{
			"function":     "receiver.handle",
			"frame_number": frameNumber,
			"error":        err.Error(),
		}).Warn("Dropping oversized frame")
		return
	}
	if !complete {
		return
	}

	fingerprint := cache.Fingerprint(frame)
	r.cache.Insert(fingerprint, frame)

	if !r.buffer.Push(playout.Frame{FrameNumber: frameNumber, Data: frame, Fingerprint: fingerprint}) {
		r.counters.dropped.Add(1)
		r.metrics.FrameDropped()
		logrus.WithFields(logrus.Fields{
			"function":     "receiver.handle",
			"frame_number": frameNumber,
			"capacity":     r.buffer.Cap(),
		}).Debug("Playout buffer full, dropping frame")
		return
	}
	r.counters.frames.Add(1)
	r.metrics.FrameAssembled()
	r.metrics.SetBufferDepth(r.buffer.Len())
}
