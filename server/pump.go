package server

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/rtp"
	"github.com/sirupsen/logrus"
)

type pump struct {
	session    *Session
	packetizer *rtp.Packetizer
	interval   time.Duration
	metrics    *metrics.Server
}

// startPump launches a pump with a fresh cancellation derived from parent.
func (s *Session) startPump(parent context.Context, p *pump) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	p.session = s

	go func() {
		defer close(done)
		p.run(ctx)
	}()
}

// run sends one frame per interval until ctx is cancelled. An exhausted
// source is polled again on the next tick.
func (p *pump) run(ctx context.Context) {
	sess := p.session
	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "pump.run",
		"session":  sess.ID,
		"client":   sess.ClientAddr.String(),
		"interval": p.interval.String(),
	}).Info("Sender pump started")

	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "pump.run",
				"session":  sess.ID,
				"frames":   sess.framesSent.Load(),
			}).Info("Sender pump stopped")
			return
		case <-timer.C:
		}

		frame, err := sess.source.NextFrame()
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"function": "pump.run",
				"session":  sess.ID,
				"error":    err.Error(),
			}).Error("Frame source failed, ending pump")
			return
		case len(frame) > 0 && ctx.Err() == nil:
			p.send(ctx, uint16(sess.source.FrameNumber()), frame)
		}
		timer.Reset(p.interval)
	}
}

// send transmits the fragments of one frame. A failed write abandons the
// rest of the frame.
func (p *pump) send(ctx context.Context, frameNumber uint16, frame []byte) {
	sess := p.session
	datagrams := p.packetizer.Packetize(frameNumber, frame)

	sent := 0
	for _, datagram := range datagrams {
		if ctx.Err() != nil {
			return
		}
		if _, err := sess.rtpConn.WriteToUDP(datagram, sess.ClientAddr); err != nil {
			sess.sendErrors.Add(1)
			p.metrics.SendError()
			logrus.WithFields(logrus.Fields{
				"function":     "pump.send",
				"session":      sess.ID,
				"frame_number": frameNumber,
				"fragment":     sent,
				"error":        err.Error(),
			}).Warn("Failed to send fragment")
			return
		}
		sent++
	}

	sess.framesSent.Add(1)
	sess.packetsSent.Add(uint64(sent))
	p.metrics.FrameSent(sent)
}
