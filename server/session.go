package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"sync/atomic"
	"time"

	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/opd-ai/rtspcast/source"
	"golang.org/x/net/ipv4"
)

const (
	minSessionID = 100000
	maxSessionID = 999999
)

// Session is the per-connection streaming state created by SETUP. It is
// owned by one connection handler and handed to the pump it starts.
type Session struct {
	ID         uint32
	Target     string
	ClientAddr *net.UDPAddr
	Created    time.Time

	source  source.FrameSource
	rtpConn *net.UDPConn

	cancel context.CancelFunc
	done   chan struct{}

	framesSent  atomic.Uint64
	packetsSent atomic.Uint64
	sendErrors  atomic.Uint64
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ConnID      string `json:"conn_id"`
	ID          uint32 `json:"session"`
	State       string `json:"state"`
	Target      string `json:"target"`
	ClientAddr  string `json:"client_addr"`
	FramesSent  uint64 `json:"frames_sent"`
	PacketsSent uint64 `json:"packets_sent"`
	SendErrors  uint64 `json:"send_errors"`
	Created     string `json:"created"`
}

func newSessionID() (uint32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(maxSessionID-minSessionID+1))
	if err != nil {
		return 0, fmt.Errorf("failed to generate session id: %w", err)
	}
	return uint32(n.Int64() + minSessionID), nil
}

func newSession(target string, src source.FrameSource, client *net.UDPAddr) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         id,
		Target:     target,
		ClientAddr: client,
		Created:    time.Now(),
		source:     src,
	}, nil
}

// openTransmit opens the outbound socket on first use. Later calls reuse it.
func (s *Session) openTransmit(dscp int) error {
	if s.rtpConn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("%w: open transmit socket: %v", ErrTransport, err)
	}
	if dscp > 0 {
		if err := ipv4.NewConn(conn).SetTOS(dscp << 2); err != nil {
			conn.Close()
			return fmt.Errorf("%w: set dscp %d: %v", ErrTransport, dscp, err)
		}
	}
	s.rtpConn = conn
	return nil
}

// stopPump cancels the running pump, if any, and waits for it to exit.
func (s *Session) stopPump() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// close releases everything the session holds.
func (s *Session) close() {
	s.stopPump()
	if s.rtpConn != nil {
		s.rtpConn.Close()
		s.rtpConn = nil
	}
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
}

func (s *Session) info(connID string, state rtsp.State) SessionInfo {
	info := SessionInfo{
		ConnID:      connID,
		ID:          s.ID,
		State:       state.String(),
		Target:      s.Target,
		FramesSent:  s.framesSent.Load(),
		PacketsSent: s.packetsSent.Load(),
		SendErrors:  s.sendErrors.Load(),
		Created:     s.Created.UTC().Format(time.RFC3339),
	}
	if s.ClientAddr != nil {
		info.ClientAddr = s.ClientAddr.String()
	}
	return info
}
