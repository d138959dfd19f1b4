package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/rtspcast/cache"
	"github.com/opd-ai/rtspcast/config"
	"github.com/opd-ai/rtspcast/limits"
	"github.com/opd-ai/rtspcast/rtp"
	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSession = "123456"

// fakeServer accepts one control connection and lets the test script it.
type fakeServer struct {
	ln   net.Listener
	conn chan net.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fs := &fakeServer{ln: ln, conn: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			fs.conn <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return fs
}

func (fs *fakeServer) port() int {
	return fs.ln.Addr().(*net.TCPAddr).Port
}

func (fs *fakeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-fs.conn:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
		return nil
	}
}

func readRequest(t *testing.T, conn net.Conn) *rtsp.Request {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	req, err := rtsp.ParseRequest(string(buf[:n]))
	require.NoError(t, err)
	return req
}

func expectNoRequest(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	n, err := conn.Read(make([]byte, 1024))
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "unexpected %d bytes", n)
}

func okReply(cseq int, session string) string {
	return fmt.Sprintf("RTSP/1.0 200 OK\nCSeq: %d\nSession: %s", cseq, session)
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return port
}

func testConfig(t *testing.T, serverPort int) config.Client {
	cfg := config.DefaultClient()
	cfg.ServerAddr = "127.0.0.1"
	cfg.ServerPort = serverPort
	cfg.RTPPort = freeUDPPort(t)
	cfg.CacheDir = t.TempDir()
	cfg.BaseInterval = config.Duration(10 * time.Millisecond)
	cfg.SocketTimeout = config.Duration(50 * time.Millisecond)
	return cfg
}

func connectedClient(t *testing.T, mutate func(*config.Client)) (*Client, net.Conn) {
	t.Helper()
	fs := newFakeServer(t)
	cfg := testConfig(t, fs.port())
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	return c, fs.accept(t)
}

// setupClient drives the client to READY by applying the SETUP reply
// directly.
func setupClient(t *testing.T, c *Client, conn net.Conn) {
	t.Helper()
	require.NoError(t, c.Setup())
	readRequest(t, conn)
	require.NoError(t, c.HandleReply(okReply(1, testSession)))
	require.Equal(t, rtsp.Ready, c.State())
}

func TestSendRequestBeforeConnect(t *testing.T) {
	c, err := New(testConfig(t, 8554))
	require.NoError(t, err)
	assert.ErrorIs(t, c.Setup(), ErrNotConnected)
	assert.Equal(t, 0, c.CSeq())
}

func TestRequestFormat(t *testing.T) {
	c, conn := connectedClient(t, nil)

	require.NoError(t, c.Setup())
	req := readRequest(t, conn)
	assert.Equal(t, rtsp.Setup, req.Method)
	assert.Equal(t, "movie.Mjpeg", req.Target)
	assert.Equal(t, "1", req.CSeq)
	assert.Equal(t, c.cfg.RTPPort, req.ClientPort)
	assert.Empty(t, req.Session)

	require.NoError(t, c.HandleReply(okReply(1, testSession)))
	require.NoError(t, c.Play())
	req = readRequest(t, conn)
	assert.Equal(t, rtsp.Play, req.Method)
	assert.Equal(t, "2", req.CSeq)
	assert.Equal(t, testSession, req.Session)
	assert.Zero(t, req.ClientPort)
}

func TestInvalidTransitionsNotSent(t *testing.T) {
	c, conn := connectedClient(t, nil)

	for _, m := range []rtsp.Method{rtsp.Play, rtsp.Pause, rtsp.Teardown} {
		assert.ErrorIs(t, c.SendRequest(m), rtsp.ErrInvalidTransition, m.String())
	}
	assert.Equal(t, 0, c.CSeq())
	assert.Equal(t, rtsp.Init, c.State())
	expectNoRequest(t, conn)

	setupClient(t, c, conn)
	for _, m := range []rtsp.Method{rtsp.Setup, rtsp.Pause} {
		assert.ErrorIs(t, c.SendRequest(m), rtsp.ErrInvalidTransition, m.String())
	}
	assert.Equal(t, 1, c.CSeq())
	expectNoRequest(t, conn)

	require.NoError(t, c.Play())
	readRequest(t, conn)
	require.NoError(t, c.HandleReply(okReply(2, testSession)))
	require.Equal(t, rtsp.Playing, c.State())
	for _, m := range []rtsp.Method{rtsp.Setup, rtsp.Play} {
		assert.ErrorIs(t, c.SendRequest(m), rtsp.ErrInvalidTransition, m.String())
	}
	assert.Equal(t, 2, c.CSeq())
	expectNoRequest(t, conn)
}

func TestReplyRejection(t *testing.T) {
	c, conn := connectedClient(t, nil)
	setupClient(t, c, conn)
	require.NoError(t, c.Play())
	readRequest(t, conn)

	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{
			name:    "Stale CSeq",
			reply:   okReply(1, testSession),
			wantErr: rtsp.ErrStaleReply,
		},
		{
			name:    "Session mismatch",
			reply:   okReply(2, "654321"),
			wantErr: rtsp.ErrSessionMismatch,
		},
		{
			name:    "Missing CSeq",
			reply:   "RTSP/1.0 200 OK\nSession: " + testSession,
			wantErr: rtsp.ErrProtocol,
		},
		{
			name:    "Non-numeric status",
			reply:   "RTSP/1.0 OK\nCSeq: 2",
			wantErr: rtsp.ErrProtocol,
		},
		{
			name:    "Error status",
			reply:   "RTSP/1.0 500 Internal Server Error\nCSeq: 2",
			wantErr: ErrRequestFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.HandleReply(tt.reply), tt.wantErr)
			assert.Equal(t, rtsp.Ready, c.State())
			assert.Equal(t, testSession, c.Session())
		})
	}

	// Header names are matched case-insensitively and CRLF is accepted.
	require.NoError(t, c.HandleReply("RTSP/1.0 200 OK\r\ncseq: 2\r\nSESSION: "+testSession))
	assert.Equal(t, rtsp.Playing, c.State())
}

func TestReplyBeforeAnyRequest(t *testing.T) {
	c, _ := connectedClient(t, nil)
	assert.ErrorIs(t, c.HandleReply("RTSP/1.0 200 OK\nCSeq: 0\nSession: 1"), rtsp.ErrStaleReply)
	assert.Equal(t, rtsp.Init, c.State())
}

func TestLifecycleOverConnection(t *testing.T) {
	c, conn := connectedClient(t, nil)

	steps := []struct {
		send func() error
		want rtsp.State
	}{
		{c.Setup, rtsp.Ready},
		{c.Play, rtsp.Playing},
		{c.Pause, rtsp.Ready},
		{c.Play, rtsp.Playing},
		{c.Teardown, rtsp.Init},
	}
	for i, step := range steps {
		require.NoError(t, step.send())
		req := readRequest(t, conn)
		cseq, err := strconv.Atoi(req.CSeq)
		require.NoError(t, err)
		assert.Equal(t, i+1, cseq)

		_, err = conn.Write([]byte(okReply(cseq, testSession)))
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return c.State() == step.want }, 2*time.Second, 5*time.Millisecond,
			"step %d", i+1)
	}

	// The reader closes the control connection once TEARDOWN is acknowledged.
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reply reader did not exit after teardown")
	}
	assert.Empty(t, c.Session())
	assert.ErrorIs(t, c.Setup(), ErrNotConnected)
}

func TestReplySplitAcrossReads(t *testing.T) {
	c, conn := connectedClient(t, nil)

	require.NoError(t, c.Setup())
	readRequest(t, conn)
	_, err := conn.Write([]byte("RTSP/1.0 200 OK\nCSeq: 1\n"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, rtsp.Init, c.State())
	_, err = conn.Write([]byte("Session: " + testSession))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.State() == rtsp.Ready }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, testSession, c.Session())

	require.NoError(t, c.Play())
	req := readRequest(t, conn)
	assert.Equal(t, rtsp.Play, req.Method)
	assert.Equal(t, testSession, req.Session)
}

func TestPauseKeepsReceiving(t *testing.T) {
	c, conn := connectedClient(t, nil)
	setupClient(t, c, conn)

	require.NoError(t, c.Play())
	readRequest(t, conn)
	require.NoError(t, c.HandleReply(okReply(2, testSession)))
	require.NoError(t, c.Pause())
	readRequest(t, conn)
	require.NoError(t, c.HandleReply(okReply(3, testSession)))
	require.Equal(t, rtsp.Ready, c.State())
	assert.False(t, c.scheduler.Running())

	displayed := c.Stats().FramesDisplayed
	p := rtp.NewPacketizer(rtp.PayloadTypeMJPEG, 123456, limits.DefaultMaxPayload)
	sendDatagrams(t, c.cfg.RTPPort, p.Packetize(9, makeFrame(3000, 9))...)

	require.Eventually(t, func() bool { return c.Buffer().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	// Several base intervals pass without the queue draining.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, c.Buffer().Len())
	assert.Equal(t, uint16(9), c.Buffer().Frames()[0].FrameNumber)
	stats := c.Stats()
	assert.Equal(t, displayed, stats.FramesDisplayed)
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, "READY", stats.State)
}

func sendDatagrams(t *testing.T, port int, datagrams ...[]byte) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	defer conn.Close()
	for _, d := range datagrams {
		_, err := conn.Write(d)
		require.NoError(t, err)
	}
}

func makeFrame(size int, seed byte) []byte {
	frame := make([]byte, size)
	for i := range frame {
		frame[i] = seed + byte(i)
	}
	return frame
}

func TestReceiverPipeline(t *testing.T) {
	c, conn := connectedClient(t, nil)
	setupClient(t, c, conn)

	first, second := makeFrame(3000, 1), makeFrame(500, 2)
	p := rtp.NewPacketizer(rtp.PayloadTypeMJPEG, 123456, limits.DefaultMaxPayload)
	var datagrams [][]byte
	datagrams = append(datagrams, p.Packetize(1, first)...)
	datagrams = append(datagrams, []byte{0x80, 0x1a, 0, 1, 0})
	datagrams = append(datagrams, p.Packetize(2, second)...)
	sendDatagrams(t, c.cfg.RTPPort, datagrams...)

	require.Eventually(t, func() bool { return c.Buffer().Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	frames := c.Buffer().Frames()
	assert.Equal(t, uint16(1), frames[0].FrameNumber)
	assert.Equal(t, first, frames[0].Data)
	assert.Equal(t, uint16(2), frames[1].FrameNumber)
	assert.Equal(t, second, frames[1].Data)
	assert.True(t, c.Cache().Contains(cache.Fingerprint(first)))
	assert.True(t, c.Cache().Contains(cache.Fingerprint(second)))

	stats := c.Stats()
	assert.Equal(t, uint64(5), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.MalformedPackets)
	assert.Equal(t, uint64(2), stats.FramesReceived)
	assert.Equal(t, "READY", stats.State)
}

func TestReceiverDropsWhenBufferFull(t *testing.T) {
	c, conn := connectedClient(t, func(cfg *config.Client) { cfg.BufferCapacity = 1 })
	setupClient(t, c, conn)

	p := rtp.NewPacketizer(rtp.PayloadTypeMJPEG, 1, limits.DefaultMaxPayload)
	var datagrams [][]byte
	for i := 1; i <= 3; i++ {
		datagrams = append(datagrams, p.Packetize(uint16(i), makeFrame(100, byte(i)))...)
	}
	sendDatagrams(t, c.cfg.RTPPort, datagrams...)

	require.Eventually(t, func() bool { return c.Stats().FramesDropped == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Buffer().Len())
	assert.Equal(t, uint16(1), c.Buffer().Frames()[0].FrameNumber)
	// Dropped frames are still cached.
	assert.Equal(t, 3, c.Cache().Len())
}

func TestStrictDecode(t *testing.T) {
	// The header claims three CSRC identifiers that are not present.
	bogus := rtp.Encode(2, 0, 0, 3, 7, 1, rtp.PayloadTypeMJPEG, 1, []byte{0xAA, 0xBB})

	tests := []struct {
		name       string
		strict     bool
		wantFrames int
	}{
		{name: "Lenient", strict: false, wantFrames: 1},
		{name: "Strict", strict: true, wantFrames: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, conn := connectedClient(t, func(cfg *config.Client) { cfg.StrictDecode = tt.strict })
			setupClient(t, c, conn)

			sendDatagrams(t, c.cfg.RTPPort, bogus)
			require.Eventually(t, func() bool { return c.Stats().PacketsReceived == 1 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, tt.wantFrames, c.Buffer().Len())
			assert.Equal(t, uint64(1-tt.wantFrames), c.Stats().MalformedPackets)
		})
	}
}

func TestCloseRemovesCacheFile(t *testing.T) {
	c, conn := connectedClient(t, nil)
	setupClient(t, c, conn)
	assert.True(t, strings.HasSuffix(c.CacheFile(), "cache-"+testSession+".jpg"))

	require.NoError(t, os.WriteFile(c.CacheFile(), []byte("jpeg"), 0o644))
	require.NoError(t, c.Close())
	_, err := os.Stat(c.CacheFile())
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, c.Play(), ErrClosed)
	assert.NoError(t, c.Close())
}
