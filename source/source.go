// Package source provides the frame sources the server streams from.
//
// A source is a stateful cursor over length-prefixed Motion-JPEG records:
// each record is a LengthWidth digit ASCII decimal length followed by exactly
// that many bytes of JPEG data.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/sirupsen/logrus"
)

// LengthWidth is the width of the ASCII length prefix of each record.
const LengthWidth = 5

var (
	// ErrNotFound indicates the requested source cannot be opened.
	ErrNotFound = errors.New("frame source not found")

	// ErrCorrupt indicates a record with an unparsable length prefix or a
	// truncated body.
	ErrCorrupt = errors.New("corrupt frame record")
)

// FrameSource yields frames in order.
type FrameSource interface {
	// NextFrame returns the next frame. io.EOF signals that no frame is
	// available right now.
	NextFrame() ([]byte, error)

	// FrameNumber returns the count of frames returned so far.
	FrameNumber() int

	Close() error
}

// Opener opens a named source.
type Opener func(name string) (FrameSource, error)

// MJPEGFile reads length-prefixed frames from a seekable stream.
type MJPEGFile struct {
	name     string
	rs       io.ReadSeeker
	r        *bufio.Reader
	closer   io.Closer
	frameNum int
	loop     bool
}

// Open opens an MJPEG file. With loop set the file is rewound at end of
// stream and frame numbers keep increasing.
func Open(path string, loop bool) (*MJPEGFile, error) {
	f, err := os.Open(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"path":     path,
			"error":    err.Error(),
		}).Warn("Failed to open frame source")
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}

	m := NewMJPEG(f, loop)
	m.name = path
	m.closer = f
	return m, nil
}

// NewMJPEG wraps an already open stream.
func NewMJPEG(rs io.ReadSeeker, loop bool) *MJPEGFile {
	return &MJPEGFile{
		rs:   rs,
		r:    bufio.NewReader(rs),
		loop: loop,
	}
}

// NextFrame reads the next record.
func (m *MJPEGFile) NextFrame() ([]byte, error) {
	frame, err := m.readRecord()
	if err == io.EOF && m.loop && m.frameNum > 0 {
		if _, serr := m.rs.Seek(0, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("rewind %s: %w", m.name, serr)
		}
		m.r.Reset(m.rs)
		logrus.WithFields(logrus.Fields{
			"function":     "MJPEGFile.NextFrame",
			"source":       m.name,
			"frame_number": m.frameNum,
		}).Debug("Rewinding frame source")
		frame, err = m.readRecord()
	}
	if err != nil {
		return nil, err
	}

	m.frameNum++
	return frame, nil
}

func (m *MJPEGFile) readRecord() ([]byte, error) {
	prefix := make([]byte, LengthWidth)
	n, err := io.ReadFull(m.r, prefix)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: short length prefix (%d bytes)", ErrCorrupt, n)
	}

	length, err := strconv.Atoi(strings.TrimSpace(string(prefix)))
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: length prefix %q", ErrCorrupt, prefix)
	}
	if err := limits.ValidateFrameSize(length); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(m.r, frame); err != nil {
		return nil, fmt.Errorf("%w: frame %d truncated: %v", ErrCorrupt, m.frameNum+1, err)
	}
	return frame, nil
}

// FrameNumber returns the count of frames returned so far.
func (m *MJPEGFile) FrameNumber() int {
	return m.frameNum
}

// Close releases the underlying file, if any.
func (m *MJPEGFile) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

// DirOpener resolves source names inside dir. Names that escape dir are
// reported as not found.
func DirOpener(dir string, loop bool) Opener {
	return func(name string) (FrameSource, error) {
		clean := filepath.Clean("/" + filepath.FromSlash(name))
		path := filepath.Join(dir, clean)
		if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Open(path, loop)
	}
}

// WriteMJPEG writes frames in the record format.
func WriteMJPEG(w io.Writer, frames [][]byte) error {
	limit := 1
	for i := 0; i < LengthWidth; i++ {
		limit *= 10
	}
	for i, frame := range frames {
		if len(frame) >= limit {
			return fmt.Errorf("frame %d: %d bytes does not fit a %d digit prefix", i+1, len(frame), LengthWidth)
		}
		if _, err := fmt.Fprintf(w, "%0*d", LengthWidth, len(frame)); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}
