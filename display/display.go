// Package display holds the boundary between the playback pipeline and
// whatever renders frames. The core only ever calls Sink.Show.
package display

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// CacheFilePrefix and CacheFileExt name the on-disk frame file.
	CacheFilePrefix = "cache-"
	CacheFileExt    = ".jpg"
)

// Sink renders one frame.
type Sink interface {
	Show(frameNumber uint16, frame []byte) error
}

// FileSink writes the latest frame to cache-<session>.jpg so an external
// viewer can pick it up. The file is replaced atomically on every frame and
// is never read back by the client.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	session uint32
}

// NewFileSink creates a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir}
}

// SetSession selects the session id used in the file name.
func (s *FileSink) SetSession(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = id
}

// Path returns the current frame file path.
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path()
}

func (s *FileSink) path() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", CacheFilePrefix, s.session, CacheFileExt))
}

// Show replaces the frame file with frame.
func (s *FileSink) Show(frameNumber uint16, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path()
	tmp, err := os.CreateTemp(s.dir, CacheFilePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write frame %d: %w", frameNumber, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close frame file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace frame file: %w", err)
	}
	return nil
}

// Remove deletes the frame file. A missing file is not an error.
func (s *FileSink) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LogSink logs each frame at debug level.
type LogSink struct{}

// Show logs the frame.
func (LogSink) Show(frameNumber uint16, frame []byte) error {
	logrus.WithFields(logrus.Fields{
		"function":     "LogSink.Show",
		"frame_number": frameNumber,
		"size":         len(frame),
	}).Debug("Frame ready for display")
	return nil
}

// MultiSink shows every frame on each of its sinks and joins their errors.
type MultiSink []Sink

// Show forwards frame to every sink.
func (m MultiSink) Show(frameNumber uint16, frame []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(frameNumber, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
