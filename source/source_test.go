package source

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames() [][]byte {
	return [][]byte{
		[]byte("first frame"),
		bytes.Repeat([]byte{0xFF, 0xD8}, 1500),
		{},
		[]byte("last"),
	}
}

func encode(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteMJPEG(&buf, frames))
	return buf.Bytes()
}

func TestWriteMJPEGFormat(t *testing.T) {
	data := encode(t, [][]byte{[]byte("abc"), []byte("")})
	assert.Equal(t, "00003abc00000", string(data))

	err := WriteMJPEG(io.Discard, [][]byte{make([]byte, 100000)})
	assert.Error(t, err)
}

func TestMJPEGReadsAllFrames(t *testing.T) {
	frames := testFrames()
	src := NewMJPEG(bytes.NewReader(encode(t, frames)), false)

	for i, want := range frames {
		got, err := src.NextFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, i+1, src.FrameNumber())
	}

	_, err := src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, len(frames), src.FrameNumber())

	// Exhaustion stays transient: further polls keep reporting EOF.
	_, err = src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGLoop(t *testing.T) {
	frames := [][]byte{[]byte("a"), []byte("b")}
	src := NewMJPEG(bytes.NewReader(encode(t, frames)), true)

	var got []string
	for i := 0; i < 5; i++ {
		f, err := src.NextFrame()
		require.NoError(t, err)
		got = append(got, string(f))
	}
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, got)
	assert.Equal(t, 5, src.FrameNumber())
}

func TestMJPEGLoopEmptyStream(t *testing.T) {
	src := NewMJPEG(bytes.NewReader(nil), true)
	_, err := src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMJPEGCorrupt(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "Non-numeric prefix", data: "abcdeXXXX"},
		{name: "Short prefix", data: "000"},
		{name: "Truncated body", data: "00010abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewMJPEG(bytes.NewReader([]byte(tt.data)), false)
			_, err := src.NextFrame()
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Zero(t, src.FrameNumber())
		})
	}
}

func TestOpenAndDirOpener(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "media")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "movie.Mjpeg")
	require.NoError(t, os.WriteFile(path, encode(t, testFrames()), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "outside.Mjpeg"), encode(t, testFrames()), 0o644))

	src, err := Open(path, false)
	require.NoError(t, err)
	f, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("first frame"), f)
	require.NoError(t, src.Close())

	open := DirOpener(dir, false)
	fs, err := open("movie.Mjpeg")
	require.NoError(t, err)
	require.NoError(t, fs.Close())

	tests := []string{"missing.Mjpeg", "../outside.Mjpeg", ""}
	for _, name := range tests {
		_, err := open(name)
		assert.ErrorIs(t, err, ErrNotFound, "name %q", name)
	}
}
