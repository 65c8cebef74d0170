package asyncbufio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "example")
	f, err := os.Create(fname)
	require.NoError(t, err)
	defer f.Close()

	// A shallow queue forces Write to wait on the write loop.
	w := NewWriter(f, 2, time.Second)
	var expect bytes.Buffer
	buf := make([]byte, 0, 32)
	for i := range 100 {
		buf = fmt.Appendf(buf[:0], "Line of text %3d\n", i)
		n, err := w.Write(buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		expect.Write(buf)
		if i%25 == 19 {
			require.NoError(t, w.Flush())
		}
	}
	_, err = w.WriteString("Last line\n")
	require.NoError(t, err)
	expect.WriteString("Last line\n")
	require.NoError(t, w.Close())

	// Reusing buf above must not corrupt queued data.
	actual, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Equal(t, expect.String(), string(actual))

	assert.ErrorIs(t, w.Flush(), ErrClosed)
	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseTwice(t *testing.T) {
	var b bytes.Buffer
	w := NewWriter(&b, 100, time.Second)
	assert.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrClosed)
}

func TestPeriodicFlush(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "periodic"))
	require.NoError(t, err)
	defer f.Close()
	w := NewWriter(f, 10, 10*time.Millisecond)
	defer w.Close()
	w.WriteString("hello")
	assert.Eventually(t, func() bool {
		b, _ := os.ReadFile(f.Name())
		return string(b) == "hello"
	}, time.Second, 5*time.Millisecond)
}

type failingWriter struct{}

var errDiskFull = errors.New("disk full")

func (failingWriter) Write(p []byte) (int, error) { return 0, errDiskFull }

func TestWriteError(t *testing.T) {
	w := NewWriter(failingWriter{}, 10, time.Second)
	w.Write([]byte("data"))
	assert.ErrorIs(t, w.Flush(), errDiskFull)
	_, err := w.Write([]byte("more"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, w.Close(), errDiskFull)
}
