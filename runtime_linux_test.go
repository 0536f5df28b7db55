//go:build linux

package greenrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestRuntime_PipeReadiness verifies a task can block on fd readiness
// Given: a reader task waiting on an empty pipe and a writer task
// When: the writer sleeps and then writes a byte
// Then: the reader resumes and reads that byte
func TestRuntime_PipeReadiness(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	r := newTestRuntime(t, 2)
	var got []byte

	code := runWithTimeout(t, r, func(ctx context.Context) {
		_, err := Spawn(ctx, func(ctx context.Context) {
			if !assert.NoError(t, Sleep(ctx, 20*time.Millisecond)) {
				return
			}
			_, err := unix.Write(fds[1], []byte{'g'})
			assert.NoError(t, err)
		})
		assert.NoError(t, err)

		if !assert.NoError(t, AwaitIO(ctx, Readable(fds[0]))) {
			return
		}
		buf := make([]byte, 4)
		n, err := unix.Read(fds[0], buf)
		if assert.NoError(t, err) {
			got = buf[:n]
		}
	})

	assert.Equal(t, 0, code)
	assert.Equal(t, []byte{'g'}, got)
}
