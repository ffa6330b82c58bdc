//go:build linux

package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	return fds[0], fds[1]
}

func TestEpollPoller(t *testing.T) {
	t.Run("readable", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		r, w := newPipe(t)
		require.NoError(t, p.Add(r, Readable|EdgeTriggered))

		_, err = unix.Write(w, []byte("ping"))
		require.NoError(t, err)

		events, err := p.Wait(1000)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, r, events[0].Fd)
		require.True(t, events[0].Readable)
		require.False(t, events[0].Writable)
	})

	t.Run("edge triggered reports once", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		r, w := newPipe(t)
		require.NoError(t, p.Add(r, Readable|EdgeTriggered))

		_, err = unix.Write(w, []byte("ping"))
		require.NoError(t, err)

		events, err := p.Wait(1000)
		require.NoError(t, err)
		require.Len(t, events, 1)

		// nothing was read, but no new data arrived either
		events, err = p.Wait(50)
		require.NoError(t, err)
		require.Empty(t, events)

		// re-arming reports the pending data again
		require.NoError(t, p.Modify(r, Readable|EdgeTriggered))
		events, err = p.Wait(1000)
		require.NoError(t, err)
		require.Len(t, events, 1)
	})

	t.Run("modify to writable", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		_, w := newPipe(t)
		require.NoError(t, p.Add(w, Readable|EdgeTriggered))

		events, err := p.Wait(50)
		require.NoError(t, err)
		require.Empty(t, events)

		require.NoError(t, p.Modify(w, Writable|EdgeTriggered))
		events, err = p.Wait(1000)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.True(t, events[0].Writable)
	})

	t.Run("removed descriptor is silent", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		r, w := newPipe(t)
		require.NoError(t, p.Add(r, Readable))
		require.NoError(t, p.Remove(r))

		_, err = unix.Write(w, []byte("ping"))
		require.NoError(t, err)

		events, err := p.Wait(50)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("hangup", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		var fds [2]int
		require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
		defer unix.Close(fds[0])

		require.NoError(t, p.Add(fds[0], Readable|EdgeTriggered))
		require.NoError(t, unix.Close(fds[1]))

		events, err := p.Wait(1000)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.True(t, events[0].Hangup)
	})

	t.Run("wake", func(t *testing.T) {
		p, err := NewPoller(16)
		require.NoError(t, err)
		defer p.Close()

		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = p.Wake()
		}()

		start := time.Now()
		events, err := p.Wait(-1)
		require.NoError(t, err)
		require.Empty(t, events)
		require.Less(t, time.Since(start), 5*time.Second)
	})
}
