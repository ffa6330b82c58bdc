//go:build linux

package core

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// lineState collects bytes until a newline and echoes the line back.
type lineState struct {
	in   []byte
	out  []byte
	sent int
}

type lineHandler struct {
	mu       sync.Mutex
	accepted int
	closed   int
	reject   bool
}

func (h *lineHandler) OnAccept(Transport) (*lineState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reject {
		return nil, errors.New("rejected")
	}
	h.accepted++
	return &lineState{}, nil
}

func (h *lineHandler) OnReadable(_ Transport, s *lineState, data []byte) ReadStatus {
	s.in = append(s.in, data...)
	if i := bytes.IndexByte(s.in, '\n'); i >= 0 {
		s.out = s.in[:i+1]
		return ReadDone
	}
	return ReadContinue
}

func (h *lineHandler) OnWriteable(t Transport, s *lineState) WriteStatus {
	n, err := t.Write(s.out[s.sent:])
	if errors.Is(err, ErrWouldBlock) {
		return WriteContinue
	}
	if err != nil {
		return WriteError
	}

	s.sent += n
	if s.sent < len(s.out) {
		return WriteContinue
	}
	if string(s.out) == "quit\n" {
		return WriteClose
	}

	*s = lineState{}
	return WriteAlive
}

func (h *lineHandler) OnClose(Transport, *lineState) {
	h.mu.Lock()
	h.closed++
	h.mu.Unlock()
}

func (h *lineHandler) counts() (accepted, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted, h.closed
}

func startEngine(t *testing.T, h *lineHandler, opts Options) (*Engine[*lineState], func() error) {
	t.Helper()

	opts.Host = "127.0.0.1"
	e := New[*lineState](h, opts)
	require.NoError(t, e.Listen())

	done := make(chan error, 1)
	go func() {
		done <- e.Serve()
	}()

	var (
		once   sync.Once
		result error
	)
	stop := func() error {
		once.Do(func() {
			e.Stop()
			select {
			case result = <-done:
			case <-time.After(5 * time.Second):
				result = errors.New("engine did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })

	return e, stop
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func TestEngine(t *testing.T) {
	t.Run("keep alive exchanges on one connection", func(t *testing.T) {
		h := &lineHandler{}
		e, _ := startEngine(t, h, Options{})

		conn := dial(t, e.Addr())
		reader := bufio.NewReader(conn)

		for _, line := range []string{"hello\n", "world\n"} {
			_, err := conn.Write([]byte(line))
			require.NoError(t, err)

			got, err := reader.ReadString('\n')
			require.NoError(t, err)
			require.Equal(t, line, got)
		}

		_, err := conn.Write([]byte("quit\n"))
		require.NoError(t, err)
		got, err := reader.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "quit\n", got)

		_, err = reader.ReadByte()
		require.ErrorIs(t, err, io.EOF)

		require.Eventually(t, func() bool {
			_, closed := h.counts()
			return closed == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("message split across many reads", func(t *testing.T) {
		h := &lineHandler{}
		e, _ := startEngine(t, h, Options{ReadBufferSize: 512})

		conn := dial(t, e.Addr())
		payload := strings.Repeat("a", 256<<10) + "\n"

		go func() {
			_, _ = conn.Write([]byte(payload))
		}()

		got := make([]byte, len(payload))
		_, err := io.ReadFull(conn, got)
		require.NoError(t, err)
		require.Equal(t, payload, string(got))

		snapshot := e.Stats().Snapshot()
		require.GreaterOrEqual(t, snapshot.BytesRead, uint64(len(payload)))
		require.GreaterOrEqual(t, snapshot.BytesWritten, uint64(len(payload)))
	})

	t.Run("peer close releases context once", func(t *testing.T) {
		h := &lineHandler{}
		e, _ := startEngine(t, h, Options{})

		conn := dial(t, e.Addr())
		_, err := conn.Write([]byte("partial"))
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			accepted, closed := h.counts()
			return accepted == 1 && closed == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejected connection is closed", func(t *testing.T) {
		h := &lineHandler{reject: true}
		e, _ := startEngine(t, h, Options{})

		conn := dial(t, e.Addr())
		_, err := conn.Read(make([]byte, 1))
		require.Error(t, err)

		require.Eventually(t, func() bool {
			return e.Stats().Snapshot().Rejected == 1
		}, 2*time.Second, 10*time.Millisecond)

		_, closed := h.counts()
		require.Zero(t, closed)
	})

	t.Run("idle connection is evicted", func(t *testing.T) {
		h := &lineHandler{}
		e, _ := startEngine(t, h, Options{IdleTimeout: 50 * time.Millisecond})

		conn := dial(t, e.Addr())
		_, err := conn.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)

		require.Equal(t, uint64(1), e.Stats().Snapshot().Evicted)
	})

	t.Run("stop tears down open connections", func(t *testing.T) {
		h := &lineHandler{}
		e, stop := startEngine(t, h, Options{})

		conn := dial(t, e.Addr())
		_, err := conn.Write([]byte("hello\n"))
		require.NoError(t, err)
		_, err = bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)

		require.NoError(t, stop())

		accepted, closed := h.counts()
		require.Equal(t, 1, accepted)
		require.Equal(t, 1, closed)

		_, err = conn.Read(make([]byte, 1))
		require.Error(t, err)
	})

	t.Run("serve without listen", func(t *testing.T) {
		e := New[*lineState](&lineHandler{}, Options{})
		require.ErrorIs(t, e.Serve(), ErrNotListening)
	})

	t.Run("stopped engine refuses to listen", func(t *testing.T) {
		e := New[*lineState](&lineHandler{}, Options{Host: "127.0.0.1"})
		e.Stop()
		require.ErrorIs(t, e.Listen(), ErrEngineStopped)
	})

	t.Run("listen failure is reported", func(t *testing.T) {
		e := New[*lineState](&lineHandler{}, Options{Host: "not-an-ip"})
		require.Error(t, e.Listen())
	})
}
