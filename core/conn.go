//go:build linux || darwin

package core

import (
	"time"

	"golang.org/x/sys/unix"
)

// Conn is the per-socket context of an accepted connection. It exists from
// accept until teardown and is only touched from the engine's thread.
type Conn[C any] struct {
	fd         int
	peer       string
	ctx        C
	lastActive time.Time
	closed     bool
	written    uint64
}

// FD returns the OS handle.
func (c *Conn[C]) FD() int {
	return c.fd
}

// RemoteAddr returns the peer address captured at accept.
func (c *Conn[C]) RemoteAddr() string {
	return c.peer
}

// Context returns the protocol state created by Handler.OnAccept.
func (c *Conn[C]) Context() C {
	return c.ctx
}

// Write sends as much of p as the socket accepts in one system call.
func (c *Conn[C]) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(c.fd, p)
		switch {
		case err == nil:
			c.written += uint64(n)
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		default:
			return 0, err
		}
	}
}
