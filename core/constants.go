package core

import "errors"

// HTTP header constants
const (
	HeaderServer        = "Server"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
	HeaderAllow         = "Allow"
	HeaderAccept        = "Accept"
	HeaderHost          = "Host"
)

// Buffer and limit defaults
const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
	DefaultMaxRequestSize  = 10 << 20
	DefaultBacklog         = 10
	DefaultMaxEvents       = 1000
)

// Error definitions
var (
	// ErrWouldBlock is returned by Conn.Write when the socket send buffer
	// is full. It is not a failure: retry on the next writable event.
	ErrWouldBlock    = errors.New("operation would block")
	ErrEngineStopped = errors.New("engine stopped")
	ErrNotListening  = errors.New("engine is not listening")
)
