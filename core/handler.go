package core

// ReadStatus tells the engine what to do after a chunk was handed to
// Handler.OnReadable.
type ReadStatus uint8

const (
	// ReadContinue keeps reading: the message is not complete yet.
	ReadContinue ReadStatus = iota
	// ReadDone switches the connection to write readiness.
	ReadDone
	// ReadClose tears the connection down.
	ReadClose
)

// WriteStatus tells the engine what to do after Handler.OnWriteable.
type WriteStatus uint8

const (
	// WriteContinue re-arms the connection for write readiness.
	WriteContinue WriteStatus = iota
	// WriteAlive means the response is fully sent and the connection is
	// kept for the next request: it is re-armed for read readiness.
	WriteAlive
	// WriteClose means the response is fully sent and the connection
	// must be closed.
	WriteClose
	// WriteError means sending failed; the connection is torn down.
	WriteError
)

func (s ReadStatus) String() string {
	switch s {
	case ReadContinue:
		return "continue"
	case ReadDone:
		return "done"
	case ReadClose:
		return "close"
	default:
		return "unknown"
	}
}

func (s WriteStatus) String() string {
	switch s {
	case WriteContinue:
		return "continue"
	case WriteAlive:
		return "alive"
	case WriteClose:
		return "close"
	case WriteError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport is the connection as seen by a protocol handler.
type Transport interface {
	FD() int
	RemoteAddr() string
	// Write performs a single non-blocking send. It returns ErrWouldBlock
	// when nothing could be sent; a short count is not an error.
	Write(p []byte) (int, error)
}

// Handler is a protocol implementation driven by the Engine. C is the
// per-connection state created in OnAccept; the engine stores it in the
// connection and passes it back on every call. All callbacks run on the
// engine's thread and must not block.
type Handler[C any] interface {
	// OnAccept creates the state for a fresh connection. An error rejects
	// the connection.
	OnAccept(t Transport) (C, error)
	// OnReadable receives newly read bytes. data is only valid for the
	// duration of the call.
	OnReadable(t Transport, c C, data []byte) ReadStatus
	OnWriteable(t Transport, c C) WriteStatus
	// OnClose releases c. It is called exactly once per accepted
	// connection, before its descriptor is closed.
	OnClose(t Transport, c C)
}
