package poller

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	// EdgeTriggered reports a condition once per state change instead of
	// for as long as it holds.
	EdgeTriggered
)

// Event is a readiness notification for a single descriptor.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set on error or peer shutdown.
	Hangup bool
}

// Poller is the I/O multiplexing interface
type Poller interface {
	Add(fd int, in Interest) error
	Modify(fd int, in Interest) error
	Remove(fd int) error
	// Wait blocks for at most timeout milliseconds; a negative timeout
	// blocks until an event arrives or Wake is called. The returned slice
	// is only valid until the next call.
	Wait(timeout int) ([]Event, error)
	// Wake interrupts a blocked Wait. Safe for concurrent use.
	Wake() error
	Close() error
}
