// Package stats keeps the server's connection and request counters.
//
// Counters are written from the reactor thread and may be read from any
// goroutine.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters holds the running totals of one server.
type Counters struct {
	started time.Time

	accepted     atomic.Uint64
	closed       atomic.Uint64
	evicted      atomic.Uint64
	rejected     atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	requests    atomic.Uint64
	parseErrors atomic.Uint64
	oversized   atomic.Uint64
	panics      atomic.Uint64
	keepAlives  atomic.Uint64

	// responses by status class, index 0 is 1xx
	classes [5]atomic.Uint64
}

// New creates zeroed counters.
func New() *Counters {
	return &Counters{started: time.Now()}
}

func (c *Counters) Accepted() { c.accepted.Add(1) }
func (c *Counters) Closed() { c.closed.Add(1) }
func (c *Counters) Evicted() { c.evicted.Add(1) }
func (c *Counters) Rejected() { c.rejected.Add(1) }
func (c *Counters) BytesRead(n int) { c.bytesRead.Add(uint64(n)) }
func (c *Counters) BytesWritten(n int) { c.bytesWritten.Add(uint64(n)) }
func (c *Counters) Request() { c.requests.Add(1) }
func (c *Counters) ParseError() { c.parseErrors.Add(1) }
func (c *Counters) Oversized() { c.oversized.Add(1) }
func (c *Counters) HandlerPanic() { c.panics.Add(1) }
func (c *Counters) KeepAlive() { c.keepAlives.Add(1) }

// Response records a response with the given status code.
func (c *Counters) Response(code int) {
	class := code/100 - 1
	if class < 0 || class >= len(c.classes) {
		return
	}
	c.classes[class].Add(1)
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Active        uint64  `json:"active"`
	Accepted      uint64  `json:"accepted"`
	Closed        uint64  `json:"closed"`
	Evicted       uint64  `json:"evicted"`
	Rejected      uint64  `json:"rejected"`
	BytesRead     uint64  `json:"bytes_read"`
	BytesWritten  uint64  `json:"bytes_written"`
	Requests      uint64  `json:"requests"`
	ParseErrors   uint64  `json:"parse_errors"`
	Oversized     uint64  `json:"oversized"`
	Panics        uint64  `json:"panics"`
	KeepAlives    uint64  `json:"keep_alives"`
	Status1xx     uint64  `json:"status_1xx"`
	Status2xx     uint64  `json:"status_2xx"`
	Status3xx     uint64  `json:"status_3xx"`
	Status4xx     uint64  `json:"status_4xx"`
	Status5xx     uint64  `json:"status_5xx"`
}

// Snapshot copies the current values.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		UptimeSeconds: time.Since(c.started).Seconds(),
		Accepted:      c.accepted.Load(),
		Closed:        c.closed.Load(),
		Evicted:       c.evicted.Load(),
		Rejected:      c.rejected.Load(),
		BytesRead:     c.bytesRead.Load(),
		BytesWritten:  c.bytesWritten.Load(),
		Requests:      c.requests.Load(),
		ParseErrors:   c.parseErrors.Load(),
		Oversized:     c.oversized.Load(),
		Panics:        c.panics.Load(),
		KeepAlives:    c.keepAlives.Load(),
		Status1xx:     c.classes[0].Load(),
		Status2xx:     c.classes[1].Load(),
		Status3xx:     c.classes[2].Load(),
		Status4xx:     c.classes[3].Load(),
		Status5xx:     c.classes[4].Load(),
	}
	if s.Accepted > s.Closed {
		s.Active = s.Accepted - s.Closed
	}

	return s
}
