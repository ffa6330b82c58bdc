//go:build darwin
// +build darwin

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const wakeIdent = 0

// KqueuePoller is a kqueue-based I/O multiplexer
type KqueuePoller struct {
	kqfd   int
	events []unix.Kevent_t
	ready  []Event
}

// NewPoller creates a new Poller (macOS)
func NewPoller(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue: %w", err)
	}

	wake := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}
	if _, err := unix.Kevent(kqfd, []unix.Kevent_t{wake}, nil, nil); err != nil {
		unix.Close(kqfd)
		return nil, fmt.Errorf("kevent add user filter: %w", err)
	}

	return &KqueuePoller{
		kqfd:   kqfd,
		events: make([]unix.Kevent_t, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}, nil
}

func (p *KqueuePoller) apply(fd int, in Interest) error {
	// EV_CLEAR is the kqueue spelling of edge triggering
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if in&EdgeTriggered != 0 {
		flags |= unix.EV_CLEAR
	}

	read := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_DISABLE}
	if in&Readable != 0 {
		read.Flags = flags
	}
	write := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_DISABLE}
	if in&Writable != 0 {
		write.Flags = flags
	}

	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{read, write}, nil, nil)
	return err
}

// Add adds a file descriptor to the watch list
func (p *KqueuePoller) Add(fd int, in Interest) error {
	if err := p.apply(fd, in); err != nil {
		return fmt.Errorf("kevent add: %w", err)
	}
	return nil
}

// Modify replaces the interest set of a watched descriptor
func (p *KqueuePoller) Modify(fd int, in Interest) error {
	if err := p.apply(fd, in); err != nil {
		return fmt.Errorf("kevent modify: %w", err)
	}
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *KqueuePoller) Remove(fd int) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}

	if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent delete: %w", err)
	}
	return nil
}

// Wait waits for I/O events
func (p *KqueuePoller) Wait(timeout int) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout) * 1_000_000)
		ts = &t
	}

	n, err := unix.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("kevent wait: %w", err)
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		raw := p.events[i]
		if raw.Filter == unix.EVFILT_USER {
			continue
		}

		p.ready = append(p.ready, Event{
			Fd:       int(raw.Ident),
			Readable: raw.Filter == unix.EVFILT_READ,
			Writable: raw.Filter == unix.EVFILT_WRITE,
			Hangup:   raw.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0,
		})
	}

	return p.ready, nil
}

// Wake interrupts a blocked Wait
func (p *KqueuePoller) Wake() error {
	trigger := unix.Kevent_t{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}
	_, err := unix.Kevent(p.kqfd, []unix.Kevent_t{trigger}, nil, nil)
	return err
}

// Close closes the Poller
func (p *KqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
