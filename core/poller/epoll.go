//go:build linux
// +build linux

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EpollPoller is an epoll-based I/O multiplexer
type EpollPoller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
	ready  []Event
}

// NewPoller creates a new Poller (Linux) reporting at most maxEvents
// events per Wait.
func NewPoller(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}

	return &EpollPoller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
	}, nil
}

func epollEvents(in Interest) uint32 {
	// EPOLLRDHUP: detect peer shutdown
	events := uint32(unix.EPOLLRDHUP)
	if in&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	if in&EdgeTriggered != 0 {
		events |= unix.EPOLLET
	}
	return events
}

// Add adds a file descriptor to the watch list
func (p *EpollPoller) Add(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Modify replaces the interest set of a watched descriptor. Under edge
// triggering this re-arms the descriptor: a condition that already holds is
// reported again.
func (p *EpollPoller) Modify(fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}

	p.ready = p.ready[:0]
	for i := 0; i < n; i++ {
		raw := p.events[i]
		fd := int(raw.Fd)

		if fd == p.wakefd {
			p.drainWake()
			continue
		}

		p.ready = append(p.ready, Event{
			Fd:       fd,
			Readable: raw.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: raw.Events&unix.EPOLLOUT != 0,
			Hangup:   raw.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}

	return p.ready, nil
}

func (p *EpollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Wake interrupts a blocked Wait
func (p *EpollPoller) Wake() error {
	// any non-zero counter value wakes the reader
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, a wakeup is already pending
		return nil
	}
	return err
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	unix.Close(p.wakefd)
	return unix.Close(p.epfd)
}
