//go:build linux || darwin

package core

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// listenSocket creates a non-blocking IPv4 listening socket.
func listenSocket(host string, port, backlog int) (int, error) {
	addr := &unix.SockaddrInet4{Port: port}
	if host != "" {
		ip := net.ParseIP(host).To4()
		if ip == nil {
			return -1, fmt.Errorf("listen: %q is not an IPv4 address", host)
		}
		copy(addr.Addr[:], ip)
	}

	fd, err := newStreamSocket()
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}

	return fd, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrUnix:
		return a.Name
	default:
		return ""
	}
}

func setNoDelay(fd int) {
	// TCP_NODELAY: Disable Nagle's algorithm
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
