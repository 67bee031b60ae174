//go:build linux

package netio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RawConn is a Linux AF_INET/SOCK_RAW/IPPROTO_ICMP socket. Opening one
// requires CAP_NET_RAW (or root); failure to open it is fatal at
// startup.
type RawConn struct {
	fd     int
	mu     sync.Mutex
	closed bool
}

// Option configures a RawConn at construction time.
type Option func(*rawConnConfig)

type rawConnConfig struct {
	recvBufferBytes int
}

// WithRecvBufferSize sets SO_RCVBUF on the socket. Useful on hosts
// monitoring a large host list, where kernel default buffering can drop
// replies during a burst. Zero (the default) leaves the kernel default
// in place.
func WithRecvBufferSize(bytes int) Option {
	return func(c *rawConnConfig) { c.recvBufferBytes = bytes }
}

// NewRawConn opens a raw ICMP socket.
func NewRawConn(opts ...Option) (*RawConn, error) {
	cfg := rawConnConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		return nil, fmt.Errorf("open raw ICMP socket: %w", err)
	}

	if cfg.recvBufferBytes > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.recvBufferBytes); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set SO_RCVBUF: %w", err)
		}
	}

	return &RawConn{fd: fd}, nil
}

// Send transmits buf to dst via sendto(2).
func (c *RawConn) Send(buf []byte, dst [4]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	addr := &unix.SockaddrInet4{Addr: dst}
	if err := unix.Sendto(c.fd, buf, 0, addr); err != nil {
		return fmt.Errorf("sendto %v: %w", dst, err)
	}
	return nil
}

// Recv sets SO_RCVTIMEO to timeout and blocks in read(2) until a
// datagram arrives or the kernel times the read out. The timeout is set
// per call because the Scheduler's adaptive pacer changes the desired
// wait on every cycle.
func (c *RawConn) Recv(buf []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return 0, fmt.Errorf("set SO_RCVTIMEO: %w", err)
	}

	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return 0, fmt.Errorf("read icmp socket: %w", ErrTimeout)
		}
		return 0, fmt.Errorf("read icmp socket: %w", err)
	}
	return n, nil
}

// Close releases the socket. Safe to call more than once.
func (c *RawConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("close icmp socket: %w", err)
	}
	return nil
}
