// Package netio provides the raw ICMP socket the Scheduler sends Echo
// Requests on and blocks reading Echo Replies from.
package netio

import (
	"errors"
	"time"
)

// ErrUnimplemented is returned by the non-Linux raw-socket constructor.
// Raw ICMP sockets are a Linux-specific (AF_INET/SOCK_RAW) facility here;
// other platforms have no implementation yet.
var ErrUnimplemented = errors.New("netio: raw ICMP socket not implemented on this platform")

// ErrTimeout is returned by Conn.Recv when no reply arrives within the
// requested deadline. Callers distinguish this from a real socket error
// with errors.Is.
var ErrTimeout = errors.New("netio: read timeout")

// ErrClosed is returned by operations on a Conn after Close.
var ErrClosed = errors.New("netio: socket closed")

// Conn is a raw ICMP socket: send an Echo Request, block for up to a
// deadline waiting for any inbound datagram (Echo Reply or otherwise —
// filtering is the Probe Codec's job, not the socket's), repeat.
//
// Implementations are not safe for concurrent use; the Scheduler is the
// single owner and caller, per the single-threaded event-loop design.
type Conn interface {
	// Send transmits an Echo-Request-shaped datagram to dst. dst is an
	// IPv4 address in 4-byte form.
	Send(buf []byte, dst [4]byte) error

	// Recv blocks until a datagram arrives or timeout elapses, whichever
	// comes first, and copies it into buf. Returns the number of bytes
	// read. Returns ErrTimeout, wrapped, if the deadline passes with
	// nothing received.
	Recv(buf []byte, timeout time.Duration) (int, error)

	// Close releases the socket.
	Close() error
}
