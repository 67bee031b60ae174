//go:build !linux

package netio

import (
	"fmt"
	"runtime"
	"time"
)

var errPlatform = fmt.Errorf("%w: %s", ErrUnimplemented, runtime.GOOS)

// RawConn is unavailable outside Linux; see rawsock_linux.go.
type RawConn struct{}

// Option configures a RawConn. No-op on this platform.
type Option func(*RawConn)

// WithRecvBufferSize is a no-op on this platform.
func WithRecvBufferSize(int) Option { return func(*RawConn) {} }

// NewRawConn always fails on non-Linux platforms.
func NewRawConn(...Option) (*RawConn, error) { return nil, errPlatform }

func (*RawConn) Send([]byte, [4]byte) error { return errPlatform }

func (*RawConn) Recv([]byte, time.Duration) (int, error) { return 0, errPlatform }

func (*RawConn) Close() error { return errPlatform }
