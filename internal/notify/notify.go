// Package notify implements the rate-limited external notification
// hook: an optional shell command invoked as
// `<cmd> "<host>" "<state>" "<message>"` whenever a host changes state
// or a MAC mismatch is detected, with a rolling window that caps bursts
// of flapping hosts from fork-bombing the daemon.
package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/elsker-net/linkwatch/internal/clock"
)

// limit is the maximum number of invocations allowed per window.
const limit = 10

// windowDuration is the rolling window length.
const windowDuration = 30 * time.Second

// overloadLabel/overloadState are the synthetic host/state pair used for
// the single notification emitted when the limit is crossed.
const (
	overloadLabel = "OVERLOAD"
	overloadState = "n/a"
)

// Runner executes an external command, detached — the daemon does not
// wait for it or observe its exit status. Exposed as an interface so
// tests can substitute a spy without actually forking a process.
type Runner interface {
	Run(ctx context.Context, cmd, host, state, message string)
}

// ExecRunner is the production Runner: os/exec with output discarded and
// Start (not Run/Wait), so the daemon never blocks on the child.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run starts `cmd "<host>" "<state>" "<message>"` via the shell and
// returns immediately. Spawn failures are logged but never fatal.
func (r ExecRunner) Run(_ context.Context, cmdLine, host, state, message string) {
	c := exec.Command("/bin/sh", "-c", cmdLine+` "$1" "$2" "$3"`, "--", host, state, message)
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil

	if err := c.Start(); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("failed to spawn notify command",
				slog.String("cmd", cmdLine), slog.String("error", err.Error()))
		}
		return
	}
	// Reap in the background so the child never becomes a zombie and
	// the caller never blocks on it.
	go func() { _ = c.Wait() }()
}

// Notifier applies the rate-limit policy in front of a Runner.
type Notifier struct {
	cmd    string
	runner Runner
	clock  clock.Clock
	logger *slog.Logger

	n              int
	lastInvocation time.Time
	overloaded     bool
}

// New returns a Notifier that invokes cmd through runner, rate-limited.
// cmd == "" makes every Notify call a silent no-op, so
// callers don't need to special-case "notifications disabled".
func New(cmd string, runner Runner, clk clock.Clock, logger *slog.Logger) *Notifier {
	return &Notifier{cmd: cmd, runner: runner, clock: clk, logger: logger}
}

// Notify applies the rate-limit policy and, if within budget, invokes
// the configured command with (host, state, message). state is one of
// "up", "down", "nids".
func (n *Notifier) Notify(ctx context.Context, host, state, message string) {
	if n.cmd == "" {
		return
	}

	now := n.clock.Now()

	if n.lastInvocation.IsZero() || now.Sub(n.lastInvocation) > windowDuration {
		if n.overloaded {
			n.log("notifications enabled (window elapsed)")
		}
		n.n = 0
		n.overloaded = false
	}

	n.n++
	n.lastInvocation = now

	switch {
	case n.n <= limit:
		n.runner.Run(ctx, n.cmd, host, state, message)
	case n.n == limit+1:
		n.overloaded = true
		n.log("notifications disabled (too many state changes this window)")
		n.runner.Run(ctx, n.cmd, overloadLabel, overloadState, "too many state changes, suppressing further notifications")
	default:
		// Drop silently; already disabled and already told the operator.
	}
}

func (n *Notifier) log(msg string) {
	if n.logger != nil {
		n.logger.Info(msg)
	}
}
