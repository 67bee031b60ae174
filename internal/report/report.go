// Package report produces the daemon's operator-facing output: the
// periodic status line, the transition lines, and the SLA summary.
// These are written through a dedicated Writer over io.Writer rather
// than slog, because their exact textual format is part of the external
// interface and must not be reformatted by a structured-logging handler
// the way operational diagnostics are (see internal/config's LogConfig
// for the slog side of the split).
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/elsker-net/linkwatch/internal/clock"
	"github.com/elsker-net/linkwatch/internal/registry"
)

// Writer emits timestamped report lines to an underlying io.Writer
// (normally the daemon's stdout, possibly redirected to --log).
type Writer struct {
	out   io.Writer
	clock clock.Clock
}

// New returns a Writer that timestamps every line with clk.Now().
func New(out io.Writer, clk clock.Clock) *Writer {
	return &Writer{out: out, clock: clk}
}

func (w *Writer) line(format string, args ...any) {
	ts := clock.LogTimestamp(w.clock.Now())
	fmt.Fprintf(w.out, "%s %s\n", ts, fmt.Sprintf(format, args...))
}

// Alive logs a "<host> is alive[, after <duration>]" transition line.
// since is empty when no prior downtime duration is known.
func (w *Writer) Alive(host, since string) {
	if since == "" {
		w.line("%s is alive", host)
		return
	}
	w.line("%s is alive, after %s", host, since)
}

// Unreachable logs a "<host> is unreachable[, after <duration>]" line.
func (w *Writer) Unreachable(host, uptime string) {
	if uptime == "" {
		w.line("%s is unreachable", host)
		return
	}
	w.line("%s is unreachable, after %s", host, uptime)
}

// Status holds the periodic status line's fields:
// "Waiting on <q> (<u> unreachable), I:<i>ms R:<r> C:<c>[ M:<m>]".
type Status struct {
	// QueueLen is the count of local hosts with a probe still
	// outstanding this cycle window.
	QueueLen int

	// Unreachable is the current local-unreachable count.
	Unreachable int

	// IntervalMS is the current adaptive interval, in milliseconds.
	IntervalMS int

	// OptimalRetry is the observed optimal retry value this window.
	OptimalRetry int

	// Cycles is the number of cycles elapsed since the last status line.
	Cycles int

	// MACCount is the count of hosts with a recorded expected MAC. Only
	// rendered (the trailing " M:<m>") when MACCheckEnabled is true.
	MACCount        int
	MACCheckEnabled bool
}

// Status logs the periodic status line.
func (w *Writer) Status(s Status) {
	if s.MACCheckEnabled {
		w.line("Waiting on %d (%d unreachable), I:%dms R:%d C:%d M:%d",
			s.QueueLen, s.Unreachable, s.IntervalMS, s.OptimalRetry, s.Cycles, s.MACCount)
		return
	}
	w.line("Waiting on %d (%d unreachable), I:%dms R:%d C:%d",
		s.QueueLen, s.Unreachable, s.IntervalMS, s.OptimalRetry, s.Cycles)
}

// SLALine is a single host's SLA summary row.
type SLALine struct {
	Label        string
	DowntimeSecs float64
	DownCount    int
	Percentage   float64
}

// SLA logs one "SLA_REP <host> down(sec) <d> count <c> percentage
// <p.pppp>" line per host.
func (w *Writer) SLA(line SLALine) {
	w.line("SLA_REP %s down(sec) %.0f count %d percentage %.4f",
		line.Label, line.DowntimeSecs, line.DownCount, line.Percentage)
}

// Debug logs a free-form diagnostic dump, used for the downtime-exceeds-
// period clock-skew / stale-state-file case.
func (w *Writer) Debug(format string, args ...any) {
	w.line("DEBUG "+format, args...)
}

// Error logs a fatal condition as an "Error :" line.
func (w *Writer) Error(format string, args ...any) {
	w.line("Error : "+format, args...)
}

// InvalidPacket logs a spurious-reply observation as an "ERROR:
// Invalid packet" line. Never affects host state.
func (w *Writer) InvalidPacket(format string, args ...any) {
	w.line("ERROR: Invalid packet: "+format, args...)
}

// SLAReport computes and emits the full SLA summary for every host with
// at least one down episode. now is the report instant;
// start is the daemon's start time, used both for `period` and as the
// downtime fallback for a host that has never replied.
//
// hungOffset is a caller-supplied extra-downtime adjustment per host
// index, from the external "hung services" state-file hook; nil when
// the feature is disabled. A non-zero offset adds a synthetic down
// episode to that host's count for this report only — the persistent
// DownCount is never written back, so repeating the report with no
// state change in between produces identical output.
func (w *Writer) SLAReport(hosts []registry.Host, now, start time.Time, hungOffset map[int]float64) {
	period := now.Sub(start).Seconds()
	if period <= 0 {
		period = 1 // avoid divide-by-zero on a report emitted at t=0
	}

	for _, h := range hosts {
		downtime := h.DowntimeSecs
		downCount := h.DownCount

		if !h.Alive {
			from := h.LastResponseTS
			if from.IsZero() {
				from = start
			}
			downtime += now.Sub(from).Seconds()
		}

		if offset, ok := hungOffset[h.Index]; ok && offset > 0 {
			downtime += offset
			downCount++
		}

		if downCount == 0 {
			continue
		}

		if downtime > period {
			w.Debug("host=%s downtime_secs=%.2f period=%.2f down_count=%d last_response=%v",
				h.Label, downtime, period, downCount, h.LastResponseTS)
		}

		w.SLA(SLALine{
			Label:        h.Label,
			DowntimeSecs: downtime,
			DownCount:    downCount,
			Percentage:   100 * downtime / period,
		})
	}
}
