// Package clock provides the daemon's time source and human-readable
// relative-time formatting.
//
// Every wall-clock read the scheduler, registry and reporter need goes
// through a Clock so that tests can substitute a deterministic source
// instead of time.Now. The formatting half renders the log lines'
// "Day Mon DD HH:MM:SS YYYY" timestamps and "after <duration>"
// suffixes.
package clock

import (
	"strconv"
	"time"
)

// Clock is the time source used throughout the daemon. A real Clock
// just calls time.Now; tests substitute a Fixed or Stepped clock so that
// cycle-boundary invariants can be checked without sleeping.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Fixed is a Clock that always returns the same instant. Useful for
// tests that don't care about elapsed time.
type Fixed time.Time

// Now returns the fixed instant.
func (f Fixed) Now() time.Time { return time.Time(f) }

// Stepped is a Clock that advances by a fixed step on every call to Now,
// starting from Start. Useful for simulating cycle-by-cycle elapsed time
// in scheduler tests without a real timer.
type Stepped struct {
	Start time.Time
	Step  time.Duration

	calls int
}

// Now returns Start + n*Step, where n is the number of prior calls.
func (s *Stepped) Now() time.Time {
	t := s.Start.Add(time.Duration(s.calls) * s.Step)
	s.calls++
	return t
}

// LogTimestamp formats t the way every log line is prefixed:
// "Day Mon DD HH:MM:SS YYYY" in local time, e.g. "Fri Jul 31 14:03:22 2026".
func LogTimestamp(t time.Time) string {
	return t.Local().Format("Mon Jan  2 15:04:05 2006")
}

// SinceLabel renders the duration between from and to as a short
// human-readable string suitable for the ", after <duration>" suffix on
// state-transition log lines. A zero from yields an empty string,
// signalling the caller should omit the suffix entirely — the
// "after <uptime>" / "after <downtime>" clause is only present when a
// prior timestamp is known.
func SinceLabel(from, to time.Time) string {
	if from.IsZero() {
		return ""
	}
	return FormatDuration(to.Sub(from))
}

// FormatDuration renders d as a compact "1m30s"-style string with at
// most two units, rounded to the second. Sub-second remainders are
// dropped since the daemon's cadence is never usefully sub-second to an
// operator reading the log.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	var out string
	switch {
	case days > 0:
		out = formatUnits(int(days), "d", int(hours), "h", 0, "")
	case hours > 0:
		out = formatUnits(int(hours), "h", int(minutes), "m", 0, "")
	case minutes > 0:
		out = formatUnits(int(minutes), "m", int(seconds), "s", 0, "")
	default:
		out = formatUnits(int(seconds), "s", 0, "", 0, "")
	}
	return out
}

// formatUnits concatenates up to three (value, suffix) pairs. The second
// pair is written whenever its suffix is non-empty, even with a zero
// value; the third is skipped when its value is zero, e.g.
// (1,"h",2,"m",0,"") -> "1h2m", (1,"h",0,"m",0,"") -> "1h0m".
func formatUnits(v1 int, s1 string, v2 int, s2 string, v3 int, s3 string) string {
	out := strconv.Itoa(v1) + s1
	if s2 != "" {
		out += strconv.Itoa(v2) + s2
	}
	if s3 != "" && v3 > 0 {
		out += strconv.Itoa(v3) + s3
	}
	return out
}

// TimeOfDay encodes t's local hour/minute as HH*100+MM, the packed form
// host monitoring windows are compared in.
func TimeOfDay(t time.Time) int {
	local := t.Local()
	return local.Hour()*100 + local.Minute()
}

// TodayAt returns the local time today (relative to now) at the given
// HH*100+MM time-of-day, used to schedule the 17:00 default SLA report.
func TodayAt(now time.Time, hhmm int) time.Time {
	local := now.Local()
	hour := hhmm / 100
	minute := hhmm % 100
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, local.Location())
}
