// Common-interval table for the adaptive pacer's load-time clamping,
// in the spirit of RFC 7419's named common intervals for BFD: a small
// set of sane, recognisable values, adapted to this pacer's millisecond
// range, with the table's first entry doubling as the pacer's absolute
// floor.
package scheduler

import "time"

// CommonIntervals is a small table of human-recognisable pacer interval
// values, ascending. The first entry is the pacer's absolute floor; the
// pacer's actual interval arithmetic operates on the raw millisecond
// value, untouched by this table.
//
//nolint:gochecknoglobals // Lookup table is intentionally package-level.
var CommonIntervals = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// ClampToMinimum returns d if it is at or above CommonIntervals[0] (the
// pacer's absolute floor), else returns CommonIntervals[0]. Applied to
// the configured --interval when the Scheduler is constructed.
func ClampToMinimum(d time.Duration) time.Duration {
	if d < CommonIntervals[0] {
		return CommonIntervals[0]
	}
	return d
}
