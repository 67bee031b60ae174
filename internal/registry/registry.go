// Package registry holds the fixed set of monitored hosts and their
// mutable per-host state.
//
// The registry is a flat, index-stable slice built once at startup. A
// host's slot index doubles as the ICMP sequence number the Scheduler
// sends and correlates replies by, so entries are never reordered,
// inserted, or removed after Load/Add completes. All runtime mutation of
// Host fields is performed by the scheduler package; Registry itself
// only provides storage, bounded capacity, and the aggregate counters
// that are cheap to keep incrementally (local-host count, unreachable
// count) rather than recomputed by a scan every cycle.
package registry

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrFull is returned by Add when the registry was constructed with a
// fixed capacity that has been exhausted. Registry overflow during
// load is fatal.
var ErrFull = errors.New("registry: capacity exhausted")

// ErrIndexRange is returned by Get for an out-of-range index.
var ErrIndexRange = errors.New("registry: index out of range")

// Host is one monitored target and its mutable runtime state. Remaining
// deliberately keeps its dual use — retry budget and replied-this-cycle
// signal in one counter — so the observable off-by-one in the
// optimal-retry statistic is preserved.
type Host struct {
	// Label is the human-readable name used in logs and notifications.
	Label string

	// Address is the monitored host's IPv4 address.
	Address net.IP

	// Index is this host's stable slot in the registry; reused as the
	// ICMP sequence number for probes sent to it.
	Index int

	// RetryMax is this host's retry budget. Defaults to the daemon-wide
	// --retry value when the host file doesn't override it.
	RetryMax int

	// Remaining counts down from RetryMax on every probe sent and resets
	// to RetryMax on any correlated reply; it is simultaneously the
	// "have I heard back this cycle" signal.
	Remaining int

	// Alive is the host's current up/down state. Starts true
	// (optimistic): a down transition requires active evidence.
	Alive bool

	// PacketScheduleSecs is the minimum seconds between probes to this
	// host. Zero means "every cycle" — a "local" host.
	PacketScheduleSecs int

	// FirstResponseTS is the wall time of the first reply since the most
	// recent up-transition; used to compute uptime on the next down
	// transition.
	FirstResponseTS time.Time

	// LastResponseTS is the wall time of the most recent reply; used to
	// compute downtime on the next up-transition.
	LastResponseTS time.Time

	// NextDueTS is the earliest wall time at which this host may be
	// probed again.
	NextDueTS time.Time

	// MonitorFrom and MonitorUntil are HHMM (0-2359) time-of-day bounds.
	// MonitorUntil == 0 means "always monitor".
	MonitorFrom  int
	MonitorUntil int

	// MACExpected is the first-observed L2 address for this host, when
	// --mac_check is enabled. Nil until the first correlated reply.
	MACExpected net.HardwareAddr

	// DowntimeSecs is cumulative seconds spent down since daemon start.
	DowntimeSecs float64

	// DownCount is the number of distinct down episodes.
	DownCount int
}

// IsLocal reports whether h is a "local" host — probed every cycle and
// counted toward the adaptive-interval backlog statistic.
func (h *Host) IsLocal() bool { return h.PacketScheduleSecs == 0 }

// InWindow reports whether the given local time-of-day (HH*100+MM, see
// clock.TimeOfDay) falls within [MonitorFrom, MonitorUntil] inclusive.
// MonitorUntil == 0 means "no window" — always true.
func (h *Host) InWindow(todHHMM int) bool {
	if h.MonitorUntil == 0 {
		return true
	}
	return todHHMM >= h.MonitorFrom && todHHMM <= h.MonitorUntil
}

// Registry is the fixed, index-stable sequence of monitored hosts.
type Registry struct {
	hosts               []Host
	cap                 int
	localCount          int
	numLocalUnreachable int
}

// New returns an empty Registry with room for up to capacity hosts.
// capacity <= 0 means unbounded (Add never returns ErrFull).
func New(capacity int) *Registry {
	return &Registry{
		hosts: make([]Host, 0, maxInt(capacity, 0)),
		cap:   capacity,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Add appends a new host entry, assigning it the next sequential index.
// The caller supplies every field except Index, Remaining and Alive,
// which Add initialises (Remaining = RetryMax, Alive = true,
// optimistic).
func (r *Registry) Add(h Host) (int, error) {
	if r.cap > 0 && len(r.hosts) >= r.cap {
		return 0, fmt.Errorf("add host %q: %w", h.Label, ErrFull)
	}

	h.Index = len(r.hosts)
	h.Remaining = h.RetryMax
	h.Alive = true
	r.hosts = append(r.hosts, h)

	if h.IsLocal() {
		r.localCount++
	}
	return h.Index, nil
}

// Get returns a pointer to the host at index, for in-place mutation by
// the scheduler. The pointer is valid for the registry's lifetime since
// hosts are never reordered or removed.
func (r *Registry) Get(index int) (*Host, error) {
	if index < 0 || index >= len(r.hosts) {
		return nil, fmt.Errorf("get host %d: %w", index, ErrIndexRange)
	}
	return &r.hosts[index], nil
}

// Len returns the number of registered hosts.
func (r *Registry) Len() int { return len(r.hosts) }

// CountLocal returns the number of hosts with PacketScheduleSecs == 0.
func (r *Registry) CountLocal() int { return r.localCount }

// CountLocalUnreachable returns the number of local hosts currently down.
// Maintained incrementally via MarkUnreachable/MarkReachable rather
// than rescanned every cycle.
func (r *Registry) CountLocalUnreachable() int { return r.numLocalUnreachable }

// MarkUnreachable records that a host transitioned to down. Only local
// hosts move the counter.
func (r *Registry) MarkUnreachable(h *Host) {
	if h.IsLocal() {
		r.numLocalUnreachable++
	}
}

// MarkReachable records that a local host transitioned to up.
func (r *Registry) MarkReachable(h *Host) {
	if h.IsLocal() && r.numLocalUnreachable > 0 {
		r.numLocalUnreachable--
	}
}

// All returns every host in index order, for the Reporter's SLA pass and
// the status line's recorded-MAC count.
func (r *Registry) All() []Host { return r.hosts }

// Each calls fn with a pointer to every host in index order, allowing
// in-place mutation without copying Host out and back in.
func (r *Registry) Each(fn func(*Host)) {
	for i := range r.hosts {
		fn(&r.hosts[i])
	}
}
