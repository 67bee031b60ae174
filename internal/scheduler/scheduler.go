// Package scheduler implements the outer cycle loop: the pacer that
// decides which hosts are due this cycle, emits probes paced by an
// adaptive interval, drains replies, correlates them to hosts, applies
// state transitions through the hoststate FSM, and adjusts the interval
// for the next cycle.
//
// The scheduler is the sole owner of the raw socket and the sole
// mutator of the registry: there is exactly one thread of
// control, so no locking is needed around Host fields. The only
// suspension point is a bounded socket read inside correlateOne.
package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/elsker-net/linkwatch/internal/clock"
	"github.com/elsker-net/linkwatch/internal/hoststate"
	"github.com/elsker-net/linkwatch/internal/neigh"
	"github.com/elsker-net/linkwatch/internal/netio"
	"github.com/elsker-net/linkwatch/internal/notify"
	"github.com/elsker-net/linkwatch/internal/probe"
	"github.com/elsker-net/linkwatch/internal/registry"
	"github.com/elsker-net/linkwatch/internal/report"
)

// drainBatchSize is how many hosts the send phase walks between
// mid-cycle backlog drains.
const drainBatchSize = 10

// midCycleDrainTimeout is the short wait used when draining backlog
// mid-cycle, long enough to pick up queued replies without stalling the
// send phase.
const midCycleDrainTimeout = time.Millisecond

// intervalGrowStep is how much the adaptive interval grows per cycle
// with backlog.
const intervalGrowStep = 2 * time.Millisecond

// adjustingDecayThreshold is the number of consecutive idle cycles
// before interval decay begins.
const adjustingDecayThreshold = 9

// adjustingHoldSentinel is the large-negative value adjusting is reset
// to on hitting the interval floor, holding off further decay until the
// next backlog event.
const adjustingHoldSentinel = -32000

// statusStartupDelay is the first status line's delay after startup.
const statusStartupDelay = 5 * time.Second

// defaultSLAHour is the HHMM the Reporter falls back to scheduling an
// automatic SLA report at, when the daemon starts before that hour and
// --slarep wasn't given.
const defaultSLAHour = 1700

// StateChange is published on the Scheduler's internal channel every
// time a host's up/down state changes. The scheduler applies the
// transition to the registry synchronously; this channel is an
// additional, optional observation point for consumers like the
// metrics bridge rather than part of the core control flow.
type StateChange struct {
	HostIndex int
	Label     string
	From      hoststate.State
	To        hoststate.State
	At        time.Time
}

// Config holds the cycle-loop tunables.
type Config struct {
	// TimeoutMS is the per-cycle drain wait, --timeout (min 500ms,
	// default 1000ms).
	TimeoutMS int

	// IntervalMS is the initial and floor inter-probe pacing, --interval
	// (min 5ms, default 10ms).
	IntervalMS int

	// DefaultRetry is the default per-host retry budget, --retry (min 1,
	// default 3). Used both to seed hosts that didn't override it and to
	// decide which hosts count toward OptimalRetry.
	DefaultRetry int

	// UpdateSecs is the status-line cadence, --update (default 300s).
	UpdateSecs int

	// SLARepSecs, if > 0, makes the daemon emit one SLA report and exit
	// after this many seconds (--slarep).
	SLARepSecs int

	// MACCheckEnabled turns on the MAC-check/NIDS-warning policy.
	MACCheckEnabled bool

	// Identifier is the ICMP identifier fixed for the daemon's lifetime
	// (low 16 bits of the process id).
	Identifier uint16
}

// Scheduler is the core probe/reply cycle loop.
type Scheduler struct {
	cfg Config

	reg      *registry.Registry
	conn     netio.Conn
	resolver neigh.Resolver
	notifier *notify.Notifier
	rep      *report.Writer
	clk      clock.Clock
	logger   *slog.Logger

	// hungStateDir, when non-empty, is the optional external state
	// directory: a per-host file whose mtime can rewind LastResponseTS,
	// and which, for a host still down at report time with an mtime
	// earlier than its last response, contributes extra downtime and a
	// synthetic episode to the next SLA report. Off by default.
	hungStateDir string

	stateChanges chan StateChange
	hangup       chan struct{}
	hangupOnce   sync.Once

	startTime   time.Time
	minInterval time.Duration

	// Cycle-loop locals, carried as Scheduler fields only because Run
	// owns a single loop iteration at a time and this keeps the method
	// signatures small.
	interval     time.Duration
	adjusting    int
	queueLen     int
	optimalRetry int

	cyclesSinceStatus int
	nextStatusAt      time.Time
	slaDeadline       time.Time
	slaExitAfter      bool
	slaReported       bool
}

// WithHungStateDir enables the optional external state-directory hook
// on an already-constructed Scheduler.
func (s *Scheduler) WithHungStateDir(dir string) *Scheduler {
	s.hungStateDir = dir
	return s
}

// New constructs a Scheduler. conn, reg, notifier, rep and clk must be
// non-nil; resolver may be neigh.NoopResolver{} when MAC-check is
// disabled.
func New(
	cfg Config,
	reg *registry.Registry,
	conn netio.Conn,
	resolver neigh.Resolver,
	notifier *notify.Notifier,
	rep *report.Writer,
	clk clock.Clock,
	logger *slog.Logger,
) *Scheduler {
	now := clk.Now()

	minInterval := ClampToMinimum(time.Duration(cfg.IntervalMS) * time.Millisecond)

	s := &Scheduler{
		cfg:          cfg,
		reg:          reg,
		conn:         conn,
		resolver:     resolver,
		notifier:     notifier,
		rep:          rep,
		clk:          clk,
		logger:       logger,
		stateChanges: make(chan StateChange, reg.Len()+1),
		hangup:       make(chan struct{}),
		startTime:    now,
		minInterval:  minInterval,
		interval:     minInterval,
		nextStatusAt: now.Add(statusStartupDelay),
	}

	if cfg.SLARepSecs > 0 {
		s.slaDeadline = now.Add(time.Duration(cfg.SLARepSecs) * time.Second)
		s.slaExitAfter = true
	} else if clock.TimeOfDay(now) < defaultSLAHour {
		s.slaDeadline = clock.TodayAt(now, defaultSLAHour)
	}

	return s
}

// Interval returns the current adaptive pacer interval. Exposed for
// metrics and tests; the scheduler itself only ever reads it internally.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// OptimalRetry returns the current window's observed optimal retry
// value.
func (s *Scheduler) OptimalRetry() int { return s.optimalRetry }

// StateChanges returns the channel StateChange events are published on.
// Callers must drain it (or never read from it) — it is sized to the
// registry length plus one and a scheduler cycle never produces more
// than one transition per host, so a consumer reading once per cycle
// never blocks the scheduler.
func (s *Scheduler) StateChanges() <-chan StateChange { return s.stateChanges }

// Run drives cycles until ctx is cancelled, Hangup is called, or an
// SLA-and-exit report fires. Both ctx and the hangup flag are checked
// cooperatively at cycle boundaries only, so no asynchronous signal
// handler ever touches the registry; a hangup produces the final SLA
// report before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stateChanges)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hangup:
			s.rep.Debug("hang-up received, producing final report")
			s.emitFinalSLA()
			return nil
		default:
		}

		exit, err := s.runCycle(ctx)
		if err != nil {
			return err
		}
		if exit {
			return nil
		}
	}
}

// Hangup requests a graceful stop: the cycle loop notices at its next
// boundary, emits the final SLA report from its own goroutine, and
// returns. Safe to call from any goroutine, any number of times.
func (s *Scheduler) Hangup() {
	s.hangupOnce.Do(func() { close(s.hangup) })
}

// runCycle executes exactly one send/status/adapt/drain/failure-scan
// pass. Returns exit=true when a --slarep report has just been produced
// and the daemon should terminate.
func (s *Scheduler) runCycle(ctx context.Context) (exit bool, err error) {
	now := s.clk.Now()
	tod := clock.TimeOfDay(now)

	s.queueLen = 0
	buf := make([]byte, probe.RequestSize)

	n := s.reg.Len()
	for i := 0; i < n; i++ {
		host, getErr := s.reg.Get(i)
		if getErr != nil {
			return false, fmt.Errorf("send phase: %w", getErr)
		}

		if !host.InWindow(tod) {
			continue
		}
		if now.Before(host.NextDueTS) {
			continue
		}

		if host.Alive && host.Remaining < host.RetryMax && host.IsLocal() {
			s.queueLen++
		}
		if host.Remaining > 0 {
			host.Remaining--
		}

		if sendErr := s.sendProbe(host, buf); sendErr != nil {
			s.logger.Warn("glitch sending probe, retrying once",
				slog.String("host", host.Label), slog.String("error", sendErr.Error()))
			time.Sleep(time.Millisecond)
			if sendErr = s.sendProbe(host, buf); sendErr != nil {
				return false, fmt.Errorf("send probe to %s: %w", host.Label, sendErr)
			}
		}

		s.correlateOne(s.interval)

		host.NextDueTS = now.Add(time.Duration(host.PacketScheduleSecs) * time.Second)

		if i%drainBatchSize == drainBatchSize-1 || i == n-1 {
			s.drainBacklog()
		}
	}

	s.cyclesSinceStatus++
	if !s.clk.Now().Before(s.nextStatusAt) {
		s.printStatus()
		if s.slaDue() {
			s.emitSLA()
			if s.slaExitAfter {
				return true, nil
			}
		}
	}

	s.adjustInterval()
	s.drainUntilIdle(ctx)
	s.failureScan()

	return false, nil
}

func (s *Scheduler) sendProbe(host *registry.Host, buf []byte) error {
	if _, err := probe.Build(buf, s.cfg.Identifier, uint16(host.Index)); err != nil {
		return fmt.Errorf("build echo request: %w", err)
	}

	var dst [4]byte
	ip4 := host.Address.To4()
	if ip4 == nil {
		return fmt.Errorf("host %s has no IPv4 address", host.Label)
	}
	copy(dst[:], ip4)

	if err := s.conn.Send(buf, dst); err != nil {
		return fmt.Errorf("send to %s: %w", host.Label, err)
	}
	return nil
}

// correlationOutcome classifies the result of one correlateOne call.
type correlationOutcome int

const (
	correlationNone correlationOutcome = iota
	correlationSpurious
	correlationMatched
)

// correlateOne reads up to one datagram with timeout and, if it
// correlates to a registered host, applies the reply. Invoked from both
// the send phase and the drain phases.
func (s *Scheduler) correlateOne(timeout time.Duration) correlationOutcome {
	buf := make([]byte, 128)
	n, err := s.conn.Recv(buf, timeout)
	if err != nil {
		if errors.Is(err, netio.ErrTimeout) {
			return correlationNone
		}
		s.logger.Warn("socket read error", slog.String("error", err.Error()))
		return correlationNone
	}

	reply, err := probe.Parse(buf[:n], s.cfg.Identifier)
	if err != nil {
		return correlationSpurious
	}

	if int(reply.Sequence) >= s.reg.Len() {
		s.rep.InvalidPacket("sequence %d out of range [0,%d)", reply.Sequence, s.reg.Len())
		return correlationSpurious
	}

	host, getErr := s.reg.Get(int(reply.Sequence))
	if getErr != nil {
		s.rep.InvalidPacket("%v", getErr)
		return correlationSpurious
	}

	hostAddr4 := host.Address.To4()
	if hostAddr4 == nil || !bytes.Equal(hostAddr4, reply.Source[:]) {
		s.rep.InvalidPacket("source %v does not match %s (%v)",
			net.IP(reply.Source[:]), host.Label, host.Address)
		return correlationSpurious
	}

	s.applyReply(host)
	return correlationMatched
}

// applyReply applies a correlated reply: MAC check, OptimalRetry
// tracking, the FSM transition and its returned actions, and the
// timestamp/retry-budget bookkeeping the FSM itself stays pure of.
func (s *Scheduler) applyReply(host *registry.Host) {
	now := s.clk.Now()

	if s.cfg.MACCheckEnabled {
		s.checkMAC(host)
	}

	if host.RetryMax == s.cfg.DefaultRetry {
		observed := host.RetryMax - host.Remaining
		if observed > s.optimalRetry {
			s.optimalRetry = observed
		}
	}

	host.Remaining = host.RetryMax

	priorState := hoststate.Alive
	if !host.Alive {
		priorState = hoststate.Down
	}
	result := hoststate.Apply(priorState, hoststate.EventReply)

	if !result.Changed {
		host.LastResponseTS = now
		return
	}

	if s.hungStateDir != "" {
		rewindHungState(s.hungStateDir, host)
	}
	downtime := now.Sub(host.LastResponseTS)
	if host.LastResponseTS.IsZero() {
		downtime = now.Sub(s.startTime)
	}

	for _, act := range result.Actions {
		switch act {
		case hoststate.ActionAccumulateDowntime:
			host.DowntimeSecs += downtime.Seconds()
		case hoststate.ActionLogAlive:
			s.rep.Alive(host.Label, clock.FormatDuration(downtime))
		case hoststate.ActionNotifyUp:
			s.notifier.Notify(context.Background(), host.Label, "up", "host recovered")
		}
	}

	host.Alive = true
	host.FirstResponseTS = now
	host.LastResponseTS = now
	s.reg.MarkReachable(host)
	s.publishChange(host, result.OldState, result.NewState, now)
}

// checkMAC records a host's first observed MAC and warns when a later
// reply arrives from a different one.
func (s *Scheduler) checkMAC(host *registry.Host) {
	mac, ok := s.resolver.ResolveMAC(host.Address)
	if !ok {
		return
	}

	if host.MACExpected == nil {
		host.MACExpected = mac
		return
	}

	if bytes.Equal(host.MACExpected, mac) {
		return
	}

	s.logger.Warn("NIDS warning: MAC address changed",
		slog.String("host", host.Label),
		slog.String("old_mac", host.MACExpected.String()),
		slog.String("new_mac", mac.String()))

	host.MACExpected = mac
	s.notifier.Notify(context.Background(), host.Label, "nids", "unexpected MAC source address change")
}

// drainBacklog drains replies with the short mid-cycle timeout until
// none arrives, so fast send bursts can't pile up unread replies.
func (s *Scheduler) drainBacklog() {
	for s.correlateOne(midCycleDrainTimeout) != correlationNone {
	}
}

// drainUntilIdle is the end-of-cycle drain phase: it also enforces the
// minimum inter-cycle pause of `timeout` ms.
func (s *Scheduler) drainUntilIdle(ctx context.Context) {
	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.correlateOne(timeout) == correlationNone {
			return
		}
	}
}

// adjustInterval grows the interval on backlog and decays it after a
// run of idle cycles, floored at the configured minimum.
func (s *Scheduler) adjustInterval() {
	minInterval := s.minInterval

	if s.queueLen > 0 {
		s.interval += intervalGrowStep
		s.queueLen = 0
		s.adjusting = 0
		return
	}

	s.adjusting++
	if s.adjusting > adjustingDecayThreshold && s.interval > minInterval {
		s.interval -= time.Duration(s.adjusting/10) * time.Millisecond
		if s.interval <= minInterval {
			s.interval = minInterval
			s.adjusting = adjustingHoldSentinel
		}
	}
}

// failureScan transitions hosts whose retry budget hit zero this cycle
// without a reply to down.
func (s *Scheduler) failureScan() {
	now := s.clk.Now()

	s.reg.Each(func(host *registry.Host) {
		if host.Remaining != 0 || !host.Alive {
			return
		}

		result := hoststate.Apply(hoststate.Alive, hoststate.EventExhausted)
		if !result.Changed {
			return
		}

		uptime := clock.SinceLabel(host.FirstResponseTS, host.LastResponseTS)
		for _, act := range result.Actions {
			switch act {
			case hoststate.ActionLogUnreachable:
				s.rep.Unreachable(host.Label, uptime)
			case hoststate.ActionNotifyDown:
				s.notifier.Notify(context.Background(), host.Label, "down", "host stopped responding")
			}
		}

		s.reg.MarkUnreachable(host)
		host.DownCount++
		host.Alive = false
		s.publishChange(host, result.OldState, result.NewState, now)
	})
}

func (s *Scheduler) publishChange(host *registry.Host, from, to hoststate.State, at time.Time) {
	select {
	case s.stateChanges <- StateChange{HostIndex: host.Index, Label: host.Label, From: from, To: to, At: at}:
	default:
		// A consumer that isn't draining the channel must not be able to
		// stall the single control thread.
	}
}

func (s *Scheduler) printStatus() {
	now := s.clk.Now()
	macCount := 0
	if s.cfg.MACCheckEnabled {
		for _, h := range s.reg.All() {
			if h.MACExpected != nil {
				macCount++
			}
		}
	}

	s.rep.Status(report.Status{
		QueueLen:        s.queueLen,
		Unreachable:     s.reg.CountLocalUnreachable(),
		IntervalMS:      int(s.interval / time.Millisecond),
		OptimalRetry:    s.optimalRetry,
		Cycles:          s.cyclesSinceStatus,
		MACCount:        macCount,
		MACCheckEnabled: s.cfg.MACCheckEnabled,
	})

	s.nextStatusAt = now.Add(time.Duration(s.cfg.UpdateSecs) * time.Second)
	s.cyclesSinceStatus = 0
}

func (s *Scheduler) slaDue() bool {
	if s.slaDeadline.IsZero() || s.slaReported {
		return false
	}
	return !s.clk.Now().Before(s.slaDeadline)
}

func (s *Scheduler) emitSLA() {
	s.slaReported = true
	s.rep.SLAReport(s.reg.All(), s.clk.Now(), s.startTime, s.hungServiceOffsets())
}

// emitFinalSLA emits the hang-up report unconditionally, even when a
// scheduled SLA already fired earlier in the run.
func (s *Scheduler) emitFinalSLA() {
	s.rep.SLAReport(s.reg.All(), s.clk.Now(), s.startTime, s.hungServiceOffsets())
}

// hungServiceOffsets is nil (disabled) unless hungStateDir was
// configured; WithHungStateDir enables it.
func (s *Scheduler) hungServiceOffsets() map[int]float64 {
	if s.hungStateDir == "" {
		return nil
	}
	return scanHungStateDir(s.hungStateDir, s.reg, s.startTime)
}
