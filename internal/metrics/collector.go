// Package metrics exposes linkwatchd's runtime state as Prometheus
// metrics: per-host reachability gauges, cumulative downtime, the
// adaptive pacer's current interval, and counters mirroring the
// Reporter's transition/notification lines. Opt-in via --metrics_addr;
// nothing here runs on the scheduler's hot path — the state-change
// bridge in cmd/linkwatchd feeds the collector from its own goroutine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "linkwatch"

// labelHost is the label name used on every per-host metric.
const labelHost = "host"

// Collector holds every linkwatchd Prometheus metric.
type Collector struct {
	// HostUp is 1 when a host is currently reachable, 0 when down.
	HostUp *prometheus.GaugeVec

	// HostDowntimeSeconds is cumulative seconds a host has spent down
	// since daemon start, mirroring registry.Host.DowntimeSecs.
	HostDowntimeSeconds *prometheus.GaugeVec

	// HostDownTransitions counts distinct down episodes per host,
	// mirroring registry.Host.DownCount.
	HostDownTransitions *prometheus.CounterVec

	// PacerIntervalMS is the adaptive pacer's current interval.
	PacerIntervalMS prometheus.Gauge

	// OptimalRetry is the current window's observed optimal retry value.
	OptimalRetry prometheus.Gauge

	// Notifications counts external notify-command invocations by state
	// ("up", "down", "nids", "n/a" for the OVERLOAD marker).
	Notifications *prometheus.CounterVec
}

// NewCollector creates a Collector with every metric registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.HostUp,
		c.HostDowntimeSeconds,
		c.HostDownTransitions,
		c.PacerIntervalMS,
		c.OptimalRetry,
		c.Notifications,
	)

	return c
}

func newMetrics() *Collector {
	hostLabels := []string{labelHost}

	return &Collector{
		HostUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_up",
			Help:      "1 if the host answered its most recent probe cycle, 0 if down.",
		}, hostLabels),

		HostDowntimeSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_downtime_seconds_total",
			Help:      "Cumulative seconds this host has spent unreachable since daemon start.",
		}, hostLabels),

		HostDownTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_down_transitions_total",
			Help:      "Number of times this host transitioned from alive to unreachable.",
		}, hostLabels),

		PacerIntervalMS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pacer_interval_ms",
			Help:      "Current adaptive inter-probe pacing interval, in milliseconds.",
		}),

		OptimalRetry: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "optimal_retry",
			Help:      "Highest observed retry count needed by a default-retry-budget host this window.",
		}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total external notify-command invocations, by state.",
		}, []string{"state"}),
	}
}

// SetHostUp records a host's current reachability.
func (c *Collector) SetHostUp(host string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	c.HostUp.WithLabelValues(host).Set(v)
}

// SetHostDowntime records a host's cumulative downtime.
func (c *Collector) SetHostDowntime(host string, seconds float64) {
	c.HostDowntimeSeconds.WithLabelValues(host).Set(seconds)
}

// IncHostDownTransition records one more down episode for a host.
func (c *Collector) IncHostDownTransition(host string) {
	c.HostDownTransitions.WithLabelValues(host).Inc()
}

// SetPacerInterval records the adaptive pacer's current interval.
func (c *Collector) SetPacerInterval(ms int) {
	c.PacerIntervalMS.Set(float64(ms))
}

// SetOptimalRetry records the current window's observed optimal retry.
func (c *Collector) SetOptimalRetry(n int) {
	c.OptimalRetry.Set(float64(n))
}

// IncNotification records one notify-command invocation for state.
func (c *Collector) IncNotification(state string) {
	c.Notifications.WithLabelValues(state).Inc()
}
