package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/elsker-net/linkwatch/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.HostUp == nil {
		t.Error("HostUp is nil")
	}
	if c.HostDowntimeSeconds == nil {
		t.Error("HostDowntimeSeconds is nil")
	}
	if c.HostDownTransitions == nil {
		t.Error("HostDownTransitions is nil")
	}
	if c.PacerIntervalMS == nil {
		t.Error("PacerIntervalMS is nil")
	}
	if c.OptimalRetry == nil {
		t.Error("OptimalRetry is nil")
	}
	if c.Notifications == nil {
		t.Error("Notifications is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSetHostUp(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetHostUp("router1", true)
	if v := gaugeValue(t, c.HostUp, "router1"); v != 1 {
		t.Errorf("HostUp(router1) = %v, want 1", v)
	}

	c.SetHostUp("router1", false)
	if v := gaugeValue(t, c.HostUp, "router1"); v != 0 {
		t.Errorf("HostUp(router1) = %v, want 0", v)
	}
}

func TestSetHostDowntime(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetHostDowntime("router1", 42.5)
	if v := gaugeValue(t, c.HostDowntimeSeconds, "router1"); v != 42.5 {
		t.Errorf("HostDowntimeSeconds(router1) = %v, want 42.5", v)
	}
}

func TestIncHostDownTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncHostDownTransition("router1")
	c.IncHostDownTransition("router1")

	if v := counterValue(t, c.HostDownTransitions, "router1"); v != 2 {
		t.Errorf("HostDownTransitions(router1) = %v, want 2", v)
	}
}

func TestPacerAndRetryGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetPacerInterval(42)
	c.SetOptimalRetry(2)

	m := &dto.Metric{}
	if err := c.PacerIntervalMS.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetGauge().GetValue() != 42 {
		t.Errorf("PacerIntervalMS = %v, want 42", m.GetGauge().GetValue())
	}

	m = &dto.Metric{}
	if err := c.OptimalRetry.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.GetGauge().GetValue() != 2 {
		t.Errorf("OptimalRetry = %v, want 2", m.GetGauge().GetValue())
	}
}

func TestIncNotification(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncNotification("down")
	c.IncNotification("down")
	c.IncNotification("up")

	if v := counterValue(t, c.Notifications, "down"); v != 2 {
		t.Errorf("Notifications(down) = %v, want 2", v)
	}
	if v := counterValue(t, c.Notifications, "up"); v != 1 {
		t.Errorf("Notifications(up) = %v, want 1", v)
	}
}

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
