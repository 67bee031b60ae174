package report_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/elsker-net/linkwatch/internal/clock"
	"github.com/elsker-net/linkwatch/internal/registry"
	"github.com/elsker-net/linkwatch/internal/report"
)

func TestAliveWithAndWithoutDuration(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	w.Alive("h1", "")
	w.Alive("h2", "5m")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if !strings.HasSuffix(lines[0], "h1 is alive") {
		t.Errorf("line 0 = %q, want suffix 'h1 is alive'", lines[0])
	}
	if !strings.HasSuffix(lines[1], "h2 is alive, after 5m") {
		t.Errorf("line 1 = %q, want suffix 'h2 is alive, after 5m'", lines[1])
	}
}

func TestUnreachableWithAndWithoutDuration(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	w.Unreachable("h1", "")
	w.Unreachable("h2", "2h")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if !strings.HasSuffix(lines[0], "h1 is unreachable") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "h2 is unreachable, after 2h") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestStatusWithAndWithoutMAC(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	w.Status(report.Status{QueueLen: 1, Unreachable: 2, IntervalMS: 10, OptimalRetry: 3, Cycles: 4})
	w.Status(report.Status{QueueLen: 1, Unreachable: 2, IntervalMS: 10, OptimalRetry: 3, Cycles: 4, MACCheckEnabled: true, MACCount: 5})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if !strings.Contains(lines[0], "Waiting on 1 (2 unreachable), I:10ms R:3 C:4") || strings.Contains(lines[0], "M:") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "M:5") {
		t.Errorf("line 1 = %q, want M:5 suffix", lines[1])
	}
}

func TestSLAReportSkipsZeroEpisodeHosts(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	start := time.Unix(0, 0)
	now := start.Add(100 * time.Second)

	hosts := []registry.Host{
		{Label: "never-down", Alive: true, DownCount: 0},
		{Label: "was-down", Alive: true, DownCount: 1, DowntimeSecs: 10},
	}

	w.SLAReport(hosts, now, start, nil)

	out := buf.String()
	if strings.Contains(out, "never-down") {
		t.Error("host with zero episodes should be skipped")
	}
	if !strings.Contains(out, "was-down") {
		t.Error("host with an episode should be reported")
	}
	if !strings.Contains(out, "down(sec) 10") {
		t.Errorf("output = %q, want down(sec) 10", out)
	}
}

func TestSLAReportAddsInProgressDowntime(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	start := time.Unix(0, 0)
	now := start.Add(100 * time.Second)
	lastResponse := start.Add(60 * time.Second)

	hosts := []registry.Host{
		{Label: "down-now", Alive: false, DownCount: 1, LastResponseTS: lastResponse},
	}

	w.SLAReport(hosts, now, start, nil)

	// In-progress downtime = now - lastResponse = 40s.
	if !strings.Contains(buf.String(), "down(sec) 40") {
		t.Errorf("output = %q, want down(sec) 40", buf.String())
	}
}

func TestSLAReportHungServiceOffsetAddsEpisode(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	start := time.Unix(0, 0)
	now := start.Add(100 * time.Second)

	hosts := []registry.Host{
		{Label: "h1", Index: 0, Alive: true, DownCount: 0, DowntimeSecs: 0},
	}

	w.SLAReport(hosts, now, start, map[int]float64{0: 30})

	out := buf.String()
	if !strings.Contains(out, "h1") || !strings.Contains(out, "count 1") {
		t.Errorf("output = %q, want a synthetic episode for h1", out)
	}
}

func TestSLAReportDebugDumpOnSkew(t *testing.T) {
	var buf bytes.Buffer
	w := report.New(&buf, clock.Fixed(time.Unix(0, 0)))

	start := time.Unix(0, 0)
	now := start.Add(10 * time.Second)

	hosts := []registry.Host{
		{Label: "h1", Alive: true, DownCount: 1, DowntimeSecs: 9999},
	}

	w.SLAReport(hosts, now, start, nil)

	if !strings.Contains(buf.String(), "DEBUG") {
		t.Errorf("expected a DEBUG dump when downtime exceeds period, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "SLA_REP") {
		t.Errorf("expected the SLA line to still be emitted, got %q", buf.String())
	}
}
