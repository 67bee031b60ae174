// linkwatchd monitors a list of IPv4 hosts by ICMP echo and reports
// liveness transitions, periodic status, and SLA summaries.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/elsker-net/linkwatch/internal/clock"
	"github.com/elsker-net/linkwatch/internal/config"
	"github.com/elsker-net/linkwatch/internal/hostfile"
	"github.com/elsker-net/linkwatch/internal/hoststate"
	appmetrics "github.com/elsker-net/linkwatch/internal/metrics"
	"github.com/elsker-net/linkwatch/internal/neigh"
	"github.com/elsker-net/linkwatch/internal/netio"
	"github.com/elsker-net/linkwatch/internal/notify"
	"github.com/elsker-net/linkwatch/internal/registry"
	"github.com/elsker-net/linkwatch/internal/report"
	"github.com/elsker-net/linkwatch/internal/scheduler"
	appversion "github.com/elsker-net/linkwatch/internal/version"
)

// exitUsageError is returned for malformed command lines.
const exitUsageError = 2

// exitEmptyHostList is the exit code for an empty host list.
const exitEmptyHostList = 1

// exitFatal is the exit code for unrecoverable runtime errors.
const exitFatal = 4

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("linkwatchd", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to configuration file (YAML)")
	hostsFile := fs.String("file", "", `host list path, "-" for standard input`)
	version := fs.Bool("version", false, "print version and exit")

	// These flags are read by config.Load via fs.Visit, not locally —
	// the variables only need to exist so flag.FlagSet registers them.
	fs.Int("timeout", 1000, "per-cycle drain wait in ms (min 500)")
	fs.Int("interval", 10, "initial/floor inter-probe pacing in ms (min 5)")
	fs.Int("retry", 3, "default per-host retry budget (min 1)")
	fs.Int("update", 300, "status-line cadence in seconds")
	fs.Int("slarep", 0, "emit one SLA report and exit after this many seconds")
	fs.String("log", "", "append report output to this file instead of stdout (the process does not detach; ambient logs stay on stderr)")
	fs.String("notify", "", `external command invoked as <cmd> "<host>" "<state>" "<message>"`)
	fs.Bool("mac_check", false, "enable MAC/NIDS change detection")
	fs.String("hung_state_dir", "", "optional external hung-service state directory")
	fs.String("metrics_addr", "", "Prometheus metrics listen address; empty disables metrics")
	fs.String("log_level", "info", "ambient log level: debug, info, warn, error")
	fs.String("log_format", "json", "ambient log format: json or text")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsageError
	}

	if *version {
		fmt.Println(appversion.Full("linkwatchd"))
		return 0
	}

	hosts := fs.Args()
	if *hostsFile != "" && len(hosts) > 0 {
		fmt.Fprintln(os.Stderr, "linkwatchd: --file and positional hosts are mutually exclusive")
		return exitUsageError
	}

	cfg, err := config.Load(*configPath, fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkwatchd: load config: %v\n", err)
		return exitUsageError
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	reg, err := loadRegistry(*hostsFile, hosts, cfg.Retry, logger)
	if err != nil {
		logger.Error("failed to load host list", slog.String("error", err.Error()))
		return exitUsageError
	}
	if reg.Len() == 0 {
		logger.Error("empty host list")
		return exitEmptyHostList
	}

	reportOut, closeReport, err := openReportOutput(cfg.LogPath)
	if err != nil {
		logger.Error("failed to open --log output", slog.String("error", err.Error()))
		return exitFatal
	}
	defer closeReport()

	conn, err := netio.NewRawConn()
	if err != nil {
		logger.Error("failed to open raw ICMP socket", slog.String("error", err.Error()))
		return exitFatal
	}
	defer conn.Close()

	resolver := buildResolver(cfg.MACCheck)

	promReg := prometheus.NewRegistry()
	collector := appmetrics.NewCollector(promReg)

	sysClock := clock.System{}
	runner := countingRunner{inner: notify.ExecRunner{Logger: logger}, collector: collector}
	notifier := notify.New(cfg.NotifyCmd, runner, sysClock, logger)
	rep := report.New(reportOut, sysClock)

	schedCfg := scheduler.Config{
		TimeoutMS:       cfg.TimeoutMS,
		IntervalMS:      cfg.IntervalMS,
		DefaultRetry:    cfg.Retry,
		UpdateSecs:      cfg.UpdateSecs,
		SLARepSecs:      cfg.SLARepSecs,
		MACCheckEnabled: cfg.MACCheck,
		Identifier:      uint16(os.Getpid() & 0xFFFF),
	}
	sched := scheduler.New(schedCfg, reg, conn, resolver, notifier, rep, sysClock, logger)
	if cfg.HungStateDir != "" {
		sched.WithHungStateDir(cfg.HungStateDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The scheduler is the daemon's backbone: when its cycle loop returns
	// (hang-up report done, --slarep report done, or a fatal socket
	// error), cancel tears the metrics server and signal watcher down so
	// g.Wait can complete.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return sched.Run(gCtx)
	})
	g.Go(func() error { return consumeStateChanges(gCtx, sched, reg, collector) })

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return runMetricsServer(gCtx, cfg.MetricsAddr, promReg, logger) })
	}

	g.Go(func() error {
		return handleHangup(gCtx, sched)
	})

	notifyReady(logger)
	defer notifyStopping(logger)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("linkwatchd exited with error", slog.String("error", err.Error()))
		return exitFatal
	}

	return 0
}

// loadRegistry builds a Registry either from --file or from positional
// host arguments, resolving each entry's address; resolution failures
// skip the host and continue.
func loadRegistry(path string, positional []string, defaultRetry int, logger *slog.Logger) (*registry.Registry, error) {
	var entries []hostfile.Entry

	switch {
	case path != "":
		r, closeFn, err := openHostsSource(path)
		if err != nil {
			return nil, fmt.Errorf("open host file %s: %w", path, err)
		}
		defer closeFn()

		entries, err = hostfile.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("parse host file: %w", err)
		}
	case len(positional) > 0:
		for _, h := range positional {
			entries = append(entries, hostfile.Entry{AddrOrHost: h, Label: h})
		}
	}

	reg := registry.New(len(entries))
	for _, e := range entries {
		ip, err := resolveAddr(e.AddrOrHost)
		if err != nil {
			logger.Warn("address not found", slog.String("host", e.AddrOrHost), slog.String("error", err.Error()))
			continue
		}

		// An explicit ret=0 is kept verbatim; only an absent ret= field
		// falls back to the daemon-wide default.
		retryMax := defaultRetry
		if e.RetrySpecified {
			retryMax = e.RetryMax
		}

		if _, err := reg.Add(registry.Host{
			Label:              e.Label,
			Address:            ip,
			RetryMax:           retryMax,
			PacketScheduleSecs: e.ScheduleSecs,
			MonitorFrom:        e.MonitorFrom,
			MonitorUntil:       e.MonitorUntil,
		}); err != nil {
			return nil, fmt.Errorf("add host %s: %w", e.Label, err)
		}
	}

	return reg, nil
}

func openHostsSource(path string) (r *os.File, closeFn func(), err error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, func() {}, err
	}
	return f, func() { _ = f.Close() }, nil
}

func resolveAddr(addrOrHost string) (net.IP, error) {
	if ip := net.ParseIP(addrOrHost); ip != nil {
		return ip, nil
	}
	ips, err := net.LookupIP(addrOrHost)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("no IPv4 address for %s", addrOrHost)
}

// openReportOutput implements --log: after initial load, redirect the
// report.Writer's output to the given file instead of stdout.
func openReportOutput(path string) (out *bufio.Writer, closeFn func(), err error) {
	if path == "" {
		w := bufio.NewWriter(os.Stdout)
		return w, func() { _ = w.Flush() }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, func() {}, err
	}
	w := bufio.NewWriter(f)
	return w, func() { _ = w.Flush(); _ = f.Close() }, nil
}

func buildResolver(macCheck bool) neigh.Resolver {
	if !macCheck {
		return neigh.NoopResolver{}
	}
	return neigh.NewSystemResolver()
}

func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// handleHangup waits for SIGHUP and requests a graceful stop. The scheduler notices at its next cycle
// boundary, emits the final SLA report from its own goroutine, and
// returns, which in turn tears the rest of the daemon down.
func handleHangup(ctx context.Context, sched *scheduler.Scheduler) error {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	select {
	case <-ctx.Done():
		return nil
	case <-sigHUP:
		sched.Hangup()
		return nil
	}
}

// consumeStateChanges drains the scheduler's StateChange channel,
// mirroring every transition into the Prometheus collector. A slow or
// absent consumer never blocks the scheduler (scheduler.publishChange
// already guards this with a non-blocking send).
func consumeStateChanges(ctx context.Context, sched *scheduler.Scheduler, reg *registry.Registry, collector *appmetrics.Collector) error {
	changes := sched.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			host, err := reg.Get(ch.HostIndex)
			if err != nil {
				continue
			}
			collector.SetHostUp(ch.Label, host.Alive)
			collector.SetHostDowntime(ch.Label, host.DowntimeSecs)
			if ch.To == hoststate.Down {
				collector.IncHostDownTransition(ch.Label)
			}
			collector.SetPacerInterval(int(sched.Interval() / time.Millisecond))
			collector.SetOptimalRetry(sched.OptimalRetry())
		}
	}
}

// countingRunner mirrors every notify-command invocation that clears
// the rate limiter into the notifications_total counter before handing
// it to the real runner.
type countingRunner struct {
	inner     notify.Runner
	collector *appmetrics.Collector
}

func (r countingRunner) Run(ctx context.Context, cmd, host, state, message string) {
	r.collector.IncNotification(state)
	r.inner.Run(ctx, cmd, host, state, message)
}

func runMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

// notifyReady sends READY=1 to systemd, if running under it.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, if running under it.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}
