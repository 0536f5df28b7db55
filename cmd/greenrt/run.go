package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	greenrt "github.com/Swind/go-greenrt"
	"github.com/Swind/go-greenrt/config"
	"github.com/Swind/go-greenrt/core"
	obs "github.com/Swind/go-greenrt/observability/prometheus"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Spawn a tree of tasks and report how the runtime handled it",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "tasks",
				Aliases: []string{"n"},
				Value:   1000,
				Usage:   "children spawned by the root task",
			},
			&cli.IntFlag{
				Name:  "yields",
				Value: 3,
				Usage: "times each child yields",
			},
			&cli.DurationFlag{
				Name:  "sleep",
				Usage: "timer wait per child",
			},
			&cli.DurationFlag{
				Name:  "blocking",
				Usage: "offloaded blocking work per child",
			},
			&cli.BoolFlag{
				Name:  "fail",
				Usage: "make the last child panic",
			},
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "serve Prometheus metrics while running",
			},
			&cli.BoolFlag{
				Name:  "watch-config",
				Usage: "apply log level changes from the config file while running",
			},
		},
		Action: runAction,
	}
}

type workload struct {
	tasks    int
	yields   int
	sleep    time.Duration
	blocking time.Duration
	fail     bool
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if c.Bool("metrics") {
		cfg.Metrics.Enabled = true
	}
	w := workload{
		tasks:    c.Int("tasks"),
		yields:   c.Int("yields"),
		sleep:    c.Duration("sleep"),
		blocking: c.Duration("blocking"),
		fail:     c.Bool("fail"),
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := newZerolog(cfg)
	logger := core.NewZerologLogger(zl)
	core.SetLogger(logger)

	opts := []greenrt.Option{greenrt.WithLogger(logger)}
	var (
		reg    *prom.Registry
		poller *obs.SnapshotPoller
	)
	if cfg.Metrics.Enabled {
		reg = prom.NewRegistry()
		exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
		if err != nil {
			return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
		}
		interval, _ := cfg.Metrics.PollInterval()
		if poller, err = obs.NewSnapshotPoller(cfg.Metrics.Namespace, reg, interval); err != nil {
			return cli.Exit(fmt.Sprintf("metrics: %v", err), 1)
		}
		opts = append(opts, greenrt.WithMetrics(exporter))
	}

	rt, err := greenrt.New(cfg, opts...)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			zl.Warn().Err(err).Msg("close runtime")
		}
	}()

	if poller != nil {
		for _, s := range rt.Schedulers() {
			poller.AddScheduler(s.Name(), s)
		}
		poller.AddPool(rt.Offload().ID(), rt.Offload())
		poller.Start(ctx)
		defer poller.Stop()

		shutdown := serveMetrics(cfg.Metrics.Listen, reg, zl)
		defer shutdown()
	}

	if path := c.String("config"); path != "" && c.Bool("watch-config") {
		go func() {
			err := config.Watch(ctx, path, zl, func(next *config.Config) {
				zerolog.SetGlobalLevel(core.ParseLevel(next.Log.Level))
				zl.Info().Str("level", next.Log.Level).Msg("log level updated")
			})
			if err != nil {
				zl.Warn().Err(err).Str("path", path).Msg("config watch stopped")
			}
		}()
	}

	var completed atomic.Int64
	start := time.Now()
	code := rt.Run(ctx, w.root(&completed))
	elapsed := time.Since(start)

	report(c, rt, w, completed.Load(), elapsed, code)
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func (w workload) root(completed *atomic.Int64) greenrt.TaskFunc {
	return func(ctx context.Context) {
		for i := 0; i < w.tasks; i++ {
			last := i == w.tasks-1
			_, err := greenrt.Spawn(ctx, func(ctx context.Context) {
				w.child(ctx, last)
				completed.Add(1)
			}, greenrt.WithName(fmt.Sprintf("worker-%d", i)))
			if err != nil {
				return
			}
		}
	}
}

func (w workload) child(ctx context.Context, last bool) {
	for i := 0; i < w.yields; i++ {
		_ = greenrt.Yield(ctx)
	}
	if w.sleep > 0 {
		_ = greenrt.Sleep(ctx, w.sleep)
	}
	if w.blocking > 0 {
		_ = greenrt.AwaitIO(ctx, greenrt.Blocking(func(context.Context) error {
			time.Sleep(w.blocking)
			return nil
		}))
	}
	if w.fail && last {
		panic("requested failure")
	}
}

func report(c *cli.Context, rt *greenrt.Runtime, w workload, completed int64, elapsed time.Duration, code int) {
	var slices, wakeups, allocs, reuses int64
	cachedBytes := 0
	for _, s := range rt.Stats() {
		slices += s.Slices
		wakeups += s.Wakeups
		allocs += s.Stacks.Allocations
		reuses += s.Stacks.Reuses
		cachedBytes += s.Stacks.CachedBytes
	}

	out := c.App.Writer
	fmt.Fprintf(out, "runtime   %s on %d threads\n", rt.ID(), len(rt.Schedulers()))
	fmt.Fprintf(out, "tasks     %s of %s completed in %s\n",
		humanize.Comma(completed), humanize.Comma(int64(w.tasks)), elapsed.Round(time.Microsecond))
	fmt.Fprintf(out, "slices    %s, wakeups %s\n", humanize.Comma(slices), humanize.Comma(wakeups))
	fmt.Fprintf(out, "stacks    %s allocated, %s reused, %s cached\n",
		humanize.Comma(allocs), humanize.Comma(reuses), humanize.IBytes(uint64(cachedBytes)))
	fmt.Fprintf(out, "exit      %d\n", code)
}

func newZerolog(cfg *config.Config) zerolog.Logger {
	var w = os.Stderr
	var zl zerolog.Logger
	if cfg.Log.Format == "json" {
		zl = zerolog.New(w)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"})
	}
	return zl.Level(core.ParseLevel(cfg.Log.Level)).With().Timestamp().Logger()
}

func serveMetrics(addr string, reg *prom.Registry, zl zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Warn().Err(err).Str("listen", addr).Msg("metrics server stopped")
		}
	}()
	zl.Info().Str("listen", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
