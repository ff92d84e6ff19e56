package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/the-aerospace-corporation/satcat5-sub003/internal/config"
	satmetrics "github.com/the-aerospace-corporation/satcat5-sub003/internal/metrics"
)

// routerTickMsec is how often Router.Tick advances deferred-forwarding
// retry timers.
const routerTickMsec = 3

// metricsUpdateInterval is how often the Prometheus Collector snapshots
// switch/router counters.
const metricsUpdateInterval = time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switch (and optional router) daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func runServe(cfg *config.Config) error {
	log := newLogger(cfg.Log)
	log.Info("satcat5d starting", "ports", len(cfg.Switch.Ports), "router_enabled", cfg.Router.Enabled)

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}
	defer func() {
		for _, p := range d.ports {
			p.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	collector := satmetrics.NewCollector(reg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	for _, p := range d.ports {
		p, index := p, d.byName[p.name]
		g.Go(func() error { return p.run(gCtx, d.sw, index, log) })
	}

	g.Go(func() error {
		log.Info("metrics server listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runTicker(gCtx, d, collector)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runTicker periodically advances the Router's deferred-forwarding retry
// timers and snapshots switch/router counters into collector, until ctx is
// cancelled.
func runTicker(ctx context.Context, d *daemon, collector *satmetrics.Collector) error {
	routerTick := time.NewTicker(routerTickMsec * time.Millisecond)
	defer routerTick.Stop()
	metricsTick := time.NewTicker(metricsUpdateInterval)
	defer metricsTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-routerTick.C:
			if d.router != nil {
				d.router.Tick(routerTickMsec)
			}
		case <-metricsTick.C:
			collector.Update(d.sw, d.portNames)
			collector.UpdateRouter(d.router)
		}
	}
}
