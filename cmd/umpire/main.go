package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/bus/mqtt"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/observability"
	"github.com/ewjax/SubBots/internal/umpire"
	"github.com/ewjax/SubBots/kb"
)

type options struct {
	MetricsAddress string
	SummaryEvery   uint64
	EndAfter       uint64
	Duration       time.Duration
	Spacing        int
}

func main() {
	var cfgFlags config.Flags
	var opts options

	flagSet := pflag.NewFlagSet("umpire", pflag.ContinueOnError)
	cfgFlags.AddFlags(flagSet)
	flagSet.StringVar(&opts.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flagSet.Uint64Var(&opts.SummaryEvery, "summary-every", 50, "ticks between contact summaries on the general topic (0 disables)")
	flagSet.Uint64Var(&opts.EndAfter, "end-after", 0, "broadcast disco after this many ticks (0 runs until interrupted)")
	flagSet.DurationVar(&opts.Duration, "duration", 0, "broadcast disco after this much simulated time (0 runs until interrupted)")
	flagSet.IntVar(&opts.Spacing, "spacing", 1000, "distance between starting positions (0 leaves platforms where they report)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgFlags.Load()
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.String("path", cfgFlags.Path), logging.Err(err))
		os.Exit(1)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("umpire"), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(opts.MetricsAddress, collector, log)
	defer shutdownMetrics(metricsSrv)

	client := mqtt.New(cfg.Broker, log)
	if err := run(ctx, client, cfg, opts, log, collector); err != nil {
		log.Error(ctx, "umpire exited", logging.Err(err))
		shutdownMetrics(metricsSrv)
		os.Exit(1)
	}
}

func run(ctx context.Context, b bus.Bus, cfg config.Config, opts options, log logging.Logger, collector *observability.SimCollector) error {
	registry := kb.NewKnowledgeBase()
	unsubscribe := registry.Subscribe(func(e kb.Event) {
		if e.Type == kb.EventPlatformUpdated {
			return
		}
		log.Info(context.Background(), "registry event",
			logging.String("event", e.Type.String()),
			logging.String("platform_id", e.Entry.Identity.ID.String()),
		)
	})
	defer unsubscribe()

	scenario := &umpire.ScriptedScenario{
		SummaryEvery: opts.SummaryEvery,
		EndAfter:     opts.EndAfter,
		Duration:     opts.Duration,
		Spacing:      opts.Spacing,
	}
	u, err := umpire.New(b, scenario, cfg.Simulation, umpire.Options{
		Logger:   log,
		Metrics:  collector,
		Registry: registry,
	})
	if err != nil {
		return err
	}

	log.Info(ctx, "starting umpire",
		logging.String("broker", cfg.Broker.Address()),
		logging.String("tick_interval", cfg.Simulation.TickInterval.String()),
		logging.Bool("real_time", cfg.Simulation.IsRealTime()),
	)
	if err := u.Run(ctx); err != nil {
		return err
	}
	log.Info(ctx, "umpire stopped",
		logging.Uint64("ticks", u.Ticks()),
		logging.Int("platforms", registry.Count()),
	)
	return nil
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownMetrics(srv *http.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
