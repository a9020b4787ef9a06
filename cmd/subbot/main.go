package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/bus/mqtt"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/observability"
	"github.com/ewjax/SubBots/internal/platform"
	"github.com/ewjax/SubBots/model"
)

type options struct {
	Roles      string
	BaselineDB float64
	Patrol     patrol
}

func main() {
	var cfgFlags config.Flags
	var opts options

	flagSet := pflag.NewFlagSet("subbot", pflag.ContinueOnError)
	cfgFlags.AddFlags(flagSet)
	flagSet.StringVar(&opts.Roles, "roles", "submarine", "platform roles, e.g. submarine or decoy|noisemaker")
	flagSet.Float64Var(&opts.BaselineDB, "baseline-db", model.DefaultBaselineSoundLevel, "acoustic signature at all stop, in dB")
	flagSet.IntVar(&opts.Patrol.Depth, "patrol-depth", 200, "ordered patrol depth in feet")
	flagSet.Float64Var(&opts.Patrol.Speed, "patrol-speed", 12, "ordered patrol speed in knots")
	flagSet.Uint64Var(&opts.Patrol.LegTicks, "leg-ticks", 100, "ticks per patrol leg (0 holds the first course)")
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

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv("subbot"), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	client := mqtt.New(cfg.Broker, log)
	if _, err := run(ctx, client, cfg, opts, log); err != nil {
		log.Error(ctx, "subbot exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, b bus.Bus, cfg config.Config, opts options, log logging.Logger) (*platform.Platform, error) {
	roles, err := model.ParseRoles(opts.Roles)
	if err != nil {
		return nil, err
	}
	identity, err := model.NewPlatformIdentity(roles, opts.BaselineDB)
	if err != nil {
		return nil, err
	}
	hook := opts.Patrol
	p, err := platform.New(identity, b, &hook, cfg.Simulation, platform.Options{Logger: log})
	if err != nil {
		return nil, err
	}

	log.Info(ctx, "starting platform",
		logging.String("platform_id", identity.ID.String()),
		logging.String("roles", roles.String()),
		logging.String("broker", cfg.Broker.Address()),
	)
	if err := p.Run(ctx); err != nil {
		return p, err
	}
	log.Debug(ctx, "final platform state", logging.String("dump", p.DumpState()))
	return p, nil
}
