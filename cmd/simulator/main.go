package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/ewjax/SubBots/internal/bus"
	"github.com/ewjax/SubBots/internal/config"
	"github.com/ewjax/SubBots/internal/logging"
	"github.com/ewjax/SubBots/internal/platform"
	"github.com/ewjax/SubBots/internal/umpire"
	"github.com/ewjax/SubBots/kb"
	"github.com/ewjax/SubBots/model"
)

type options struct {
	Bots         int
	Ticks        uint64
	Tick         time.Duration
	Accelerated  bool
	SummaryEvery uint64
	LegTicks     uint64
}

func main() {
	var opts options
	flagSet := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	flagSet.IntVar(&opts.Bots, "bots", 3, "number of platforms")
	flagSet.Uint64Var(&opts.Ticks, "ticks", 600, "umpire ticks before disco")
	flagSet.DurationVar(&opts.Tick, "tick", time.Second, "simulated time per tick")
	flagSet.BoolVar(&opts.Accelerated, "accelerated", true, "run in accelerated mode (vs real-time)")
	flagSet.Uint64Var(&opts.SummaryEvery, "summary-every", 60, "ticks between contact summaries")
	flagSet.Uint64Var(&opts.LegTicks, "leg-ticks", 120, "ticks between course changes")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, logging.NewFromEnv(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run plays one umpire and opts.Bots platforms against an in-process
// broker until the umpire broadcasts disco.
func run(ctx context.Context, opts options, log logging.Logger, out io.Writer) error {
	if opts.Bots < 1 {
		return fmt.Errorf("need at least one bot, got %d", opts.Bots)
	}
	sim := config.Default().Simulation
	sim.TickInterval = opts.Tick
	realTime := !opts.Accelerated
	sim.RealTime = &realTime
	if opts.Accelerated {
		sim.PollInterval = time.Millisecond
	}

	broker := bus.NewBroker()
	defer broker.Close()

	start := time.Now().UTC()
	registry := kb.NewKnowledgeBase()
	var mu sync.Mutex
	unsubscribe := registry.Subscribe(func(e kb.Event) {
		if e.Type == kb.EventPlatformUpdated {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "registry: %-15s %s (%s)\n", e.Type, e.Entry.Identity.ID, e.Entry.Identity.Roles)
	})
	defer unsubscribe()

	scenario := &umpire.ScriptedScenario{SummaryEvery: opts.SummaryEvery, EndAfter: opts.Ticks, Spacing: 2000}
	ump, err := umpire.New(broker.Client(), scenario, sim, umpire.Options{Logger: log, Registry: registry, Start: start})
	if err != nil {
		return err
	}

	bots := make([]*platform.Platform, 0, opts.Bots)
	for i := 0; i < opts.Bots; i++ {
		roles := model.RoleSubmarine
		if i%3 == 2 {
			roles = model.RoleSurfaceShip
		}
		identity, err := model.NewPlatformIdentity(roles, model.DefaultBaselineSoundLevel+float64(i))
		if err != nil {
			return err
		}
		hook := &zigzag{Heading: float64(i*90) + 45, Speed: 8 + float64(i), LegTicks: opts.LegTicks}
		p, err := platform.New(identity, broker.Client(), hook, sim, platform.Options{Logger: log, Start: start})
		if err != nil {
			return err
		}
		bots = append(bots, p)
	}

	fmt.Fprintf(out, "Starting simulation: bots=%d ticks=%d tick=%s accelerated=%t\n", opts.Bots, opts.Ticks, opts.Tick, opts.Accelerated)

	var wg sync.WaitGroup
	errs := make(chan error, len(bots)+1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- ump.Run(ctx)
	}()
	for _, p := range bots {
		wg.Add(1)
		go func(p *platform.Platform) {
			defer wg.Done()
			errs <- p.Run(ctx)
		}(p)
	}
	wg.Wait()
	close(errs)

	var runErrs []error
	for err := range errs {
		if err != nil {
			runErrs = append(runErrs, err)
		}
	}

	fmt.Fprintf(out, "Simulation complete after %d umpire ticks.\n", ump.Ticks())
	fmt.Fprintln(out, umpire.Summary(ump.Ticks(), registry.List()))
	for _, p := range bots {
		fmt.Fprint(out, p.DumpState())
	}
	return errors.Join(runErrs...)
}

// zigzag alternates between two headings 60 degrees apart.
type zigzag struct {
	Heading  float64
	Speed    float64
	LegTicks uint64
}

func (z *zigzag) CommandAndControl(_ context.Context, helm *platform.Helm) error {
	helm.OrderSpeed(z.Speed)
	helm.OrderDepth(100)
	course := z.Heading - 30
	if z.LegTicks > 0 && (helm.Tick()/z.LegTicks)%2 == 1 {
		course = z.Heading + 30
	}
	helm.OrderCourse(course)
	return nil
}
