package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags binds the command-line overrides shared by the SubBots binaries.
// Only flags that were set on the command line override the file.
type Flags struct {
	Path string

	host         string
	port         int
	tickInterval time.Duration
	pollInterval time.Duration
	realTime     bool

	fs *pflag.FlagSet
}

// AddFlags registers the configuration flags on fs.
func (f *Flags) AddFlags(fs *pflag.FlagSet) {
	f.fs = fs
	fs.StringVarP(&f.Path, "config", "c", DefaultPath, "path to the YAML configuration store (created when absent)")
	fs.StringVar(&f.host, "host", defaultHost, "broker host (overrides broker.host)")
	fs.IntVar(&f.port, "port", defaultPort, "broker port (overrides broker.port)")
	fs.DurationVar(&f.tickInterval, "tick-interval", defaultTickInterval, "simulated time per tick (overrides simulation.tick_interval)")
	fs.DurationVar(&f.pollInterval, "poll-interval", defaultPollInterval, "bus poll timeout per tick (overrides simulation.poll_interval)")
	fs.BoolVar(&f.realTime, "real-time", true, "pace ticks to the wall clock (overrides simulation.real_time)")
}

// Load reads the store named by --config and applies the flags that were
// set explicitly.
func (f *Flags) Load() (Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return Config{}, err
	}
	return f.Apply(cfg)
}

// Apply overrides cfg with the flags that were set explicitly and
// validates the result.
func (f *Flags) Apply(cfg Config) (Config, error) {
	if f.changed("host") {
		cfg.Broker.Host = f.host
	}
	if f.changed("port") {
		cfg.Broker.Port = f.port
	}
	if f.changed("tick-interval") {
		cfg.Simulation.TickInterval = f.tickInterval
	}
	if f.changed("poll-interval") {
		cfg.Simulation.PollInterval = f.pollInterval
	}
	if f.changed("real-time") {
		rt := f.realTime
		cfg.Simulation.RealTime = &rt
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (f *Flags) changed(name string) bool {
	return f.fs != nil && f.fs.Changed(name)
}
