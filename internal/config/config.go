// Package config loads the SubBots configuration store.
//
// The store is a single YAML file. When the file does not exist it is
// created with defaults; when keys are missing they are filled in and the
// file is rewritten. The loaded value is passed explicitly to whichever
// component needs it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "SubBots.yaml"

// KeepAlive is the broker keep-alive interval. It is not configurable.
const KeepAlive = 60 * time.Second

// ErrInvalidConfig reports a configuration value outside its domain.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration store.
type Config struct {
	// Broker configures the message bus connection.
	Broker BrokerConfig `yaml:"broker"`

	// Simulation configures loop cadence.
	Simulation SimulationConfig `yaml:"simulation"`
}

// BrokerConfig configures the MQTT broker connection.
type BrokerConfig struct {
	// Host is the broker host name.
	// Default: localhost
	Host string `yaml:"host"`

	// Port is the broker TCP port.
	// Default: 1883
	Port int `yaml:"port"`

	// ClientID is the MQTT client id. Empty means generated per process.
	ClientID string `yaml:"client_id,omitempty"`
}

// Address returns the broker URL.
func (b BrokerConfig) Address() string {
	return fmt.Sprintf("tcp://%s:%d", b.Host, b.Port)
}

// SimulationConfig configures the participant loops. The bus poll interval
// and the simulation tick interval are independent.
type SimulationConfig struct {
	// TickInterval is the simulated time covered by one loop iteration.
	// Default: 100ms
	TickInterval time.Duration `yaml:"tick_interval"`

	// PollInterval bounds how long one iteration waits for bus traffic.
	// Default: 100ms
	PollInterval time.Duration `yaml:"poll_interval"`

	// AnnounceEvery is how many ticks a registered platform waits for the
	// umpire's key before announcing itself again. Zero disables it.
	// Default: 10
	AnnounceEvery *int `yaml:"announce_every"`

	// RealTime paces iterations to the wall clock. When false, loops run
	// as fast as the bus allows.
	// Default: true
	RealTime *bool `yaml:"real_time"`
}

// Announce returns the re-announcement period in ticks.
func (s SimulationConfig) Announce() int {
	if s.AnnounceEvery == nil {
		return defaultAnnounceEvery
	}
	return *s.AnnounceEvery
}

// IsRealTime reports whether loops are paced to the wall clock.
func (s SimulationConfig) IsRealTime() bool {
	return s.RealTime == nil || *s.RealTime
}

const (
	defaultHost          = "localhost"
	defaultPort          = 1883
	defaultTickInterval  = 100 * time.Millisecond
	defaultPollInterval  = 100 * time.Millisecond
	defaultAnnounceEvery = 10
)

// Default returns a fully populated default configuration.
func Default() Config {
	cfg, _ := Config{}.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every missing value and reports whether anything was
// filled in.
func (c Config) ApplyDefaults() (Config, bool) {
	modified := false
	if c.Broker.Host == "" {
		c.Broker.Host = defaultHost
		modified = true
	}
	if c.Broker.Port == 0 {
		c.Broker.Port = defaultPort
		modified = true
	}
	if c.Simulation.TickInterval == 0 {
		c.Simulation.TickInterval = defaultTickInterval
		modified = true
	}
	if c.Simulation.PollInterval == 0 {
		c.Simulation.PollInterval = defaultPollInterval
		modified = true
	}
	if c.Simulation.AnnounceEvery == nil {
		n := defaultAnnounceEvery
		c.Simulation.AnnounceEvery = &n
		modified = true
	}
	if c.Simulation.RealTime == nil {
		rt := true
		c.Simulation.RealTime = &rt
		modified = true
	}
	return c, modified
}

// Validate checks every value's domain.
func (c Config) Validate() error {
	var errs []error
	if c.Broker.Host == "" {
		errs = append(errs, errors.New("broker.host is required"))
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker.port %d outside 1..65535", c.Broker.Port))
	}
	if c.Simulation.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tick_interval %s must be positive", c.Simulation.TickInterval))
	}
	if c.Simulation.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("simulation.poll_interval %s must be positive", c.Simulation.PollInterval))
	}
	if c.Simulation.Announce() < 0 {
		errs = append(errs, fmt.Errorf("simulation.announce_every %d must not be negative", c.Simulation.Announce()))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Load reads the store at path, creating it with defaults when absent and
// rewriting it when keys were missing. The returned Config is validated.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg, modified := cfg.ApplyDefaults()
	if modified {
		if err := Save(path, cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
