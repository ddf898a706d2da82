package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/epluse/sensors/environment"
	"gopkg.in/yaml.v3"
)

// Set at build time through -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	AdapterMCP2221 = "mcp2221"
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterMock    = "mock"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Adapter is one of mcp2221, generic, nanopi or mock.
	Adapter string `yaml:"adapter"`
	// Device is the periph bus name for the generic adapter, e.g. /dev/i2c-1
	// or 1, and the bus number for nanopi.
	Device          string `yaml:"device"`
	Address         int    `yaml:"address"`
	Repeatability   string `yaml:"repeatability"`
	Rate            string `yaml:"rate"`
	ClockStretching bool   `yaml:"clock_stretching"`
	SingleShotFrame int    `yaml:"single_shot_frame"`
	PeriodicFrame   int    `yaml:"periodic_frame"`
	Listen          string `yaml:"listen"`
	Samples         int    `yaml:"samples"`
}

func Default() *Config {
	return &Config{
		Adapter:         AdapterMCP2221,
		Device:          "",
		Address:         environment.TEE301DefaultAddress,
		Repeatability:   "high",
		Rate:            "2",
		ClockStretching: true,
		SingleShotFrame: 3,
		PeriodicFrame:   6,
		Listen:          ":9301",
		Samples:         30,
	}
}

// Load reads a YAML file over the defaults, so a file only needs the keys it
// changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.Adapter {
	case AdapterMCP2221, AdapterGeneric, AdapterNanoPi, AdapterMock:
	default:
		return fmt.Errorf("unknown adapter %q: %w", c.Adapter, ErrInvalidConfig)
	}
	if c.Address < 0x08 || c.Address > 0x77 {
		return fmt.Errorf("address %#x outside the 7-bit device range: %w", c.Address, ErrInvalidConfig)
	}
	if _, err := ParseRepeatability(c.Repeatability); err != nil {
		return err
	}
	if _, err := ParseRate(c.Rate); err != nil {
		return err
	}
	for name, size := range map[string]int{"single_shot_frame": c.SingleShotFrame, "periodic_frame": c.PeriodicFrame} {
		if size != 3 && size != 6 {
			return fmt.Errorf("%s must be 3 or 6, got %d: %w", name, size, ErrInvalidConfig)
		}
	}
	if c.Samples < 1 {
		return fmt.Errorf("samples must be positive, got %d: %w", c.Samples, ErrInvalidConfig)
	}
	return nil
}

// SensorOptions turns the configuration into TEE301 session options.
func (c *Config) SensorOptions() []environment.TEE301Opt {
	return []environment.TEE301Opt{
		environment.WithTEE301Address(byte(c.Address)),
		environment.WithSingleShotFrame(c.SingleShotFrame),
		environment.WithPeriodicFrame(c.PeriodicFrame),
	}
}

func (c *Config) Stretching() environment.ClockStretching {
	if c.ClockStretching {
		return environment.ClockStretchingEnabled
	}
	return environment.ClockStretchingDisabled
}

func ParseRepeatability(name string) (environment.Repeatability, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "low", "l":
		return environment.RepeatabilityLow, nil
	case "medium", "m":
		return environment.RepeatabilityMedium, nil
	case "high", "h":
		return environment.RepeatabilityHigh, nil
	default:
		return 0, fmt.Errorf("unknown repeatability %q: %w", name, ErrInvalidConfig)
	}
}

// ParseRate accepts the number of measurements per second.
func ParseRate(name string) (environment.SampleRate, error) {
	switch strings.TrimSpace(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "mps")) {
	case "0.5", ".5":
		return environment.Rate05MPS, nil
	case "1":
		return environment.Rate1MPS, nil
	case "2":
		return environment.Rate2MPS, nil
	case "4":
		return environment.Rate4MPS, nil
	case "10":
		return environment.Rate10MPS, nil
	default:
		return 0, fmt.Errorf("unknown rate %q, expected 0.5, 1, 2, 4 or 10: %w", name, ErrInvalidConfig)
	}
}
