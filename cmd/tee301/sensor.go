package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/adapter"
	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/epluse/sensors/environment"
	"github.com/epluse/sensors/i2c"
	"github.com/epluse/sensors/pkg/config"
	"github.com/epluse/sensors/snsctx"
	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"
)

// newMockBus builds the simulated sensor used by --adapter mock. Tests
// replace it to inspect the simulated device.
var newMockBus = func() *environment.MockTEE301Bus {
	start := time.Now()
	return environment.NewMockTEE301Bus(func(ctx context.Context) (float64, error) {
		return 21.5 + 0.5*math.Sin(time.Since(start).Seconds()/10), nil
	})
}

func commandContext(c *cli.Context) context.Context {
	return snsctx.SetVerbose(c.Context, c.Bool("verbose"))
}

// openBus opens the transport selected by the configuration. The returned
// function releases host resources.
func openBus(ctx context.Context, cfg *config.Config) (sensors.I2CTxBus, func(), error) {
	noop := func() {}
	switch cfg.Adapter {
	case config.AdapterMCP2221:
		opts := []adapter.MCP2221Opt{}
		if cfg.Device != "" {
			index, err := strconv.Atoi(cfg.Device)
			if err != nil {
				return nil, noop, fmt.Errorf("mcp2221 device must be an adapter index: %w", sensors.ErrInvalidArgument)
			}
			opts = append(opts, adapter.WithDeviceIndex(index))
		}
		mcp2221 := adapter.NewMCP2221(opts...)
		if err := mcp2221.Init(ctx); err != nil {
			return nil, noop, fmt.Errorf("adapter initialization error: %w", err)
		}
		return mcp2221, noop, nil
	case config.AdapterGeneric:
		bus, err := i2c.NewGenericBus(cfg.Device)
		if err != nil {
			return nil, noop, err
		}
		return bus, func() { _ = bus.Close() }, nil
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, noop, fmt.Errorf("adaptor connect error: %w", err)
		}
		closer := func() { _ = npi.I2cBusAdaptor.Finalize() }
		var opts []i2c.GobotBusOpt
		if cfg.Device != "" {
			bus, err := strconv.Atoi(cfg.Device)
			if err != nil {
				closer()
				return nil, noop, fmt.Errorf("nanopi device must be a bus number: %w", sensors.ErrInvalidArgument)
			}
			opts = append(opts, i2c.WithGobotBusNumber(bus))
		}
		return i2c.NewGobotBus(npi, opts...), closer, nil
	case config.AdapterMock:
		return newMockBus(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown adapter %q: %w", cfg.Adapter, sensors.ErrInvalidArgument)
	}
}

// withSensor opens the configured transport, binds a session to it and runs fn.
func withSensor(c *cli.Context, fn func(ctx context.Context, s *environment.TEE301) error) error {
	ctx := commandContext(c)
	bus, closer, err := openBus(ctx, cfg)
	if err != nil {
		return console.Fail("could not open bus", err)
	}
	defer closer()
	return fn(ctx, environment.NewTEE301(bus, cfg.SensorOptions()...))
}

func repeatabilityFlag(c *cli.Context) (environment.Repeatability, error) {
	name := cfg.Repeatability
	if c.IsSet("repeatability") {
		name = c.String("repeatability")
	}
	r, err := config.ParseRepeatability(name)
	if err != nil {
		return 0, console.Exit(6, "%s", console.Red(err))
	}
	return r, nil
}

func rateFlag(c *cli.Context) (environment.SampleRate, error) {
	name := cfg.Rate
	if c.IsSet("rate") {
		name = c.String("rate")
	}
	r, err := config.ParseRate(name)
	if err != nil {
		return 0, console.Exit(6, "%s", console.Red(err))
	}
	return r, nil
}
