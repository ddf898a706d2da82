package main

import (
	"context"
	"time"

	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/epluse/sensors/environment"
	"github.com/urfave/cli/v2"
)

var identifyCmd = cli.Command{
	Name:  "identify",
	Usage: "read the sensor identification number",
	Action: func(c *cli.Context) error {
		return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
			id, err := s.ReadIdentification(ctx)
			if err != nil {
				return console.Fail("identification read error", err)
			}
			console.PInfof(console.PictoKey, "%s", console.White(id))
			return nil
		})
	},
}

var measureCmd = cli.Command{
	Name:    "measure",
	Aliases: []string{"temp"},
	Usage:   "single shot temperature measurement",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "repeatability",
			Usage: "low, medium or high",
		},
		&cli.BoolFlag{
			Name:  "no-stretch",
			Usage: "disable clock stretching",
		},
	},
	Action: func(c *cli.Context) error {
		repeatability, err := repeatabilityFlag(c)
		if err != nil {
			return err
		}
		stretching := cfg.Stretching()
		if c.Bool("no-stretch") {
			stretching = environment.ClockStretchingDisabled
		}
		return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
			temp, err := s.SingleShotTemperature(ctx, repeatability, stretching)
			if err != nil {
				return console.Fail("error getting temperature read", err)
			}
			console.PInfof(console.PictoThermometer, "%s", console.Celsius(temp.Celsius()))
			return nil
		})
	},
}

var periodicCmd = cli.Command{
	Name:  "periodic",
	Usage: "read temperature in periodic acquisition mode",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "rate",
			Usage: "measurements per second: 0.5, 1, 2, 4 or 10",
		},
		&cli.StringFlag{
			Name:  "repeatability",
			Usage: "low, medium or high",
		},
		&cli.IntFlag{
			Name:  "samples",
			Usage: "number of samples to read",
		},
	},
	Action: func(c *cli.Context) error {
		rate, err := rateFlag(c)
		if err != nil {
			return err
		}
		repeatability, err := repeatabilityFlag(c)
		if err != nil {
			return err
		}
		samples := cfg.Samples
		if c.IsSet("samples") {
			samples = c.Int("samples")
		}
		if samples < 1 {
			return console.Exit(6, "samples must be positive")
		}
		return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
			return periodicRead(ctx, s, rate, repeatability, samples)
		})
	},
}

// periodicRead starts acquisition, waits one interval so the first sample is
// ready, reads samples values and always ends acquisition.
func periodicRead(ctx context.Context, s *environment.TEE301, rate environment.SampleRate, repeatability environment.Repeatability, samples int) (err error) {
	if err := s.StartPeriodicMeasurement(ctx, rate, repeatability); err != nil {
		return console.Fail("could not start periodic measurement", err)
	}
	defer func() {
		if eerr := s.EndPeriodicMeasurement(context.WithoutCancel(ctx)); eerr != nil && err == nil {
			err = console.Fail("could not end periodic measurement", eerr)
		}
	}()
	interval := rate.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 1; i <= samples; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		temp, err := s.PeriodicTemperature(ctx)
		if err != nil {
			console.Errorf("sample %d: %s", i, err)
			continue
		}
		console.PInfof(console.PictoThermometer, "%3d  %s", i, console.Celsius(temp.Celsius()))
	}
	console.PInfof(console.PictoFinish, "%d samples at %s", samples, rate)
	return nil
}
