package main

import (
	"context"

	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/epluse/sensors/environment"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var heaterCmd = cli.Command{
	Name:  "heater",
	Usage: "control the on-chip heater",
	Subcommands: cli.Commands{
		{
			Name:  "on",
			Usage: "enable the heater",
			Action: func(c *cli.Context) error {
				return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
					if err := s.HeaterOn(ctx); err != nil {
						return console.Fail("heater on error", err)
					}
					console.PInfof(console.PictoFire, "heater %s", console.OnOff(true))
					return nil
				})
			},
		},
		{
			Name:  "off",
			Usage: "disable the heater",
			Action: func(c *cli.Context) error {
				return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
					if err := s.HeaterOff(ctx); err != nil {
						return console.Fail("heater off error", err)
					}
					console.PInfof(console.PictoFire, "heater %s", console.OnOff(false))
					return nil
				})
			},
		},
		{
			Name:  "status",
			Usage: "report the heater bit of the status register",
			Action: func(c *cli.Context) error {
				return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
					on, err := s.HeaterEnabled(ctx)
					if err != nil {
						return console.Fail("status read error", err)
					}
					console.PInfof(console.PictoFire, "heater %s", console.OnOff(on))
					return nil
				})
			},
		},
	},
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "status register access",
	Subcommands: cli.Commands{
		{
			Name:  "read",
			Usage: "print the status register as YAML",
			Action: func(c *cli.Context) error {
				return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
					status, err := s.ReadStatusRegister(ctx)
					if err != nil {
						return console.Fail("status read error", err)
					}
					enc := yaml.NewEncoder(console.Output())
					defer func() { _ = enc.Close() }()
					if err := enc.Encode(status); err != nil {
						return console.Exit(1, "encoding error: %s", console.Red(err))
					}
					return nil
				})
			},
		},
		{
			Name:  "clear",
			Usage: "clear the alert and reset flags",
			Action: func(c *cli.Context) error {
				return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
					if err := s.ClearStatusRegister(ctx); err != nil {
						return console.Fail("status clear error", err)
					}
					console.Infof("status register cleared")
					return nil
				})
			},
		},
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "soft reset the sensor",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "bus",
			Usage: "send a general call reset to every device on the bus",
		},
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	},
	Action: func(c *cli.Context) error {
		if !c.Bool("bus") {
			return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
				if err := s.Reset(ctx); err != nil {
					return console.Fail("soft reset error", err)
				}
				console.Infof("sensor at %#02x reset", s.Address())
				return nil
			})
		}
		ok, err := console.Confirm("general call reset affects every device on the bus, continue?", c.Bool("yes"))
		if err != nil {
			return console.Exit(1, "prompt error: %s", console.Red(err))
		}
		if !ok {
			console.PInfof(console.PictoStop, "aborted")
			return nil
		}
		return withSensor(c, func(ctx context.Context, s *environment.TEE301) error {
			if err := s.BusReset(ctx); err != nil {
				return console.Fail("general call reset error", err)
			}
			console.Infof("general call reset sent")
			return nil
		})
	},
}
