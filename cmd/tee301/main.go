package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/epluse/sensors/pkg/config"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"
)

// cfg is resolved in the Before hook: defaults, then the config file, then flags.
var cfg = config.Default()

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	cfg = config.Default()
	app := cli.NewApp()
	app.Name = "tee301"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", config.Version, config.Date, config.Commit)
	app.Usage = "E+E TEE301 temperature sensor cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"TEE301_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Usage:   "bus adapter: mcp2221, generic, nanopi or mock",
			Value:   cfg.Adapter,
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "bus name (generic), bus number (nanopi) or adapter index (mcp2221)",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "sensor I2C address",
			Value: fmt.Sprintf("%#02x", cfg.Address),
		},
	}
	app.Before = func(c *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stderr, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if c.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))
		return resolveConfig(c)
	}
	app.Commands = cli.Commands{
		&identifyCmd,
		&measureCmd,
		&periodicCmd,
		&heaterCmd,
		&statusCmd,
		&resetCmd,
		&adapterCmd,
		&usbCmd,
		&serveCmd,
	}
	// exit codes are mapped here instead of inside cli
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("%v", err)
			return exerr.ExitCode()
		}
		log.Printf("unexpected error: %v", err)
		return 1
	}
	return 0
}

func resolveConfig(c *cli.Context) error {
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		cfg = loaded
		slog.Debug("configuration loaded", "path", path)
	}
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("address") {
		address, err := strconv.ParseUint(c.String("address"), 0, 8)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid address %q: %v", c.String("address"), err), 6)
		}
		cfg.Address = int(address)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), 6)
	}
	return nil
}
