package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/epluse/sensors/adapter"
	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var adapterCmd = cli.Command{
	Name:  "adapter",
	Usage: "MCP2221 USB bridge maintenance",
	Subcommands: cli.Commands{
		&adapterStatusCmd,
		&adapterReleaseCmd,
	},
}

func newMCP2221() (*adapter.MCP2221, error) {
	if cfg.Device == "" {
		return adapter.NewMCP2221(), nil
	}
	index, err := strconv.Atoi(cfg.Device)
	if err != nil {
		return nil, console.Exit(6, "mcp2221 device must be an adapter index, got %q", cfg.Device)
	}
	return adapter.NewMCP2221(adapter.WithDeviceIndex(index)), nil
}

func printStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(console.Output())
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(status); err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}

var adapterStatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Action: func(c *cli.Context) error {
		a, err := newMCP2221()
		if err != nil {
			return err
		}
		status, err := a.Status(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printStatus(status)
	},
}

var adapterReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current I2C transfer and free the bus",
	Action: func(c *cli.Context) error {
		a, err := newMCP2221()
		if err != nil {
			return err
		}
		status, err := a.ReleaseBus(commandContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printStatus(status)
	},
}

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "USB HID enumeration",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
	},
}

var usbLsCmd = cli.Command{
	Name:  "ls",
	Usage: "list all HID devices",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)
		w := tabwriter.NewWriter(console.Output(), 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		return w.Flush()
	},
}

var usbDetectCmd = cli.Command{
	Name:  "detect",
	Usage: "list attached MCP2221 adapters with the index accepted by --device",
	Action: func(c *cli.Context) error {
		devices := adapter.Devices()
		if len(devices) == 0 {
			console.Warnf("no MCP2221 adapter found")
			return nil
		}
		w := tabwriter.NewWriter(console.Output(), 12, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "INDEX\tVENDOR\tPRODUCT\tSERIAL\tPATH\n")
		for i, dev := range devices {
			_, _ = fmt.Fprintf(w, "%d\t%#x\t%#x\t%s\t%s\n", i, dev.VendorID, dev.ProductID, dev.Serial, dev.Path)
		}
		return w.Flush()
	},
}
