package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/snsctx"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	_ sensors.I2CBus   = &GenericBus{}
	_ sensors.I2CTxBus = &GenericBus{}
)

// GenericBus drives a bus exposed by the host through periph.io, typically
// /dev/i2c-N on Linux.
type GenericBus struct {
	bus i2c.BusCloser
}

// NewGenericBus initialises the periph host drivers and opens dev. An empty
// dev opens the first bus found.
func NewGenericBus(dev string) (*GenericBus, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("periph driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus: %w", err)
	}
	return NewGenericBusFrom(bus), nil
}

// NewGenericBusFrom wraps an already opened periph bus.
func NewGenericBusFrom(bus i2c.BusCloser) *GenericBus {
	return &GenericBus{bus: bus}
}

// Tx runs the write and the read phase with a repeated start in between.
func (b *GenericBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	snsctx.LogFrame(ctx, "i2c write", address, w)
	if err := b.bus.Tx(uint16(address), w, r); err != nil {
		return &sensors.BusError{Address: address, Err: err}
	}
	if len(r) > 0 {
		snsctx.LogFrame(ctx, "i2c read", address, r)
	}
	return nil
}

func (b *GenericBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), nil, buffer)
	if err != nil {
		return fmt.Errorf("could not read from i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	err := b.bus.Tx(uint16(address), buffer, nil)
	if err != nil {
		return fmt.Errorf("could not write to i2c bus %x: %w", address, err)
	}
	return nil
}

func (b *GenericBus) SetSpeed(f physic.Frequency) error {
	return b.bus.SetSpeed(f)
}

// Release is a no-op; the kernel driver owns the bus between transactions.
func (b *GenericBus) Release(ctx context.Context) error {
	return nil
}

func (b *GenericBus) Close() error {
	return b.bus.Close()
}

func (b *GenericBus) String() string {
	return b.bus.String()
}
