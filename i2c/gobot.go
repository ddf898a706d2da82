package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/snsctx"
	gobot "gobot.io/x/gobot/v2/drivers/i2c"
)

var _ sensors.I2CTxBus = &GobotBus{}

// GobotBus runs transactions through a gobot I2C connector such as the
// NanoPi adaptor. Gobot has no combined transfer, so the write and the read
// phase are separate messages with a stop in between. The TEE301 accepts
// this: it either stretches the clock on the read header or NACKs it until
// the measurement is ready.
type GobotBus struct {
	connector gobot.Connector
	bus       int
}

type GobotBusOpt func(*GobotBus)

// WithGobotBusNumber selects the bus; the connector default is used otherwise.
func WithGobotBusNumber(bus int) GobotBusOpt {
	return func(b *GobotBus) {
		b.bus = bus
	}
}

func NewGobotBus(connector gobot.Connector, opts ...GobotBusOpt) *GobotBus {
	b := &GobotBus{connector: connector, bus: connector.DefaultI2cBus()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *GobotBus) Tx(ctx context.Context, address byte, w, r []byte) error {
	conn, err := b.connector.GetI2cConnection(int(address), b.bus)
	if err != nil {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("could not open connection on bus %d: %w", b.bus, err)}
	}
	defer func() {
		if err := conn.Close(); err != nil {
			slog.Debug("gobot connection close failed", "addr", fmt.Sprintf("%#02x", address), "error", err)
		}
	}()
	if len(w) > 0 {
		snsctx.LogFrame(ctx, "i2c write", address, w)
		n, err := conn.Write(w)
		if err != nil {
			return &sensors.BusError{Address: address, Err: err}
		}
		if n != len(w) {
			return &sensors.BusError{Address: address, Err: fmt.Errorf("short write: %d of %d bytes", n, len(w))}
		}
	}
	if len(r) > 0 {
		n, err := conn.Read(r)
		if err != nil {
			return &sensors.BusError{Address: address, Err: err}
		}
		if n != len(r) {
			return &sensors.BusError{Address: address, Err: fmt.Errorf("short read: %d of %d bytes", n, len(r))}
		}
		snsctx.LogFrame(ctx, "i2c read", address, r)
	}
	return nil
}

// Release is a no-op; every transaction opens and closes its own connection.
func (b *GobotBus) Release(ctx context.Context) error {
	return nil
}
