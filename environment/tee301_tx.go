package environment

import (
	"context"
	"errors"
	"fmt"

	"github.com/epluse/sensors"
)

// txExecutor runs single command exchanges against the transport. The bus is
// released after every exchange, including failed ones. There is no retry and
// no delay; clock stretching is handled by the transport.
type txExecutor struct {
	bus sensors.I2CTxBus
}

func (e txExecutor) writeRead(ctx context.Context, address byte, op Opcode, n int) ([]byte, error) {
	resp := make([]byte, n)
	if err := e.tx(ctx, address, op.Bytes(), resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (e txExecutor) write(ctx context.Context, address byte, op Opcode) error {
	return e.tx(ctx, address, op.Bytes(), nil)
}

// generalCallReset resets every device on the bus that honours general call.
func (e txExecutor) generalCallReset(ctx context.Context) error {
	return e.tx(ctx, sensors.GeneralCallAddress, []byte{sensors.GeneralCallReset}, nil)
}

func (e txExecutor) tx(ctx context.Context, address byte, w, r []byte) (err error) {
	defer func() {
		if rerr := e.bus.Release(ctx); rerr != nil && err == nil {
			err = asBusError(address, fmt.Errorf("release failed: %w", rerr))
		}
	}()
	if err := e.bus.Tx(ctx, address, w, r); err != nil {
		return asBusError(address, err)
	}
	return nil
}

func asBusError(address byte, err error) error {
	var busErr *sensors.BusError
	if errors.As(err, &busErr) {
		return err
	}
	return &sensors.BusError{Address: address, Err: err}
}
