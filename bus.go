package sensors

import (
	"context"
	"fmt"
)

var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// GeneralCallAddress is the I2C broadcast address. Every device that supports
// general call reacts to the reset byte sent to it.
const GeneralCallAddress byte = 0x00

// GeneralCallReset is the second byte of the general call reset sequence.
const GeneralCallReset byte = 0x06

type BusReader interface {
	Read(ctx context.Context, buffer []byte) error
}

type BusWriter interface {
	Write(ctx context.Context, buffer []byte) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CTransactor performs a write phase followed by a read phase as one bus
// transaction (repeated start, no stop in between). Either w or r may be empty.
// The read buffer is filled completely or an error is returned.
type I2CTransactor interface {
	Tx(ctx context.Context, address byte, w, r []byte) error
}

type I2CBus interface {
	AddressableReader
	AddressableWriter
}

// I2CTxBus is a transport that can run combined transactions. Release is
// called after every transaction, successful or not.
type I2CTxBus interface {
	I2CTransactor
	Release(ctx context.Context) error
}

type I2CDevice interface {
	BusReader
	BusWriter
}
