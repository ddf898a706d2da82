package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/snsctx"
	"github.com/karalabe/hid"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrCommandFailed = errors.New("command failed")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")

var (
	_ sensors.I2CBus   = &MCP2221{}
	_ sensors.I2CTxBus = &MCP2221{}
)

// HID report command codes
const (
	cmdStatusSetParameters   byte = 0x10
	cmdGetI2CData            byte = 0x40
	cmdI2CWriteData          byte = 0x90
	cmdI2CReadData           byte = 0x91
	cmdI2CReadRepeatedStart  byte = 0x93
	cmdI2CWriteDataNoStop    byte = 0x94
	subCmdCancelTransfer     byte = 0x10
	subCmdSetSpeed           byte = 0x20
	responseNotCompleted     byte = 0x01
	responseGetDataError     byte = 0x41
	responseSpeedNotAccepted byte = 0x21
	readSizeError            byte = 127
)

const reportSize = 64

// maximum payload carried by one report
const maxTransferSize = 60

// HIDDevice is the part of a USB HID handle the adapter needs.
type HIDDevice interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

// HIDOpener opens the adapter for one report exchange.
type HIDOpener func() (HIDDevice, error)

type MCP2221 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	speed        int
	open         HIDOpener
}

type MCP2221Status struct {
	I2CState               int    `yaml:"i2c_state"`
	I2CDataBufferCounter   int    `yaml:"i2c_data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"i2c_speed_divider"`
	I2CTimeout             int    `yaml:"i2c_timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested_size"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent_size"`
	ReadPending            int    `yaml:"read_pending"`
}

// Idle reports whether the I2C engine has no transfer in progress.
func (s *MCP2221Status) Idle() bool {
	return s.I2CState == 0 && s.ReadPending == 0
}

type MCP2221Opt func(*MCP2221)

// WithDeviceIndex selects one of several attached adapters by enumeration order.
func WithDeviceIndex(index int) MCP2221Opt {
	return func(d *MCP2221) {
		d.open = enumerateOpener(index)
	}
}

// WithHIDOpener replaces USB enumeration, mostly for tests.
func WithHIDOpener(open HIDOpener) MCP2221Opt {
	return func(d *MCP2221) {
		d.open = open
	}
}

// WithResponseWait sets the delay between a request and reading its response.
func WithResponseWait(wait time.Duration) MCP2221Opt {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

// WithI2CSpeed sets the bus clock applied by Init, in Hz.
func WithI2CSpeed(hz int) MCP2221Opt {
	return func(d *MCP2221) {
		d.speed = hz
	}
}

func NewMCP2221(opts ...MCP2221Opt) *MCP2221 {
	d := &MCP2221{
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
		speed:        100000,
		open:         enumerateOpener(-1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Devices lists attached MCP2221 adapters.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func enumerateOpener(index int) HIDOpener {
	return func() (HIDDevice, error) {
		devs := Devices()
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		if index < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification: %d adapters attached", len(devs))
			}
			index = 0
		}
		if index >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", index)
		}
		dev, err := devs[index].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

// Init cancels any transfer left over by a previous process and sets the
// bus clock.
func (d *MCP2221) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.speed <= 0 {
		return fmt.Errorf("invalid i2c speed %d", d.speed)
	}
	if _, err := d.releaseBus(ctx); err != nil {
		return err
	}
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[3] = subCmdSetSpeed
	d.request[4] = byte(12000000/d.speed - 3)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] == responseSpeedNotAccepted {
		return fmt.Errorf("speed %d Hz not accepted: %w", d.speed, ErrCommandFailed)
	}
	return nil
}

// Tx runs a write followed by a read. When both phases are present the write
// ends without a stop condition and the read starts with a repeated start.
func (d *MCP2221) Tx(ctx context.Context, address byte, w, r []byte) error {
	if len(w) > maxTransferSize || len(r) > maxTransferSize {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("transfer exceeds %d bytes", maxTransferSize)}
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	switch {
	case len(r) == 0:
		return d.write(ctx, cmdI2CWriteData, address, w)
	case len(w) == 0:
		return d.read(ctx, cmdI2CReadData, address, r)
	}
	if err := d.write(ctx, cmdI2CWriteDataNoStop, address, w); err != nil {
		return err
	}
	return d.read(ctx, cmdI2CReadRepeatedStart, address, r)
}

func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.write(ctx, cmdI2CWriteData, address, buffer)
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.read(ctx, cmdI2CReadData, address, buffer)
}

func (d *MCP2221) write(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	err := d.send(ctx)
	if err != nil {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("write failed: %w", err)}
	}
	// write could not be performed
	if d.response[1] == responseNotCompleted {
		slog.Debug("adapter busy", "addr", fmt.Sprintf("%#02x", address))
		return &sensors.BusError{Address: address, Err: sensors.ErrBusBusy}
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd byte, address byte, buffer []byte) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 + 1
	err := d.send(ctx)
	if err != nil {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("read failed: %w", err)}
	}
	if d.response[1] == responseNotCompleted {
		return &sensors.BusError{Address: address, Err: sensors.ErrBusBusy}
	}
	d.resetBuffers()
	d.request[0] = cmdGetI2CData
	err = d.send(ctx)
	if err != nil {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("error getting read data from adapter: %w", err)}
	}
	// the engine reports a NACKed address or data phase as a read error
	if d.response[1] == responseGetDataError || d.response[3] == readSizeError {
		return &sensors.BusError{Address: address, Err: sensors.ErrNotAcknowledged}
	}
	if int(d.response[3]) != len(buffer) {
		return &sensors.BusError{Address: address, Err: fmt.Errorf("invalid data size byte; expected %d, got %d", len(buffer), d.response[3])}
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx)
}

func (d *MCP2221) status(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		8: I2C communication state, 0 when idle
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
		25: I2C read pending
	*/
	status := &MCP2221Status{
		I2CState:             int(buffer[8]),
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// Release cancels the current transfer if the engine did not return to idle,
// which happens after a NACK or a timeout.
func (d *MCP2221) Release(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	status, err := d.status(ctx)
	if err != nil {
		return err
	}
	if status.Idle() {
		return nil
	}
	slog.Debug("cancelling pending i2c transfer", "state", status.I2CState, "read_pending", status.ReadPending)
	_, err = d.releaseBus(ctx)
	return err
}

// ReleaseBus unconditionally cancels the current transfer.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.releaseBus(ctx)
}

func (d *MCP2221) releaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.resetBuffers()
	d.request[0] = cmdStatusSetParameters
	d.request[2] = subCmdCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.open()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			slog.Debug("adapter close failed", "error", err)
		}
	}()
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		slog.Debug("sending message to adapter", "report", hex.EncodeToString(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.responseWait):
		}
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		slog.Debug("read message from adapter", "report", hex.EncodeToString(d.response))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#02x carries command %#02x: %w", d.request[0], d.response[0], ErrCommandUnsupported)
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
