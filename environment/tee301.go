package environment

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/common"
)

// TEE301DefaultAddress is the factory I2C address (7-bit).
const TEE301DefaultAddress = 0x4A

// SessionState tracks whether the sensor runs periodic acquisition.
type SessionState int

const (
	StateIdle SessionState = iota
	StatePeriodicMeasuring
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePeriodicMeasuring:
		return "periodic measuring"
	default:
		return "<unknown>"
	}
}

// TEE301 represents an E+E TEE301 digital temperature sensor.
// Typical usage:
//
//	s := NewTEE301(bus)
//	t, err := s.SingleShotTemperature(ctx, RepeatabilityHigh, ClockStretchingEnabled)
//
// A TEE301 is not safe for concurrent use. Callers sharing one sensor between
// goroutines must serialise access.
type TEE301 struct {
	exec   txExecutor
	config TEE301Config
	state  SessionState
}

type TEE301Config struct {
	Address byte
	// Response lengths of measurement commands: 3 or 6. Only the leading
	// temperature word and its checksum are interpreted.
	SingleShotFrame int
	PeriodicFrame   int
}

type TEE301Opt func(*TEE301Config)

func WithTEE301Address(address byte) TEE301Opt {
	return func(c *TEE301Config) {
		c.Address = address
	}
}

func WithSingleShotFrame(size int) TEE301Opt {
	return func(c *TEE301Config) {
		c.SingleShotFrame = size
	}
}

func WithPeriodicFrame(size int) TEE301Opt {
	return func(c *TEE301Config) {
		c.PeriodicFrame = size
	}
}

// NewTEE301 binds a session to one device address on the given transport.
// Frame sizes other than 3 or 6 fall back to the defaults.
func NewTEE301(bus sensors.I2CTxBus, opts ...TEE301Opt) *TEE301 {
	config := TEE301Config{
		Address:         TEE301DefaultAddress,
		SingleShotFrame: wordFrameSize,
		PeriodicFrame:   doubleWordFrameSize,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if !validMeasurementFrame(config.SingleShotFrame) {
		config.SingleShotFrame = wordFrameSize
	}
	if !validMeasurementFrame(config.PeriodicFrame) {
		config.PeriodicFrame = doubleWordFrameSize
	}
	return &TEE301{exec: txExecutor{bus: bus}, config: config}
}

func validMeasurementFrame(size int) bool {
	return size == wordFrameSize || size == doubleWordFrameSize
}

func (s *TEE301) State() SessionState {
	return s.state
}

func (s *TEE301) Address() byte {
	return s.config.Address
}

// SingleShotTemperature triggers one measurement and returns the temperature.
// It is rejected while periodic measurement runs.
func (s *TEE301) SingleShotTemperature(ctx context.Context, repeatability Repeatability, stretching ClockStretching) (Temperature, error) {
	if err := s.expectState(opSingleShot, StateIdle); err != nil {
		return 0, err
	}
	cmd, err := lookupCommand(commandKey{op: opSingleShot, repeatability: repeatability, stretching: stretching})
	if err != nil {
		return 0, fmt.Errorf("tee301: %w", err)
	}
	raw, err := s.readWord(ctx, opSingleShot, cmd.opcode, s.config.SingleShotFrame)
	if err != nil {
		return 0, err
	}
	return temperatureFromRaw(raw), nil
}

// StartPeriodicMeasurement puts the sensor into periodic acquisition. Starting
// twice without EndPeriodicMeasurement in between is a protocol state error.
func (s *TEE301) StartPeriodicMeasurement(ctx context.Context, rate SampleRate, repeatability Repeatability) error {
	if err := s.expectState(opPeriodicStart, StateIdle); err != nil {
		return err
	}
	cmd, err := lookupCommand(commandKey{op: opPeriodicStart, rate: rate, repeatability: repeatability})
	if err != nil {
		return fmt.Errorf("tee301: %w", err)
	}
	if err := s.exec.write(ctx, s.config.Address, cmd.opcode); err != nil {
		return fmt.Errorf("tee301: %s failed: %w", opPeriodicStart, err)
	}
	s.state = StatePeriodicMeasuring
	return nil
}

// PeriodicTemperature fetches the latest periodic sample. It does not wait for
// the first sample interval to elapse; reading too early makes the sensor
// NACK the read, which surfaces as a bus error.
func (s *TEE301) PeriodicTemperature(ctx context.Context) (Temperature, error) {
	if err := s.expectState(opPeriodicFetch, StatePeriodicMeasuring); err != nil {
		return 0, err
	}
	cmd := lookupSimple(opPeriodicFetch)
	raw, err := s.readWord(ctx, opPeriodicFetch, cmd.opcode, s.config.PeriodicFrame)
	if err != nil {
		return 0, err
	}
	return temperatureFromRaw(raw), nil
}

// EndPeriodicMeasurement stops periodic acquisition and returns to idle.
func (s *TEE301) EndPeriodicMeasurement(ctx context.Context) error {
	if err := s.expectState(opPeriodicEnd, StatePeriodicMeasuring); err != nil {
		return err
	}
	if err := s.writeSimple(ctx, opPeriodicEnd); err != nil {
		return err
	}
	s.state = StateIdle
	return nil
}

func (s *TEE301) HeaterOn(ctx context.Context) error {
	return s.writeSimple(ctx, opHeaterOn)
}

func (s *TEE301) HeaterOff(ctx context.Context) error {
	return s.writeSimple(ctx, opHeaterOff)
}

// HeaterEnabled reads the status register and reports the heater bit.
func (s *TEE301) HeaterEnabled(ctx context.Context) (bool, error) {
	status, err := s.ReadStatusRegister(ctx)
	if err != nil {
		return false, err
	}
	return status.HeaterOn(), nil
}

// ReadIdentification returns the 8 identification bytes. Unlike measurement
// frames, the trailing checksum covers all 8 bytes at once.
func (s *TEE301) ReadIdentification(ctx context.Context) (Identification, error) {
	var id Identification
	cmd := lookupSimple(opReadIdentification)
	resp, err := s.exec.writeRead(ctx, s.config.Address, cmd.opcode, cmd.responseSize)
	if err != nil {
		return id, fmt.Errorf("tee301: %s failed: %w", opReadIdentification, err)
	}
	last := len(resp) - 1
	if err := verifyRange(resp, 0, last); err != nil {
		return id, fmt.Errorf("tee301: %s: %w", opReadIdentification, err)
	}
	copy(id[:], resp[:last])
	return id, nil
}

// Reset issues a soft reset. The session returns to idle whatever the outcome,
// since the sensor may have reset even if the transfer reported an error.
func (s *TEE301) Reset(ctx context.Context) error {
	err := s.writeSimple(ctx, opSoftReset)
	s.state = StateIdle
	return err
}

// BusReset sends the general call reset to address 0x00. It resets every
// device on the bus that supports general call, not only this sensor.
func (s *TEE301) BusReset(ctx context.Context) error {
	if err := s.exec.generalCallReset(ctx); err != nil {
		return fmt.Errorf("tee301: general call reset failed: %w", err)
	}
	s.state = StateIdle
	return nil
}

func (s *TEE301) ReadStatusRegister(ctx context.Context) (StatusRegister, error) {
	var status StatusRegister
	cmd := lookupSimple(opReadStatus)
	raw, err := s.readWord(ctx, opReadStatus, cmd.opcode, cmd.responseSize)
	if err != nil {
		return status, err
	}
	binary.BigEndian.PutUint16(status[:], raw)
	return status, nil
}

func (s *TEE301) ClearStatusRegister(ctx context.Context) error {
	return s.writeSimple(ctx, opClearStatus)
}

func (s *TEE301) expectState(op operation, expected SessionState) error {
	if s.state != expected {
		return fmt.Errorf("tee301: %s while %s: %w", op, s.state, sensors.ErrProtocolState)
	}
	return nil
}

func (s *TEE301) writeSimple(ctx context.Context, op operation) error {
	cmd := lookupSimple(op)
	if err := s.exec.write(ctx, s.config.Address, cmd.opcode); err != nil {
		return fmt.Errorf("tee301: %s failed: %w", op, err)
	}
	return nil
}

// readWord fetches a frame of size bytes and returns its leading word once
// the checksum at byte 2 matches. The sensor measures temperature only, so
// bytes past the first word carry no data and are not checked.
func (s *TEE301) readWord(ctx context.Context, op operation, opcode Opcode, size int) (uint16, error) {
	resp, err := s.exec.writeRead(ctx, s.config.Address, opcode, size)
	if err != nil {
		return 0, fmt.Errorf("tee301: %s failed: %w", op, err)
	}
	raw, err := decodeWord(resp)
	if err != nil {
		return 0, fmt.Errorf("tee301: %s: %w", op, err)
	}
	return raw, nil
}

func decodeWord(frame []byte) (uint16, error) {
	if len(frame) < wordFrameSize {
		return 0, fmt.Errorf("frame of %d bytes is shorter than a checksummed word: %w", len(frame), sensors.ErrInvalidArgument)
	}
	if err := verifyRange(frame, 0, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(frame[:2]), nil
}

// verifyRange checks frame[start:end] against the checksum byte at frame[end].
func verifyRange(frame []byte, start, end int) error {
	crc := common.Compute(frame, start, end)
	if crc != frame[end] {
		return &sensors.ChecksumError{Offset: end, Expected: frame[end], Got: crc}
	}
	return nil
}
