package environment

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/epluse/sensors"
)

// Opcode is a 16-bit TEE301 command word, sent high byte first.
type Opcode uint16

// Bytes returns the opcode as it goes on the wire.
func (o Opcode) Bytes() []byte {
	var out [2]byte
	binary.BigEndian.PutUint16(out[:], uint16(o))
	return out[:]
}

func (o Opcode) String() string {
	return fmt.Sprintf("%#04x", uint16(o))
}

// Repeatability selects sensor-internal averaging.
type Repeatability int

const (
	RepeatabilityLow Repeatability = iota + 1
	RepeatabilityMedium
	RepeatabilityHigh
)

func (r Repeatability) String() string {
	switch r {
	case RepeatabilityLow:
		return "low"
	case RepeatabilityMedium:
		return "medium"
	case RepeatabilityHigh:
		return "high"
	default:
		return "<unknown>"
	}
}

// SampleRate is the number of measurements per second in periodic mode.
type SampleRate int

const (
	Rate05MPS SampleRate = iota + 1 // 1 measurement every 2 seconds
	Rate1MPS
	Rate2MPS
	Rate4MPS
	Rate10MPS
)

func (r SampleRate) String() string {
	switch r {
	case Rate05MPS:
		return "0.5 mps"
	case Rate1MPS:
		return "1 mps"
	case Rate2MPS:
		return "2 mps"
	case Rate4MPS:
		return "4 mps"
	case Rate10MPS:
		return "10 mps"
	default:
		return "<unknown>"
	}
}

// Interval returns the time between two periodic samples, 0 for unknown rates.
func (r SampleRate) Interval() time.Duration {
	switch r {
	case Rate05MPS:
		return 2 * time.Second
	case Rate1MPS:
		return time.Second
	case Rate2MPS:
		return 500 * time.Millisecond
	case Rate4MPS:
		return 250 * time.Millisecond
	case Rate10MPS:
		return 100 * time.Millisecond
	default:
		return 0
	}
}

// ClockStretching selects whether the sensor holds SCL low while converting.
type ClockStretching int

const (
	ClockStretchingEnabled ClockStretching = iota + 1
	ClockStretchingDisabled
)

func (c ClockStretching) String() string {
	switch c {
	case ClockStretchingEnabled:
		return "enabled"
	case ClockStretchingDisabled:
		return "disabled"
	default:
		return "<unknown>"
	}
}

type operation int

const (
	opSingleShot operation = iota + 1
	opPeriodicStart
	opPeriodicFetch
	opPeriodicEnd
	opSoftReset
	opHeaterOn
	opHeaterOff
	opReadIdentification
	opReadStatus
	opClearStatus
)

func (o operation) String() string {
	switch o {
	case opSingleShot:
		return "single shot measurement"
	case opPeriodicStart:
		return "start periodic measurement"
	case opPeriodicFetch:
		return "fetch periodic measurement"
	case opPeriodicEnd:
		return "end periodic measurement"
	case opSoftReset:
		return "soft reset"
	case opHeaterOn:
		return "heater on"
	case opHeaterOff:
		return "heater off"
	case opReadIdentification:
		return "read identification"
	case opReadStatus:
		return "read status register"
	case opClearStatus:
		return "clear status register"
	default:
		return "<unknown>"
	}
}

// commandKey selects a command. Fields that do not apply to an operation stay
// at their zero value.
type commandKey struct {
	op            operation
	repeatability Repeatability
	rate          SampleRate
	stretching    ClockStretching
}

type command struct {
	opcode Opcode
	// expected number of response bytes, 0 for write-only commands
	responseSize int
}

// Frame sizes on the wire.
const (
	wordFrameSize           = 3
	doubleWordFrameSize     = 6
	identificationFrameSize = 9
)

var tee301Commands = map[commandKey]command{
	{op: opSingleShot, repeatability: RepeatabilityLow, stretching: ClockStretchingEnabled}:     {0x2C10, wordFrameSize},
	{op: opSingleShot, repeatability: RepeatabilityMedium, stretching: ClockStretchingEnabled}:  {0x2C0D, wordFrameSize},
	{op: opSingleShot, repeatability: RepeatabilityHigh, stretching: ClockStretchingEnabled}:    {0x2C06, wordFrameSize},
	{op: opSingleShot, repeatability: RepeatabilityLow, stretching: ClockStretchingDisabled}:    {0x2410, wordFrameSize},
	{op: opSingleShot, repeatability: RepeatabilityMedium, stretching: ClockStretchingDisabled}: {0x240D, wordFrameSize},
	{op: opSingleShot, repeatability: RepeatabilityHigh, stretching: ClockStretchingDisabled}:   {0x2406, wordFrameSize},

	{op: opPeriodicStart, rate: Rate05MPS, repeatability: RepeatabilityLow}:    {0x202F, 0},
	{op: opPeriodicStart, rate: Rate05MPS, repeatability: RepeatabilityMedium}: {0x2024, 0},
	{op: opPeriodicStart, rate: Rate05MPS, repeatability: RepeatabilityHigh}:   {0x2032, 0},
	{op: opPeriodicStart, rate: Rate1MPS, repeatability: RepeatabilityLow}:     {0x212D, 0},
	{op: opPeriodicStart, rate: Rate1MPS, repeatability: RepeatabilityMedium}:  {0x2126, 0},
	{op: opPeriodicStart, rate: Rate1MPS, repeatability: RepeatabilityHigh}:    {0x2130, 0},
	{op: opPeriodicStart, rate: Rate2MPS, repeatability: RepeatabilityLow}:     {0x222B, 0},
	{op: opPeriodicStart, rate: Rate2MPS, repeatability: RepeatabilityMedium}:  {0x2220, 0},
	{op: opPeriodicStart, rate: Rate2MPS, repeatability: RepeatabilityHigh}:    {0x2236, 0},
	{op: opPeriodicStart, rate: Rate4MPS, repeatability: RepeatabilityLow}:     {0x2329, 0},
	{op: opPeriodicStart, rate: Rate4MPS, repeatability: RepeatabilityMedium}:  {0x2322, 0},
	{op: opPeriodicStart, rate: Rate4MPS, repeatability: RepeatabilityHigh}:    {0x2334, 0},
	{op: opPeriodicStart, rate: Rate10MPS, repeatability: RepeatabilityLow}:    {0x272A, 0},
	{op: opPeriodicStart, rate: Rate10MPS, repeatability: RepeatabilityMedium}: {0x2721, 0},
	{op: opPeriodicStart, rate: Rate10MPS, repeatability: RepeatabilityHigh}:   {0x2737, 0},

	{op: opPeriodicFetch}:      {0xE000, doubleWordFrameSize},
	{op: opPeriodicEnd}:        {0x3093, 0},
	{op: opSoftReset}:          {0x30A2, 0},
	{op: opHeaterOn}:           {0x306D, 0},
	{op: opHeaterOff}:          {0x3066, 0},
	{op: opReadIdentification}: {0x7029, identificationFrameSize},
	{op: opReadStatus}:         {0xF32D, wordFrameSize},
	{op: opClearStatus}:        {0x3041, 0},
}

func lookupCommand(key commandKey) (command, error) {
	cmd, ok := tee301Commands[key]
	if !ok {
		return command{}, fmt.Errorf("no %s command for repeatability %s, rate %s, clock stretching %s: %w",
			key.op, key.repeatability, key.rate, key.stretching, sensors.ErrInvalidArgument)
	}
	return cmd, nil
}

// simple commands take no parameters
func lookupSimple(op operation) command {
	cmd, ok := tee301Commands[commandKey{op: op}]
	if !ok {
		panic(fmt.Sprintf("tee301: %s is not a parameterless command", op))
	}
	return cmd
}
