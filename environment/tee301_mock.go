package environment

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/epluse/sensors"
	"github.com/epluse/sensors/common"
)

var _ sensors.I2CTxBus = &MockTEE301Bus{}

// TemperatureBehaviorFunc defines the function signature for temperature behavior.
// It returns the temperature in Celsius or an error.
type TemperatureBehaviorFunc func(ctx context.Context) (float64, error)

// MockTEE301Bus simulates a TEE301 sitting on an I2C bus. It decodes the
// command words it receives and answers with checksummed frames, so a TEE301
// session can run against it without hardware.
//
// Example usage:
//
//	bus := NewMockTEE301Bus(func(ctx context.Context) (float64, error) { return 22.5, nil })
//	sensor := NewTEE301(bus)
//
// Like the real device, the mock NACKs a fetch outside periodic mode and any
// command other than fetch, break, soft reset or heater control while
// measuring periodically.
type MockTEE301Bus struct {
	mu       sync.Mutex
	behavior TemperatureBehaviorFunc
	address  byte
	id       Identification
	status   uint16
	periodic bool
	corrupt  int
	releases int

	// with timing, a fetch before the first sample interval elapsed is NACKed
	timing  bool
	readyAt time.Time
}

type MockTEE301Opt func(*MockTEE301Bus)

func WithMockAddress(address byte) MockTEE301Opt {
	return func(m *MockTEE301Bus) {
		m.address = address
	}
}

func WithMockIdentification(id Identification) MockTEE301Opt {
	return func(m *MockTEE301Bus) {
		m.id = id
	}
}

// WithMockSampleTiming makes the mock NACK a periodic fetch issued before
// one sample interval has passed since the start command, as the sensor does.
func WithMockSampleTiming() MockTEE301Opt {
	return func(m *MockTEE301Bus) {
		m.timing = true
	}
}

func NewMockTEE301Bus(behavior TemperatureBehaviorFunc, opts ...MockTEE301Opt) *MockTEE301Bus {
	m := &MockTEE301Bus{
		behavior: behavior,
		address:  TEE301DefaultAddress,
		id:       Identification{0x54, 0x45, 0x45, 0x33, 0x30, 0x31, 0x00, 0x01},
		status:   StatusResetDetected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var opcodeIndex = func() map[Opcode]commandKey {
	index := make(map[Opcode]commandKey, len(tee301Commands))
	for key, cmd := range tee301Commands {
		index[cmd.opcode] = key
	}
	return index
}()

// CorruptNext makes the next n response frames carry a wrong checksum.
func (m *MockTEE301Bus) CorruptNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt = n
}

// SetStatus overrides the simulated status register.
func (m *MockTEE301Bus) SetStatus(status uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

func (m *MockTEE301Bus) Periodic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.periodic
}

func (m *MockTEE301Bus) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

func (m *MockTEE301Bus) Release(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	return nil
}

func (m *MockTEE301Bus) Tx(ctx context.Context, address byte, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if address == sensors.GeneralCallAddress {
		if len(w) == 1 && w[0] == sensors.GeneralCallReset {
			m.reset()
			return nil
		}
		return m.nack(address)
	}
	if address != m.address || len(w) != 2 {
		return m.nack(address)
	}
	op := Opcode(binary.BigEndian.Uint16(w))
	key, ok := opcodeIndex[op]
	if !ok {
		m.status |= StatusCommandFailed
		return m.nack(address)
	}
	if m.periodic && !allowedWhileMeasuring(key.op) {
		m.status |= StatusCommandFailed
		return m.nack(address)
	}
	m.status &^= StatusCommandFailed

	switch key.op {
	case opSingleShot, opPeriodicFetch:
		if key.op == opPeriodicFetch && !m.periodic {
			return m.nack(address)
		}
		if key.op == opPeriodicFetch && m.timing && time.Now().Before(m.readyAt) {
			return m.nack(address)
		}
		raw, err := m.sample(ctx)
		if err != nil {
			return err
		}
		return m.respond(r, raw)
	case opPeriodicStart:
		m.periodic = true
		m.readyAt = time.Now().Add(key.rate.Interval())
	case opPeriodicEnd:
		m.periodic = false
	case opSoftReset:
		m.reset()
	case opHeaterOn:
		m.status |= StatusHeaterOn
	case opHeaterOff:
		m.status &^= StatusHeaterOn
	case opClearStatus:
		m.status &^= StatusAlertPending | StatusTemperatureAlert | StatusResetDetected
	case opReadStatus:
		return m.respond(r, m.status)
	case opReadIdentification:
		if len(r) != identificationFrameSize {
			return fmt.Errorf("identification needs %d bytes, got %d", identificationFrameSize, len(r))
		}
		copy(r, m.id[:])
		r[8] = common.CRC8(m.id[:])
		m.damage(r, 8)
	}
	return nil
}

func allowedWhileMeasuring(op operation) bool {
	switch op {
	case opPeriodicFetch, opPeriodicEnd, opSoftReset, opHeaterOn, opHeaterOff:
		return true
	default:
		return false
	}
}

func (m *MockTEE301Bus) reset() {
	m.periodic = false
	m.status = StatusResetDetected
}

func (m *MockTEE301Bus) nack(address byte) error {
	return &sensors.BusError{Address: address, Err: sensors.ErrNotAcknowledged}
}

func (m *MockTEE301Bus) sample(ctx context.Context) (uint16, error) {
	t, err := m.behavior(ctx)
	if err != nil {
		return 0, err
	}
	return rawFromTemperature(t), nil
}

// respond writes word and its checksum at the start of r. Trailing bytes
// read back as an idle bus, 0xFF.
func (m *MockTEE301Bus) respond(r []byte, word uint16) error {
	if len(r) < wordFrameSize {
		return fmt.Errorf("cannot answer with a %d byte frame", len(r))
	}
	binary.BigEndian.PutUint16(r, word)
	r[2] = common.CRC8(r[:2])
	for i := wordFrameSize; i < len(r); i++ {
		r[i] = 0xFF
	}
	m.damage(r, wordFrameSize-1)
	return nil
}

func (m *MockTEE301Bus) damage(r []byte, crcOffset int) {
	if m.corrupt > 0 {
		m.corrupt--
		r[crcOffset] ^= 0xFF
	}
}

// rawFromTemperature inverts T = -45 + 175 * raw / 65535, clamping to the
// measurable range.
func rawFromTemperature(t float64) uint16 {
	raw := math.Round((t + 45.0) * 65535.0 / 175.0)
	return uint16(math.Max(0, math.Min(65535, raw)))
}
