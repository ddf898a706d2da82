package environment

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Temperature in degrees Celsius.
type Temperature float64

// temperatureFromRaw applies T = -45 + 175 * raw / 65535.
func temperatureFromRaw(raw uint16) Temperature {
	return Temperature(-45.0 + 175.0*float64(raw)/65535.0)
}

func (t Temperature) Celsius() float64 {
	return float64(t)
}

// Physic converts the reading to periph's fixed point representation.
func (t Temperature) Physic() physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(float64(t)*float64(physic.Kelvin))
}

func (t Temperature) String() string {
	return fmt.Sprintf("%.2f °C", float64(t))
}

// Identification is the 8 byte device identification number.
type Identification [8]byte

func (id Identification) String() string {
	return hex.EncodeToString(id[:])
}

// StatusRegister holds the two bytes returned by the read status command.
// The sensor documentation calls them status register 1 and 2.
type StatusRegister [2]byte

// Status register flags as a 16-bit word (byte 0 is the high byte).
const (
	StatusAlertPending     uint16 = 0x8000
	StatusHeaterOn         uint16 = 0x2000
	StatusTemperatureAlert uint16 = 0x0400
	StatusResetDetected    uint16 = 0x0010
	StatusCommandFailed    uint16 = 0x0002
	StatusWriteCRCFailed   uint16 = 0x0001
)

// HeaterOn reports the heater bit: shift byte 0 left by two, keep the low
// byte and look at its top bit.
func (s StatusRegister) HeaterOn() bool {
	return ((s[0]<<2)&0xFF)>>7 == 1
}

func (s StatusRegister) Byte0() byte {
	return s[0]
}

func (s StatusRegister) Byte1() byte {
	return s[1]
}

func (s StatusRegister) Word() uint16 {
	return binary.BigEndian.Uint16(s[:])
}

// Has reports whether all bits of flag are set.
func (s StatusRegister) Has(flag uint16) bool {
	return s.Word()&flag == flag
}

func (s StatusRegister) String() string {
	const divider = " | "
	var buf bytes.Buffer
	names := []struct {
		flag uint16
		name string
	}{
		{StatusAlertPending, "ALERT_PENDING"},
		{StatusHeaterOn, "HEATER_ON"},
		{StatusTemperatureAlert, "TEMPERATURE_ALERT"},
		{StatusResetDetected, "RESET_DETECTED"},
		{StatusCommandFailed, "COMMAND_FAILED"},
		{StatusWriteCRCFailed, "WRITE_CRC_FAILED"},
	}
	for _, n := range names {
		if s.Has(n.flag) {
			buf.WriteString(n.name + divider)
		}
	}
	if buf.Len() == 0 {
		return fmt.Sprintf("%#04x", s.Word())
	}
	buf.Truncate(buf.Len() - len(divider))
	return fmt.Sprintf("%#04x (%s)", s.Word(), buf.String())
}

// MarshalYAML renders the register for the CLI.
func (s StatusRegister) MarshalYAML() (interface{}, error) {
	return struct {
		Register1 string `yaml:"status_register_1"`
		Register2 string `yaml:"status_register_2"`
		HeaterOn  bool   `yaml:"heater_on"`
		Flags     string `yaml:"flags"`
	}{
		Register1: fmt.Sprintf("%#02x", s[0]),
		Register2: fmt.Sprintf("%#02x", s[1]),
		HeaterOn:  s.HeaterOn(),
		Flags:     s.String(),
	}, nil
}
