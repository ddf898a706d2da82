package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/epluse/sensors/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tee301.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 0x4A, c.Address)
	assert.Equal(t, environment.ClockStretchingEnabled, c.Stretching())
	assert.Len(t, c.SensorOptions(), 3)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
adapter: generic
device: /dev/i2c-1
address: 0x4b
repeatability: medium
rate: "0.5"
clock_stretching: false
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AdapterGeneric, c.Adapter)
	assert.Equal(t, "/dev/i2c-1", c.Device)
	assert.Equal(t, 0x4B, c.Address)
	assert.Equal(t, "medium", c.Repeatability)
	assert.Equal(t, environment.ClockStretchingDisabled, c.Stretching())
	// untouched keys keep their defaults
	assert.Equal(t, 6, c.PeriodicFrame)
	assert.Equal(t, 30, c.Samples)
	assert.Equal(t, ":9301", c.Listen)

	s := environment.NewTEE301(environment.NewMockTEE301Bus(nil), c.SensorOptions()...)
	assert.Equal(t, byte(0x4B), s.Address())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "adapter: [unterminated"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "adapter: spi"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"adapter", func(c *Config) { c.Adapter = "" }},
		{"address low", func(c *Config) { c.Address = 0x00 }},
		{"address high", func(c *Config) { c.Address = 0x80 }},
		{"repeatability", func(c *Config) { c.Repeatability = "ultra" }},
		{"rate", func(c *Config) { c.Rate = "3" }},
		{"single shot frame", func(c *Config) { c.SingleShotFrame = 9 }},
		{"periodic frame", func(c *Config) { c.PeriodicFrame = 0 }},
		{"samples", func(c *Config) { c.Samples = 0 }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := Default()
			test.modify(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestParseRepeatability(t *testing.T) {
	tests := map[string]environment.Repeatability{
		"low":    environment.RepeatabilityLow,
		"Medium": environment.RepeatabilityMedium,
		" high ": environment.RepeatabilityHigh,
		"h":      environment.RepeatabilityHigh,
	}
	for name, expected := range tests {
		got, err := ParseRepeatability(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, got, name)
	}
	_, err := ParseRepeatability("x")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseRate(t *testing.T) {
	tests := map[string]environment.SampleRate{
		"0.5":    environment.Rate05MPS,
		"1":      environment.Rate1MPS,
		"2mps":   environment.Rate2MPS,
		"4 mps":  environment.Rate4MPS,
		"10 MPS": environment.Rate10MPS,
	}
	for name, expected := range tests {
		got, err := ParseRate(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, got, name)
	}
	_, err := ParseRate("5")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
