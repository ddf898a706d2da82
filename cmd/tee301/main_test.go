package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/epluse/sensors/cmd/tee301/console"
	"github.com/epluse/sensors/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	console.SetOutput(out, errOut)
	t.Cleanup(func() { console.SetOutput(os.Stdout, os.Stderr) })
	return out, errOut
}

func useMock(t *testing.T, mock *environment.MockTEE301Bus) {
	t.Helper()
	prev := newMockBus
	newMockBus = func() *environment.MockTEE301Bus { return mock }
	t.Cleanup(func() { newMockBus = prev })
}

func constant(celsius float64) environment.TemperatureBehaviorFunc {
	return func(ctx context.Context) (float64, error) { return celsius, nil }
}

func TestRunMeasure(t *testing.T) {
	out, _ := captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	code := run([]string{"tee301", "--adapter", "mock", "measure", "--repeatability", "low"})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "25.00 °C")
}

func TestRunIdentify(t *testing.T) {
	out, _ := captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "identify"}))
	assert.Contains(t, out.String(), "5445453330310001")
}

func TestRunWrongAddress(t *testing.T) {
	captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	assert.Equal(t, 2, run([]string{"tee301", "-a", "mock", "--address", "0x4b", "identify"}))
}

func TestRunChecksumError(t *testing.T) {
	captureOutput(t)
	mock := environment.NewMockTEE301Bus(constant(25))
	mock.CorruptNext(1)
	useMock(t, mock)

	assert.Equal(t, 3, run([]string{"tee301", "-a", "mock", "measure"}))
}

func TestRunInvalidArguments(t *testing.T) {
	captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	assert.Equal(t, 6, run([]string{"tee301", "-a", "mock", "measure", "--repeatability", "extreme"}))
	assert.Equal(t, 6, run([]string{"tee301", "-a", "mock", "periodic", "--rate", "3"}))
	assert.Equal(t, 6, run([]string{"tee301", "-a", "mock", "--address", "0x1ff", "identify"}))
	assert.Equal(t, 6, run([]string{"tee301", "-a", "serial", "identify"}))
}

func TestRunPeriodic(t *testing.T) {
	out, _ := captureOutput(t)
	mock := environment.NewMockTEE301Bus(constant(25))
	useMock(t, mock)

	code := run([]string{"tee301", "-a", "mock", "periodic", "--rate", "10", "--samples", "2"})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "  1  ")
	assert.Contains(t, out.String(), "  2  ")
	assert.Contains(t, out.String(), "2 samples at")
	assert.False(t, mock.Periodic(), "acquisition must be ended")
}

func TestRunHeaterAndStatus(t *testing.T) {
	out, _ := captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "heater", "on"}))
	out.Reset()
	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "heater", "status"}))
	assert.Contains(t, out.String(), "heater on")

	out.Reset()
	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "status", "read"}))
	assert.NotEmpty(t, out.String())

	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "status", "clear"}))
}

func TestRunReset(t *testing.T) {
	out, _ := captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25)))

	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "reset"}))
	assert.Contains(t, out.String(), "reset")
	assert.Equal(t, 0, run([]string{"tee301", "-a", "mock", "reset", "--bus", "--yes"}))
	assert.Contains(t, out.String(), "general call reset sent")
}

func TestRunConfigFile(t *testing.T) {
	captureOutput(t)
	useMock(t, environment.NewMockTEE301Bus(constant(25), environment.WithMockAddress(0x4B)))

	path := filepath.Join(t.TempDir(), "tee301.yaml")
	require.NoError(t, os.WriteFile(path, []byte("adapter: mock\naddress: 75\n"), 0o600))

	assert.Equal(t, 0, run([]string{"tee301", "--config", path, "identify"}))
	assert.Equal(t, 1, run([]string{"tee301", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "identify"}))
}
