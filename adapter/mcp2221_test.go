package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/epluse/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHID answers every report with the next scripted response for its
// command code and records the requests.
type fakeHID struct {
	requests  [][]byte
	responses map[byte][][]byte
	last      []byte
	closed    int
}

func (f *fakeHID) opener() (HIDDevice, error) {
	return f, nil
}

func (f *fakeHID) Write(b []byte) (int, error) {
	f.last = append([]byte{}, b...)
	f.requests = append(f.requests, f.last)
	return len(b), nil
}

func (f *fakeHID) Read(b []byte) (int, error) {
	resp := make([]byte, reportSize)
	resp[0] = f.last[0]
	if queue := f.responses[f.last[0]]; len(queue) > 0 {
		copy(resp, queue[0])
		f.responses[f.last[0]] = queue[1:]
	}
	return copy(b, resp), nil
}

func (f *fakeHID) Close() error {
	f.closed++
	return nil
}

func (f *fakeHID) script(cmd byte, resp ...byte) {
	if f.responses == nil {
		f.responses = map[byte][][]byte{}
	}
	f.responses[cmd] = append(f.responses[cmd], append([]byte{cmd}, resp...))
}

func (f *fakeHID) commands() []byte {
	var out []byte
	for _, r := range f.requests {
		out = append(out, r[0])
	}
	return out
}

func newTestAdapter(f *fakeHID, opts ...MCP2221Opt) *MCP2221 {
	return NewMCP2221(append([]MCP2221Opt{WithHIDOpener(f.opener), WithResponseWait(0)}, opts...)...)
}

func TestMCP2221_TxWriteRead(t *testing.T) {
	f := &fakeHID{}
	f.script(cmdGetI2CData, 0x00, 0x00, 0x03, 0x66, 0x00, 0x93)
	d := newTestAdapter(f)

	r := make([]byte, 3)
	require.NoError(t, d.Tx(context.Background(), 0x4A, []byte{0x2C, 0x06}, r))
	assert.Equal(t, []byte{0x66, 0x00, 0x93}, r)
	assert.Equal(t, []byte{cmdI2CWriteDataNoStop, cmdI2CReadRepeatedStart, cmdGetI2CData}, f.commands())

	write := f.requests[0]
	assert.Equal(t, []byte{0x94, 0x02, 0x00, 0x94, 0x2C, 0x06}, write[:6])
	read := f.requests[1]
	assert.Equal(t, []byte{0x93, 0x03, 0x00, 0x95}, read[:4])
	assert.Equal(t, 3, f.closed)
}

func TestMCP2221_TxWriteOnly(t *testing.T) {
	f := &fakeHID{}
	d := newTestAdapter(f)
	require.NoError(t, d.Tx(context.Background(), 0x00, []byte{0x06}, nil))
	assert.Equal(t, []byte{cmdI2CWriteData}, f.commands())
	assert.Equal(t, []byte{0x90, 0x01, 0x00, 0x00, 0x06}, f.requests[0][:5])
}

func TestMCP2221_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("busy", func(t *testing.T) {
		f := &fakeHID{}
		f.script(cmdI2CWriteDataNoStop, responseNotCompleted)
		err := newTestAdapter(f).Tx(ctx, 0x4A, []byte{0xF3, 0x2D}, make([]byte, 3))
		assert.ErrorIs(t, err, sensors.ErrBusBusy)
		assert.ErrorIs(t, err, sensors.ErrBus)
		assert.Equal(t, sensors.KindBus, sensors.KindOf(err))
	})

	t.Run("nack", func(t *testing.T) {
		f := &fakeHID{}
		f.script(cmdGetI2CData, responseGetDataError, 0x00, readSizeError)
		err := newTestAdapter(f).ReadFromAddr(ctx, 0x4A, make([]byte, 3))
		assert.ErrorIs(t, err, sensors.ErrNotAcknowledged)
		var busErr *sensors.BusError
		require.ErrorAs(t, err, &busErr)
		assert.Equal(t, byte(0x4A), busErr.Address)
	})

	t.Run("short data", func(t *testing.T) {
		f := &fakeHID{}
		f.script(cmdGetI2CData, 0x00, 0x00, 0x02, 0x66, 0x00)
		err := newTestAdapter(f).Tx(ctx, 0x4A, []byte{0x2C, 0x06}, make([]byte, 3))
		assert.ErrorIs(t, err, sensors.ErrBus)
		assert.ErrorContains(t, err, "expected 3, got 2")
	})

	t.Run("oversized", func(t *testing.T) {
		f := &fakeHID{}
		err := newTestAdapter(f).Tx(ctx, 0x4A, nil, make([]byte, 61))
		assert.ErrorIs(t, err, sensors.ErrBus)
		assert.Empty(t, f.requests)
	})

	t.Run("not found", func(t *testing.T) {
		d := NewMCP2221(WithHIDOpener(func() (HIDDevice, error) { return nil, ErrDeviceNotFound }))
		err := d.WriteToAddr(ctx, 0x4A, []byte{0x30, 0xA2})
		assert.ErrorIs(t, err, ErrDeviceNotFound)
		assert.ErrorIs(t, err, sensors.ErrBus)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := &fakeHID{}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := newTestAdapter(f, WithResponseWait(100*time.Millisecond)).Tx(cctx, 0x4A, []byte{0x30, 0xA2}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMCP2221_Release(t *testing.T) {
	ctx := context.Background()

	f := &fakeHID{}
	d := newTestAdapter(f)
	require.NoError(t, d.Release(ctx))
	assert.Equal(t, []byte{cmdStatusSetParameters}, f.commands())
	assert.Equal(t, byte(0x00), f.requests[0][2])

	pending := make([]byte, 25)
	pending[7] = 0x52 // byte 8 of the report, I2C state
	f = &fakeHID{}
	f.script(cmdStatusSetParameters, pending...)
	d = newTestAdapter(f)
	require.NoError(t, d.Release(ctx))
	assert.Equal(t, []byte{cmdStatusSetParameters, cmdStatusSetParameters}, f.commands())
	assert.Equal(t, subCmdCancelTransfer, f.requests[1][2])
}

func TestMCP2221_Init(t *testing.T) {
	f := &fakeHID{}
	f.script(cmdStatusSetParameters)
	f.script(cmdStatusSetParameters, 0x00, 0x00, subCmdSetSpeed)
	d := newTestAdapter(f, WithI2CSpeed(400000))
	require.NoError(t, d.Init(context.Background()))
	require.Len(t, f.requests, 2)
	assert.Equal(t, subCmdCancelTransfer, f.requests[0][2])
	assert.Equal(t, subCmdSetSpeed, f.requests[1][3])
	assert.Equal(t, byte(27), f.requests[1][4])

	f = &fakeHID{}
	f.script(cmdStatusSetParameters)
	f.script(cmdStatusSetParameters, 0x00, 0x00, responseSpeedNotAccepted)
	err := newTestAdapter(f).Init(context.Background())
	assert.ErrorIs(t, err, ErrCommandFailed)
}

func TestBufferToStatus(t *testing.T) {
	buf := make([]byte, reportSize)
	buf[8] = 0x00
	buf[9], buf[10] = 0x03, 0x00
	buf[11], buf[12] = 0x02, 0x00
	buf[14] = 117
	buf[16], buf[17] = 0x94, 0x00
	status := bufferToStatus(buf)
	assert.Equal(t, uint16(3), status.LastWriteRequestedSize)
	assert.Equal(t, uint16(2), status.LastWriteSentSize)
	assert.Equal(t, 117, status.I2CSpeedDivider)
	assert.Equal(t, "9400", status.CurrentAddress)
	assert.True(t, status.Idle())
}
