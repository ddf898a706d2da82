package sensors

import (
	"errors"
	"fmt"
)

var (
	// ErrBus is matched by every transport failure.
	ErrBus = errors.New("bus error")
	// ErrNotAcknowledged is reported when the addressed device does not ACK.
	ErrNotAcknowledged = errors.New("not acknowledged")
	// ErrChecksum is matched by every checksum mismatch.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrMeasurement is reserved for invalid measurements reported by a sensor.
	ErrMeasurement = errors.New("measurement error")
	// ErrProtocolState is returned when an operation is not allowed in the
	// current session state. Nothing is sent on the bus in that case.
	ErrProtocolState = errors.New("operation not allowed in current state")
	// ErrInvalidArgument is returned for parameter combinations with no command.
	ErrInvalidArgument = errors.New("invalid argument")
)

// BusError wraps a transport failure for a device address.
type BusError struct {
	Address byte
	Err     error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("bus transaction with %#02x failed: %v", e.Address, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

func (e *BusError) Is(target error) bool {
	return target == ErrBus
}

// ChecksumError describes a frame whose checksum byte does not match the
// checksum computed over its payload.
type ChecksumError struct {
	// Offset of the checksum byte within the frame.
	Offset   int
	Expected byte
	Got      byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("crc mismatch at byte %d: expected %#x, got %#x", e.Offset, e.Expected, e.Got)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}

// ErrorKind is a closed classification of driver errors.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindBus
	KindChecksum
	KindMeasurement
	KindProtocolState
	KindInvalidArgument
	KindUnknown
)

// KindOf classifies err. A nil error is KindNone.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrBus), errors.Is(err, ErrNotAcknowledged), errors.Is(err, ErrBusBusy):
		return KindBus
	case errors.Is(err, ErrChecksum):
		return KindChecksum
	case errors.Is(err, ErrMeasurement):
		return KindMeasurement
	case errors.Is(err, ErrProtocolState):
		return KindProtocolState
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "Success"
	case KindBus:
		return "Not acknowledge error"
	case KindChecksum:
		return "Checksum error"
	case KindMeasurement:
		return "Measurement error"
	case KindProtocolState:
		return "Protocol state error"
	case KindInvalidArgument:
		return "Invalid argument"
	default:
		return "Unknown error"
	}
}
