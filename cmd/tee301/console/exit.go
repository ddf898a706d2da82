package console

import (
	"fmt"

	"github.com/epluse/sensors"
	"github.com/urfave/cli/v2"
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}

// ExitCode maps an error to the process exit status. Scripts can tell bus
// failures from checksum failures without parsing output.
func ExitCode(err error) int {
	switch sensors.KindOf(err) {
	case sensors.KindNone:
		return 0
	case sensors.KindBus:
		return 2
	case sensors.KindChecksum:
		return 3
	case sensors.KindMeasurement:
		return 4
	case sensors.KindProtocolState:
		return 5
	case sensors.KindInvalidArgument:
		return 6
	default:
		return 1
	}
}

// Fail wraps a sensor error into a cli exit error with its status string.
func Fail(action string, err error) cli.ExitCoder {
	return Exit(ExitCode(err), "%s: %s (%s)", action, Red(err), sensors.KindOf(err))
}
