package console

import (
	"fmt"

	"github.com/fatih/color"
)

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	Cyan   = color.New(color.FgCyan).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
	Bold   = color.New(color.Bold).SprintFunc()
)

// Celsius colours a temperature by range: cyan below 0, red above 40.
func Celsius(t float64) string {
	s := fmt.Sprintf("%.2f °C", t)
	switch {
	case t < 0:
		return Cyan(s)
	case t > 40:
		return Red(s)
	default:
		return Green(s)
	}
}

// OnOff renders a boolean flag.
func OnOff(v bool) string {
	if v {
		return Yellow("on")
	}
	return White("off")
}
