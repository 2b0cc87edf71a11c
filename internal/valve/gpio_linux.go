//go:build linux

package valve

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpiocdevLine adapts a *gpiocdev.Line to the Line interface.
type gpiocdevLine struct {
	line *gpiocdev.Line
}

func (l *gpiocdevLine) SetValue(value int) error { return l.line.SetValue(value) }
func (l *gpiocdevLine) Value() (int, error)      { return l.line.Value() }
func (l *gpiocdevLine) Close() error             { return l.line.Close() }

// OpenRelayLine requests the valve relay pin as an output, defaulting to
// the closed (inactive) level.
func OpenRelayLine(chip *gpiocdev.Chip, pin int, activeHigh bool) (Line, error) {
	initial := 0
	if !activeHigh {
		initial = 1
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("request valve relay pin %d: %w", pin, err)
	}
	return &gpiocdevLine{line: line}, nil
}

// OpenEchoLine requests the sense pin as an input with pull-down, matching
// the boot-default convention used elsewhere in this fleet's GPIO code.
func OpenEchoLine(chip *gpiocdev.Chip, pin int) (Line, error) {
	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return nil, fmt.Errorf("request echo pin %d: %w", pin, err)
	}
	return &gpiocdevLine{line: line}, nil
}

// OpenChip opens the default Linux GPIO character device chip.
func OpenChip() (*gpiocdev.Chip, error) {
	return gpiocdev.NewChip("gpiochip0")
}
