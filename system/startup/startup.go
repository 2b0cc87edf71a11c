// Package startup validates actuator hardware state before any control
// loop starts, the way the teacher's gpio.ValidateInitialPinStates
// refuses to start against relays left in an unexpected state, generalized
// here to the single valve relay + optional echo line (spec §6).
package startup

import (
	"fmt"

	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/valve"
)

// ValidateInitialPinStates reads the valve relay (and echo line, if wired)
// and fails startup if either reflects anything other than closed. A
// fresh actuator process must never inherit an open valve from a prior
// crash without noticing.
func ValidateInitialPinStates(gpio config.GPIO, relay, echo valve.Line) error {
	raw, err := relay.Value()
	if err != nil {
		return fmt.Errorf("read valve relay pin %d: %w", gpio.ValvePin, err)
	}
	relayOpen := (raw == 1) == gpio.ValveActiveHigh
	if relayOpen {
		return fmt.Errorf("valve relay pin %d is active at startup, expected closed", gpio.ValvePin)
	}

	if echo == nil {
		return nil
	}
	echoRaw, err := echo.Value()
	if err != nil {
		return fmt.Errorf("read echo pin: %w", err)
	}
	echoOpen := (echoRaw == 1) == gpio.ValveActiveHigh
	if echoOpen {
		return fmt.Errorf("echo pin reports valve open at startup, expected closed")
	}
	return nil
}
