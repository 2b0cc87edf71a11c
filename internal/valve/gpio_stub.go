//go:build !linux

package valve

import "errors"

// OpenChip is not available on non-Linux platforms. Dummy-mode builds use
// FakeLine instead of calling this at all.
func OpenChip() (any, error) {
	return nil, errors.New("valve: gpio not supported on this platform (requires Linux)")
}

// OpenRelayLine is not available on non-Linux platforms.
func OpenRelayLine(chip any, pin int, activeHigh bool) (Line, error) {
	return nil, errors.New("valve: gpio not supported on this platform (requires Linux)")
}

// OpenEchoLine is not available on non-Linux platforms.
func OpenEchoLine(chip any, pin int) (Line, error) {
	return nil, errors.New("valve: gpio not supported on this platform (requires Linux)")
}
