//go:build !linux

package flow

import "errors"

// PulseReader is not available off Linux; dummy mode substitutes FakeReader.
type PulseReader struct{}

func NewPulseReader(chip any, pin int, pulsesPerLiter float64) (*PulseReader, error) {
	return nil, errors.New("flow: gpio pulse counting requires linux")
}

func (r *PulseReader) ReadLPM() (float64, error) {
	return 0, errors.New("flow: not supported on this platform")
}

func (r *PulseReader) Close() error { return nil }
