//go:build linux

package flow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// PulseReader counts rising edges on the flow sensor's signal pin between
// successive ReadLPM calls and converts the pulse rate to liters per
// minute using the sensor's pulses-per-liter calibration constant.
type PulseReader struct {
	line           *gpiocdev.Line
	pulsesPerLiter float64

	mu       sync.Mutex
	count    atomic.Uint64
	lastRead time.Time
}

// NewPulseReader requests pin as an edge-watched input and starts counting
// rising edges immediately.
func NewPulseReader(chip *gpiocdev.Chip, pin int, pulsesPerLiter float64) (*PulseReader, error) {
	r := &PulseReader{pulsesPerLiter: pulsesPerLiter, lastRead: time.Now()}

	line, err := chip.RequestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(r.onEdge),
	)
	if err != nil {
		return nil, fmt.Errorf("request flow sensor pin %d: %w", pin, err)
	}
	r.line = line
	return r, nil
}

func (r *PulseReader) onEdge(evt gpiocdev.LineEvent) {
	if evt.Type == gpiocdev.LineEventRisingEdge {
		r.count.Add(1)
	}
}

// ReadLPM converts pulses accumulated since the last call into an
// instantaneous flow rate; the first call covers the interval since
// construction.
func (r *PulseReader) ReadLPM() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastRead)
	r.lastRead = now

	pulses := r.count.Swap(0)
	if elapsed <= 0 || r.pulsesPerLiter <= 0 {
		return 0, nil
	}
	litersPerSec := float64(pulses) / r.pulsesPerLiter / elapsed.Seconds()
	return litersPerSec * 60, nil
}

// Close releases the underlying GPIO line.
func (r *PulseReader) Close() error {
	return r.line.Close()
}
