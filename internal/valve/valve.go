// Package valve drives the mist valve relay (and optional echo/sense
// line) over Linux GPIO. Driver is the only writer its caller needs: the
// command channel returned by Commands is the sole entry point, and the
// GPIO writes themselves happen on Driver's own consumer goroutine so
// ownership of the line can never be split (spec §4.g).
package valve

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Line is the subset of gpiocdev.Line the driver needs, abstracted so
// tests can substitute a fake without touching real hardware.
type Line interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// EchoReporter receives echo/commanded mismatches for the fault detector
// to classify, rather than raising a fault directly (spec §4.g).
type EchoReporter interface {
	ReportEchoMismatch(commandedOpen bool, echoOpen bool, at time.Time)
}

// HardwareFaulter escalates a valve write that failed every retry attempt
// into the spec §7 HardwareFault path (SAFE mode + notify).
type HardwareFaulter interface {
	ReportHardwareFault(reason string)
}

// writeMaxAttempts and writeRetryDelay implement spec §7's "the valve
// driver, on write failure, retries up to 3 times at 100 ms, then
// escalates to HardwareFault".
const (
	writeMaxAttempts = 3
	writeRetryDelay  = 100 * time.Millisecond
)

// Driver owns the valve relay line and an optional echo line. Open/Close
// are idempotent and unexported: the scheduler talks to the driver only
// through Commands().
type Driver struct {
	relay      Line
	echo       Line
	activeHigh bool

	cmds  chan model.ValveCommand
	state bool

	reporter EchoReporter
	faulter  HardwareFaulter
}

// NewDriver constructs a Driver. echo may be nil if no sense line is
// wired; faulter may be nil, in which case exhausted write retries are
// only logged.
func NewDriver(relay, echo Line, activeHigh bool, reporter EchoReporter, faulter HardwareFaulter) *Driver {
	return &Driver{
		relay:      relay,
		echo:       echo,
		activeHigh: activeHigh,
		cmds:       make(chan model.ValveCommand, 4),
		reporter:   reporter,
		faulter:    faulter,
	}
}

// Commands returns the driver's sole command entry point. The scheduler
// holds the only reference to this channel.
func (d *Driver) Commands() chan<- model.ValveCommand {
	return d.cmds
}

// Run consumes ValveCommands until ctx is canceled, applying each one and
// scheduling its echo sample.
func (d *Driver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.cmds:
			d.apply(ctx, cmd.Open)
		}
	}
}

func (d *Driver) apply(ctx context.Context, open bool) {
	if open {
		d.open(ctx)
	} else {
		d.close(ctx)
	}
	if d.echo == nil {
		return
	}
	go d.sampleEcho(ctx, open)
}

func (d *Driver) open(ctx context.Context) {
	if d.state {
		return
	}
	if !d.writeWithRetry(ctx, d.levelFor(true)) {
		return
	}
	d.state = true
}

func (d *Driver) close(ctx context.Context) {
	if !d.state {
		return
	}
	if !d.writeWithRetry(ctx, d.levelFor(false)) {
		return
	}
	d.state = false
}

// writeWithRetry attempts relay.SetValue up to writeMaxAttempts times,
// spaced by writeRetryDelay, and escalates to the HardwareFaulter once
// every attempt has failed. It reports false whenever the level was not
// successfully written, whether due to exhausted retries or ctx
// cancellation mid-backoff.
func (d *Driver) writeWithRetry(ctx context.Context, level int) bool {
	var err error
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		if err = d.relay.SetValue(level); err == nil {
			return true
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("valve relay write failed")
		if attempt == writeMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(writeRetryDelay):
		}
	}

	log.Error().Err(err).Msg("valve relay write exhausted retries")
	if d.faulter != nil {
		d.faulter.ReportHardwareFault("valve relay write failed after retries: " + err.Error())
	}
	return false
}

func (d *Driver) levelFor(open bool) int {
	high := open
	if !d.activeHigh {
		high = !open
	}
	if high {
		return 1
	}
	return 0
}

// sampleEcho reads the sense line 50ms after a commanded write and reports
// any mismatch to the fault detector.
func (d *Driver) sampleEcho(ctx context.Context, commandedOpen bool) {
	timer := time.NewTimer(50 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	raw, err := d.echo.Value()
	if err != nil {
		log.Warn().Err(err).Msg("valve echo read failed")
		return
	}
	echoOpen := (raw == 1) == d.activeHigh
	if echoOpen == commandedOpen {
		return
	}

	if d.reporter != nil {
		d.reporter.ReportEchoMismatch(commandedOpen, echoOpen, time.Now())
	}
}

// Close releases the underlying GPIO lines.
func (d *Driver) Close() error {
	var err error
	if d.relay != nil {
		err = d.relay.Close()
	}
	if d.echo != nil {
		if e := d.echo.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
