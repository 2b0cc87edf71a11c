package valve

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

type recordingReporter struct {
	mu        sync.Mutex
	mismatch  bool
	commanded bool
	echo      bool
}

func (r *recordingReporter) ReportEchoMismatch(commandedOpen, echoOpen bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mismatch = true
	r.commanded = commandedOpen
	r.echo = echoOpen
}

func (r *recordingReporter) called() (bool, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mismatch, r.commanded, r.echo
}

func TestDriver_OpenSetsActiveHighLevel(t *testing.T) {
	relay := NewFakeLine(0)
	d := NewDriver(relay, nil, true, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Commands() <- model.ValveCommand{Open: true}
	require.Eventually(t, func() bool {
		v, _ := relay.Value()
		return v == 1
	}, 50*time.Millisecond, time.Millisecond)
}

func TestDriver_CloseSetsActiveLowLevelWhenNotActiveHigh(t *testing.T) {
	relay := NewFakeLine(0)
	d := NewDriver(relay, nil, false, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Commands() <- model.ValveCommand{Open: true}
	require.Eventually(t, func() bool {
		v, _ := relay.Value()
		return v == 0
	}, 50*time.Millisecond, time.Millisecond)

	d.Commands() <- model.ValveCommand{Open: false}
	require.Eventually(t, func() bool {
		v, _ := relay.Value()
		return v == 1
	}, 50*time.Millisecond, time.Millisecond)
}

func TestDriver_OpenIsIdempotent(t *testing.T) {
	relay := NewFakeLine(0)
	d := NewDriver(relay, nil, true, nil, nil)
	d.open(context.Background())
	d.open(context.Background())
	v, _ := relay.Value()
	assert.Equal(t, 1, v)
}

func TestDriver_ReportsEchoMismatch(t *testing.T) {
	relay := NewFakeLine(0)
	echo := NewFakeLine(0)
	reporter := &recordingReporter{}
	d := NewDriver(relay, echo, true, reporter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Commands() <- model.ValveCommand{Open: true}

	require.Eventually(t, func() bool {
		called, _, _ := reporter.called()
		return called
	}, 200*time.Millisecond, 5*time.Millisecond)

	called, commanded, echoOpen := reporter.called()
	assert.True(t, called)
	assert.True(t, commanded)
	assert.False(t, echoOpen)
}

func TestDriver_EchoMatchingCommandedStateNeverReports(t *testing.T) {
	relay := NewFakeLine(0)
	echo := NewFakeLine(1) // active-high: raw=1 reads as "open", matching the commanded open below.
	reporter := &recordingReporter{}
	d := NewDriver(relay, echo, true, reporter, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Commands() <- model.ValveCommand{Open: true}

	// Give the echo sample (fired 50ms after the write) time to run and
	// confirm it never calls the reporter for an agreeing echo line.
	time.Sleep(100 * time.Millisecond)

	called, _, _ := reporter.called()
	assert.False(t, called, "a matching echo reading must never be reported as a mismatch")
}

type recordingFaulter struct {
	mu     sync.Mutex
	reason string
	called bool
}

func (f *recordingFaulter) ReportHardwareFault(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.reason = reason
}

func (f *recordingFaulter) get() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called, f.reason
}

func TestDriver_OpenRetriesOnWriteFailureThenSucceeds(t *testing.T) {
	relay := NewFakeLine(0)
	relay.FailNext(2, errors.New("write failed"))
	faulter := &recordingFaulter{}
	d := NewDriver(relay, nil, true, nil, faulter)

	d.open(context.Background())

	assert.Equal(t, 3, relay.Writes())
	v, _ := relay.Value()
	assert.Equal(t, 1, v)
	called, _ := faulter.get()
	assert.False(t, called)
}

func TestDriver_OpenEscalatesToHardwareFaultAfterExhaustingRetries(t *testing.T) {
	relay := NewFakeLine(0)
	relay.FailNext(10, errors.New("relay stuck"))
	faulter := &recordingFaulter{}
	d := NewDriver(relay, nil, true, nil, faulter)

	d.open(context.Background())

	assert.Equal(t, writeMaxAttempts, relay.Writes())
	called, reason := faulter.get()
	assert.True(t, called)
	assert.Contains(t, reason, "relay stuck")
	assert.False(t, d.state, "state must not flip to open when every write attempt failed")
}

func TestDriver_Close_ReleasesBothLines(t *testing.T) {
	relay := NewFakeLine(0)
	echo := NewFakeLine(0)
	d := NewDriver(relay, echo, true, nil, nil)

	require.NoError(t, d.Close())
	assert.True(t, relay.Closed())
	assert.True(t, echo.Closed())
}
