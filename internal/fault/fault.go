// Package fault implements the hysteretic fault state machine keyed on
// commanded valve state and the flow sampler's trailing-window estimate
// (spec §4.h). It is the thing that decides when the actuator is no
// longer safe to keep running and needs to drop into SAFE.
package fault

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// EventSink is the append-only log the detector records FAULT/RECOVER
// transitions into. internal/eventlog.Log satisfies this.
type EventSink interface {
	Append(level model.EventLevel, kind model.EventKind, message string) model.EventRecord
}

// MetricsSink records fault occurrences for the daily rollup.
type MetricsSink interface {
	RecordFault() error
}

// Notifier sends a rate-limited alert on fault transitions.
type Notifier interface {
	Send(title, message string) error
}

// Detector tracks how long each fault condition has held and applies the
// configured grace/recovery periods before changing state.
type Detector struct {
	cfg config.FaultDetector

	events  EventSink
	metrics MetricsSink
	notify  Notifier
	onSafe  func(reason string)

	commandedOpen bool
	state         model.FaultState

	conditionSince time.Time
	recoverSince   time.Time
}

// New constructs a Detector starting in FaultOK.
func New(cfg config.FaultDetector, events EventSink, metrics MetricsSink, notify Notifier, onSafe func(reason string)) *Detector {
	return &Detector{
		cfg:     cfg,
		events:  events,
		metrics: metrics,
		notify:  notify,
		onSafe:  onSafe,
		state:   model.FaultOK,
	}
}

// SetCommanded records the valve's currently commanded state. Callers tap
// the scheduler's outgoing ValveCommand stream to keep this current.
func (d *Detector) SetCommanded(open bool) {
	d.commandedOpen = open
}

// State returns the detector's current fault class.
func (d *Detector) State() model.FaultState {
	return d.state
}

// Observe folds one flow estimate into the hysteresis state machine and
// returns the resulting state. now is threaded through explicitly so
// tests can drive grace periods deterministically.
func (d *Detector) Observe(est model.FlowEstimate, now time.Time) model.FaultState {
	violated := d.violatingCondition(est)

	if violated != model.FaultOK {
		if d.state == model.FaultOK {
			if d.conditionSince.IsZero() {
				d.conditionSince = now
			}
			if now.Sub(d.conditionSince) >= d.graceFor(violated) {
				d.enterFault(violated, now)
			}
			return d.state
		}
		if d.state == violated {
			d.recoverSince = time.Time{}
			return d.state
		}
	}

	if d.state != model.FaultOK {
		d.conditionSince = time.Time{}
		if d.recoverSince.IsZero() {
			d.recoverSince = now
		}
		if d.readyToRecover(now) {
			d.recover(now)
		}
		return d.state
	}

	d.conditionSince = time.Time{}
	return d.state
}

// ReportEchoMismatch logs a relay/sense-line disagreement. It doesn't by
// itself enter one of the three flow-based fault classes, just records
// the disagreement for the operator to see on the event feed.
func (d *Detector) ReportEchoMismatch(commandedOpen, echoOpen bool, at time.Time) {
	log.Warn().Bool("commanded_open", commandedOpen).Bool("echo_open", echoOpen).Msg("valve echo mismatch")
	if d.events != nil {
		d.events.Append(model.LevelWarn, model.KindFault, "valve echo line disagrees with commanded state")
	}
}

// ClearManual clears a FLOW_WHILE_CLOSED fault that auto_recover has left
// for an operator to acknowledge (spec §9 open question resolution).
func (d *Detector) ClearManual(now time.Time) {
	if d.state == model.FaultFlowWhileClosed {
		d.recover(now)
	}
}

func (d *Detector) violatingCondition(est model.FlowEstimate) model.FaultState {
	switch {
	case est.N == 0:
		return model.FaultUnstable
	case d.commandedOpen && est.Mean < d.cfg.MinFlowLPM:
		return model.FaultNoFlowWhileOpen
	case !d.commandedOpen && est.Mean > d.cfg.LeakThresholdLPM:
		return model.FaultFlowWhileClosed
	case est.NoiseRatio() > d.cfg.NoiseRatio:
		return model.FaultUnstable
	default:
		return model.FaultOK
	}
}

func (d *Detector) graceFor(class model.FaultState) time.Duration {
	switch class {
	case model.FaultNoFlowWhileOpen:
		return time.Duration(d.cfg.GraceOpenSec) * time.Second
	case model.FaultFlowWhileClosed:
		return time.Duration(d.cfg.GraceCloseSec) * time.Second
	case model.FaultUnstable:
		return time.Duration(d.cfg.UnstableWindowSec) * time.Second
	default:
		return 0
	}
}

func (d *Detector) readyToRecover(now time.Time) bool {
	hold := time.Duration(d.cfg.RecoverHoldSec) * time.Second
	if d.state == model.FaultFlowWhileClosed {
		if d.cfg.AutoRecoverSec <= 0 {
			return false
		}
		hold = time.Duration(d.cfg.AutoRecoverSec) * time.Second
	}
	return now.Sub(d.recoverSince) >= hold
}

func (d *Detector) enterFault(class model.FaultState, now time.Time) {
	d.state = class
	d.conditionSince = time.Time{}
	d.recoverSince = time.Time{}

	msg := string(class)
	d.raiseFault(msg)
	log.Error().Str("fault", msg).Msg("fault detector entered fault state")
}

// raiseFault appends the FAULT event, credits the metrics store, and sends
// a notification and SAFE demotion — the response shared by both a
// flow-based fault transition and a reported hardware fault.
func (d *Detector) raiseFault(msg string) {
	if d.events != nil {
		d.events.Append(model.LevelErr, model.KindFault, msg)
	}
	if d.metrics != nil {
		if err := d.metrics.RecordFault(); err != nil {
			log.Error().Err(err).Msg("record fault metric")
		}
	}
	if d.notify != nil {
		if err := d.notify.Send("Mist cooler fault", msg); err != nil {
			log.Error().Err(err).Msg("send fault notification")
		}
	}
	if d.onSafe != nil {
		d.onSafe(msg)
	}
}

// ReportHardwareFault escalates a valve write failure (spec §7's
// HardwareFault kind) into the same SAFE-mode/notify response as a
// flow-based fault, without touching the flow hysteresis state machine —
// HardwareFault has no FaultState of its own to enter or recover from.
func (d *Detector) ReportHardwareFault(reason string) {
	log.Error().Str("reason", reason).Msg("hardware fault reported")
	d.raiseFault(reason)
}

func (d *Detector) recover(now time.Time) {
	prev := d.state
	d.state = model.FaultOK
	d.recoverSince = time.Time{}
	if d.events != nil {
		d.events.Append(model.LevelInfo, model.KindRecover, string(prev))
	}
	log.Info().Str("from", string(prev)).Msg("fault detector recovered")
}
