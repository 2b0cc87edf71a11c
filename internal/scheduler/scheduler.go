// Package scheduler runs the actuator's duty-cycle timer wheel: the single
// goroutine that decides when the valve should be open or closed, driven
// by accepted ControlMessages, its own phase timer, and liveness/fault
// demotion (spec §4.f).
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// OnDemote is invoked whenever the scheduler is forced into SAFE (valve
// closed, pending phase canceled) by a liveness timeout or fault trigger,
// so the caller can log/notify independently of the scheduler's own loop.
type OnDemote func(reason string)

// OnPhaseEnd is invoked every time a completed ON phase closes, whether by
// its own timer, a cycle change, a demotion, or shutdown, so the caller can
// credit the daily rollup without the scheduler knowing about metrics
// storage.
type OnPhaseEnd func(mode int, duration time.Duration)

// Scheduler is the sole writer into the valve driver's command channel.
// Nothing outside Run's goroutine touches its phase state.
type Scheduler struct {
	input      <-chan model.ControlMessage
	valveCmd   chan<- model.ValveCommand
	demote     chan string
	onDemote   OnDemote
	onPhaseEnd OnPhaseEnd

	lastAppliedID uint64
	curDuty       model.Duty
	curMode       int
	phaseOpen     bool
	phaseEnd      time.Time
	phaseOpenedAt time.Time
	phaseTimer    *time.Timer
}

// New constructs a Scheduler. input is typically subscriber.Messages();
// valveCmd is the valve driver's command channel. onPhaseEnd may be nil.
func New(input <-chan model.ControlMessage, valveCmd chan<- model.ValveCommand, onDemote OnDemote, onPhaseEnd OnPhaseEnd) *Scheduler {
	return &Scheduler{
		input:      input,
		valveCmd:   valveCmd,
		demote:     make(chan string, 1),
		onDemote:   onDemote,
		onPhaseEnd: onPhaseEnd,
	}
}

// Demote is the SafeTrigger hook the subscriber's liveness watchdog (and
// the fault detector) call into. It never blocks: a pending demotion that
// hasn't been processed yet is sufficient, a second one adds nothing.
func (s *Scheduler) Demote(reason string) {
	select {
	case s.demote <- reason:
	default:
	}
}

// Run drives the timer wheel until ctx is canceled. On exit it always
// emits a final ValveCommand{Open:false}.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.cancelPhase()

	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case reason := <-s.demote:
			s.cancelPhase()
			timerC = nil
			log.Warn().Str("reason", reason).Msg("scheduler demoted to safe state")
			if s.onDemote != nil {
				s.onDemote(reason)
			}

		case msg, ok := <-s.input:
			if !ok {
				return nil
			}
			if msg.MessageID <= s.lastAppliedID {
				continue
			}
			s.lastAppliedID = msg.MessageID
			timerC = s.apply(msg)

		case <-timerC:
			timerC = s.firePhase()
		}
	}
}

// apply folds one accepted ControlMessage into the scheduler's phase state
// and returns the channel to select on next (nil if the valve is held
// closed with no pending phase).
func (s *Scheduler) apply(msg model.ControlMessage) <-chan time.Time {
	s.curMode = msg.ModeIndex

	if msg.State == model.StateStopping || !msg.Duty.Enable {
		s.curDuty = msg.Duty
		s.cancelPhase()
		return nil
	}

	if !s.curDuty.SameCycle(msg.Duty) {
		s.curDuty = msg.Duty
		return s.startPhase(true)
	}

	s.curDuty = msg.Duty
	if s.phaseTimer == nil {
		return s.startPhase(true)
	}
	return s.phaseTimer.C
}

// firePhase flips the current ON/OFF phase and arms the next one.
func (s *Scheduler) firePhase() <-chan time.Time {
	return s.startPhase(!s.phaseOpen)
}

func (s *Scheduler) startPhase(open bool) <-chan time.Time {
	s.closeOpenPhase()

	dur := time.Duration(s.curDuty.OffSec) * time.Second
	if open {
		dur = time.Duration(s.curDuty.OnSec) * time.Second
		s.phaseOpenedAt = time.Now()
	}

	s.phaseOpen = open
	s.phaseEnd = time.Now().Add(dur)
	s.sendCommand(open, s.phaseEnd)

	if s.phaseTimer == nil {
		s.phaseTimer = time.NewTimer(dur)
	} else {
		s.phaseTimer.Reset(dur)
	}
	return s.phaseTimer.C
}

func (s *Scheduler) cancelPhase() {
	s.closeOpenPhase()
	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
	}
	s.phaseOpen = false
	s.sendCommand(false, time.Time{})
}

// closeOpenPhase credits the just-finished ON phase, if one was running,
// before any transition away from it (timer fire, cycle change, demotion,
// or shutdown).
func (s *Scheduler) closeOpenPhase() {
	if !s.phaseOpen || s.phaseOpenedAt.IsZero() {
		return
	}
	duration := time.Since(s.phaseOpenedAt)
	s.phaseOpenedAt = time.Time{}
	if s.onPhaseEnd != nil {
		s.onPhaseEnd(s.curMode, duration)
	}
}

// sendCommand hands off to the valve driver synchronously. The scheduler
// is the valve's sole writer, so there is no risk of contention, only of
// the driver falling behind; blocking here keeps commands in order rather
// than silently dropping an open or close.
func (s *Scheduler) sendCommand(open bool, deadline time.Time) {
	s.valveCmd <- model.ValveCommand{Open: open, Deadline: deadline}
}
