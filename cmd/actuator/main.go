// Command actuator runs the Subscriber + Duty Scheduler + Valve Driver +
// Flow Sampler + Fault Detector + Event Log + Metrics Store chain: it is
// the only process that touches GPIO.
package main

import (
	"context"
	"math"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/db"
	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/datadog"
	"github.com/thatsimonsguy/mist-cooler/internal/env"
	"github.com/thatsimonsguy/mist-cooler/internal/eventlog"
	"github.com/thatsimonsguy/mist-cooler/internal/fault"
	"github.com/thatsimonsguy/mist-cooler/internal/flow"
	"github.com/thatsimonsguy/mist-cooler/internal/logging"
	"github.com/thatsimonsguy/mist-cooler/internal/metrics"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
	"github.com/thatsimonsguy/mist-cooler/internal/notifications"
	"github.com/thatsimonsguy/mist-cooler/internal/pubsub"
	"github.com/thatsimonsguy/mist-cooler/internal/scheduler"
	"github.com/thatsimonsguy/mist-cooler/internal/valve"
	"github.com/thatsimonsguy/mist-cooler/system/shutdown"
	"github.com/thatsimonsguy/mist-cooler/system/startup"
)

// slackNotifier adapts the package-level notifications.Send to the
// fault.Notifier interface.
type slackNotifier struct{}

func (slackNotifier) Send(title, message string) error {
	return notifications.Send(title, message)
}

func main() {
	cfg := config.Load()
	env.Cfg = cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().Str("role", "actuator").Msg("starting mist-cooler actuator")

	notifications.Init()
	datadog.InitMetrics()

	conn, err := db.Open(cfg.Actuator.DBPath)
	if err != nil {
		shutdown.Fatal(err, "failed to open actuator database")
	}

	eventLog := eventlog.New(conn, cfg.Actuator.EventLog.RingSize, cfg.Actuator.EventLog.WriteQueueMax, cfg.Actuator.EventLog.SSEQueueMax)
	metricsStore := metrics.New(conn, cfg.Actuator.Metrics.RetentionDays)
	env.EventLog = eventLog

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay, echo, closeGPIO := openValveLines(cfg)
	if err := startup.ValidateInitialPinStates(cfg.Actuator.GPIO, relay, echo); err != nil {
		shutdown.Fatal(err, "refusing to start with unsafe initial valve state")
	}

	// notifyDemote is bound to the scheduler's Demote once it exists;
	// the subscriber's watchdog and the fault detector both need to call
	// into it before the scheduler can be constructed, since the
	// scheduler itself needs the subscriber's Messages() channel.
	var notifyDemote func(reason string)
	demoteHook := func(reason string) {
		if notifyDemote != nil {
			notifyDemote(reason)
		}
	}

	faultDetector := fault.New(cfg.Actuator.FaultDetector, eventLog, metricsStore, slackNotifier{}, demoteHook)

	teeCmd := make(chan model.ValveCommand)
	valveDriver := valve.NewDriver(relay, echo, cfg.Actuator.GPIO.ValveActiveHigh, faultDetector, faultDetector)
	go teeValveCommands(ctx, teeCmd, valveDriver.Commands(), faultDetector)

	livenessTimeout := time.Duration(cfg.PubSub.PubIntervalSec*cfg.PubSub.LivenessMultiple) * time.Second
	subscriberAddr := config.OverridePort(cfg.PubSub.ActuatorSubscribe, cfg.PortOverride)

	subscriber, err := pubsub.NewSubscriber(ctx, subscriberAddr, cfg.PubSub.Topic, livenessTimeout, demoteHook)
	if err != nil {
		shutdown.Fatal(err, "failed to connect subscriber")
	}

	var lastMeanFlowBits atomic.Uint64

	sched := scheduler.New(subscriber.Messages(), teeCmd, func(reason string) {
		eventLog.Append(model.LevelWarn, model.KindFault, "scheduler demoted: "+reason)
	}, func(mode int, duration time.Duration) {
		meanFlow := math.Float64frombits(lastMeanFlowBits.Load())
		if err := metricsStore.EndOpenPhase(mode, duration, meanFlow); err != nil {
			log.Error().Err(err).Msg("failed to credit open phase to daily metrics")
		}
	})
	notifyDemote = sched.Demote

	flowReader := openFlowReader(cfg)
	flowSampler := flow.NewSampler(flowReader, cfg.Actuator.FlowSampler.SampleHz, cfg.Actuator.FlowSampler.WindowSec, func(est model.FlowEstimate) {
		lastMeanFlowBits.Store(math.Float64bits(est.Mean))
		faultDetector.Observe(est, time.Now())
	})

	go valveDriver.Run(ctx)
	go flowSampler.Run(ctx)
	go metricsStore.RunRetentionLoop(ctx, time.Duration(cfg.Actuator.Metrics.VacuumIntervalHours)*time.Hour)
	go func() {
		if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("subscriber stopped unexpectedly")
		}
	}()

	eventLog.Append(model.LevelInfo, model.KindStart, "actuator started")
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("scheduler stopped unexpectedly")
	}
	eventLog.Append(model.LevelInfo, model.KindStop, "actuator stopping")

	shutdown.Run([]shutdown.Step{
		{Name: "subscriber", Close: subscriber.Close},
		{Name: "valve driver", Close: valveDriver.Close},
		{Name: "gpio chip", Close: closeGPIO},
		{Name: "event log", Close: eventLog.Close},
		{Name: "database", Close: conn.Close},
	})
}

// teeValveCommands forwards every command the scheduler emits to both the
// real valve driver and the fault detector's commanded-state bookkeeping,
// keeping the scheduler and fault packages decoupled from one another.
func teeValveCommands(ctx context.Context, in <-chan model.ValveCommand, out chan<- model.ValveCommand, detector *fault.Detector) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-in:
			detector.SetCommanded(cmd.Open)
			select {
			case <-ctx.Done():
				return
			case out <- cmd:
			}
		}
	}
}

func openValveLines(cfg *config.Config) (relay, echo valve.Line, closeChip func() error) {
	if cfg.Dummy {
		log.Warn().Msg("dummy mode: using fake valve lines, no GPIO access")
		relay = valve.NewFakeLine(0)
		if cfg.Actuator.GPIO.EchoPin != nil {
			echo = valve.NewFakeLine(0)
		}
		return relay, echo, func() error { return nil }
	}

	chip, err := valve.OpenChip()
	if err != nil {
		shutdown.Fatal(err, "failed to open gpio chip")
	}
	relay, err = valve.OpenRelayLine(chip, cfg.Actuator.GPIO.ValvePin, cfg.Actuator.GPIO.ValveActiveHigh)
	if err != nil {
		shutdown.Fatal(err, "failed to open valve relay line")
	}
	if cfg.Actuator.GPIO.EchoPin != nil {
		echo, err = valve.OpenEchoLine(chip, *cfg.Actuator.GPIO.EchoPin)
		if err != nil {
			shutdown.Fatal(err, "failed to open valve echo line")
		}
	}
	return relay, echo, chip.Close
}

func openFlowReader(cfg *config.Config) flow.Reader {
	if cfg.Dummy {
		return flow.NewFakeReader(0)
	}
	chip, err := valve.OpenChip()
	if err != nil {
		shutdown.Fatal(err, "failed to open gpio chip for flow sensor")
	}
	reader, err := flow.NewPulseReader(chip, cfg.Actuator.GPIO.FlowSensorPin, cfg.Actuator.FlowSampler.PulsesPerLiter)
	if err != nil {
		shutdown.Fatal(err, "failed to open flow sensor pin")
	}
	return reader
}
