// Command controller runs the Sensor Query + Mode Decider + Publisher +
// Cache-Proxy chain: it is the only process that talks to the TSDB and the
// only process that originates ControlMessages.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/datadog"
	"github.com/thatsimonsguy/mist-cooler/internal/decision"
	"github.com/thatsimonsguy/mist-cooler/internal/env"
	"github.com/thatsimonsguy/mist-cooler/internal/logging"
	"github.com/thatsimonsguy/mist-cooler/internal/model"
	"github.com/thatsimonsguy/mist-cooler/internal/notifications"
	"github.com/thatsimonsguy/mist-cooler/internal/pubsub"
	"github.com/thatsimonsguy/mist-cooler/internal/sensorquery"
	"github.com/thatsimonsguy/mist-cooler/internal/tsdb"
	"github.com/thatsimonsguy/mist-cooler/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().Str("role", "controller").Msg("starting mist-cooler controller")

	notifications.Init()
	datadog.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controllerBind := config.OverridePort(cfg.PubSub.ControllerBind, cfg.PortOverride)
	publisher, err := pubsub.NewPublisher(ctx, controllerBind, cfg.PubSub.Topic)
	if err != nil {
		shutdown.Fatal(err, "failed to bind publisher")
	}

	replayWait := time.Duration(cfg.PubSub.ReplayDeadlineMS) * time.Millisecond
	proxy, err := pubsub.NewProxy(ctx, cfg.PubSub.ProxyUpstream, cfg.PubSub.ProxyBind, cfg.PubSub.Topic, replayWait)
	if err != nil {
		shutdown.Fatal(err, "failed to start cache proxy")
	}
	go func() {
		if err := proxy.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("cache proxy stopped unexpectedly")
		}
	}()

	client := buildTSDBClient(cfg)
	params := tsdb.Params{
		Measurement: cfg.Controller.TSDB.Measurement,
		HostLabel:   cfg.Controller.TSDB.HostLabel,
		Lookback:    time.Duration(cfg.Controller.LookbackSec) * time.Second,
	}
	query := sensorquery.New(client, params, cfg.Controller.TSDB.MaxAttempts, 30*time.Second)

	classifier := decision.NewClassifier(cfg.Controller.Rules, cfg.Controller.Outdoor, cfg.Controller.ModeTable)
	debouncer := decision.NewDebouncer(classifier, cfg.Controller.UpDebounceTicks, cfg.Controller.DownDebounceTicks, cfg.Controller.StaleKeepTicks)

	interval := time.Duration(cfg.PubSub.PubIntervalSec) * time.Second
	runTickLoop(ctx, query, debouncer, classifier, publisher, interval)

	shutdown.Run([]shutdown.Step{
		{Name: "publisher", Close: publisher.Close},
		{Name: "cache proxy", Close: proxy.Close},
	})
}

func buildTSDBClient(cfg *config.Config) tsdb.Client {
	if cfg.Dummy {
		log.Warn().Msg("dummy mode: using fixture tsdb client")
		return &tsdb.FixtureClient{
			Windows: []model.SensorWindow{{
				Power:    model.Metric{Value: 0, At: time.Now()},
				Temp:     model.Metric{Value: 20, At: time.Now()},
				Humidity: model.Metric{Value: 40, At: time.Now()},
			}},
		}
	}
	timeout := time.Duration(cfg.Controller.TSDB.TimeoutSec) * time.Second
	return tsdb.NewHTTPClient(cfg.Controller.TSDB.Endpoint, timeout)
}

// runTickLoop drives the sensor-query -> mode-decider -> publish chain on
// every PubInterval tick until ctx is canceled, so every publish is a
// heartbeat regardless of whether the mode actually changed.
func runTickLoop(ctx context.Context, query *sensorquery.Query, debouncer *decision.Debouncer, classifier *decision.Classifier, publisher *pubsub.Publisher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx, query, debouncer, classifier, publisher)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx, query, debouncer, classifier, publisher)
		}
	}
}

func tick(ctx context.Context, query *sensorquery.Query, debouncer *decision.Debouncer, classifier *decision.Classifier, publisher *pubsub.Publisher) {
	window, ok, _ := query.Fetch(ctx)

	modeIndex := debouncer.Decide(window, ok)
	duty := classifier.Duty(modeIndex)

	state := model.StateRunning
	if !duty.Enable {
		state = model.StateIdle
	}

	msg := model.ControlMessage{
		Timestamp: time.Now(),
		ModeIndex: modeIndex,
		State:     state,
		Duty:      duty,
	}
	sent := publisher.Tick(ctx, msg)
	log.Debug().
		Uint64("message_id", sent.MessageID).
		Int("mode_index", sent.ModeIndex).
		Str("state", string(sent.State)).
		Msg("published control message")
}
