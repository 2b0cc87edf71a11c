// Command webui serves the browser-facing REST/SSE surface, reading the
// actuator's sqlite database read-only and maintaining its own subscriber
// to the cache-proxy for live mode/duty/liveness.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/db"
	"github.com/thatsimonsguy/mist-cooler/internal/api"
	"github.com/thatsimonsguy/mist-cooler/internal/config"
	"github.com/thatsimonsguy/mist-cooler/internal/env"
	"github.com/thatsimonsguy/mist-cooler/internal/eventlog"
	"github.com/thatsimonsguy/mist-cooler/internal/logging"
	"github.com/thatsimonsguy/mist-cooler/internal/metrics"
	"github.com/thatsimonsguy/mist-cooler/internal/pubsub"
	"github.com/thatsimonsguy/mist-cooler/system/shutdown"
)

func main() {
	cfg := config.Load()
	env.Cfg = cfg
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().Str("role", "webui").Msg("starting mist-cooler webui")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(cfg.Actuator.DBPath)
	if err != nil {
		shutdown.Fatal(err, "failed to open actuator database read-only")
	}

	reader := eventlog.NewReader(ctx, conn, 2*time.Second)
	metricsStore := metrics.New(conn, cfg.Actuator.Metrics.RetentionDays)

	state := api.NewLiveState()
	livenessTimeout := time.Duration(cfg.PubSub.PubIntervalSec*cfg.PubSub.LivenessMultiple) * time.Second

	subscriber, err := pubsub.NewSubscriber(ctx, cfg.PubSub.ActuatorSubscribe, cfg.PubSub.Topic, livenessTimeout, func(reason string) {
		log.Warn().Str("reason", reason).Msg("webui subscriber demoted")
		state.SetLive(false)
	})
	if err != nil {
		shutdown.Fatal(err, "failed to connect webui subscriber")
	}
	go func() {
		if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("webui subscriber stopped unexpectedly")
		}
	}()
	go func() {
		for msg := range subscriber.Messages() {
			state.Update(msg)
		}
	}()

	listenAddr := config.OverridePort(cfg.WebUI.ListenAddr, cfg.PortOverride)
	server := api.NewServer(cfg.WebUI, reader, metricsStore, state, time.Now())

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: server.Router(),
	}
	go func() {
		log.Info().Str("addr", listenAddr).Msg("webui listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("webui http server failed")
		}
	}()

	<-ctx.Done()

	shutdown.Run([]shutdown.Step{
		{Name: "http server", Close: func() error {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutCtx)
		}},
		{Name: "subscriber", Close: subscriber.Close},
		{Name: "database", Close: conn.Close},
	})
}
