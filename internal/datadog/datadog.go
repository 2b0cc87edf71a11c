package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/env"
)

var dogstatsd *statsd.Client

func InitMetrics() {
	if !env.Cfg.Datadog.Enabled {
		return
	}

	var err error
	dogstatsd, err = statsd.New(env.Cfg.Datadog.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = env.Cfg.Datadog.Namespace
	dogstatsd.Tags = env.Cfg.Datadog.Tags

	log.Info().
		Str("addr", env.Cfg.Datadog.AgentAddr).
		Str("namespace", env.Cfg.Datadog.Namespace).
		Strs("tags", env.Cfg.Datadog.Tags).
		Msg("datadog metrics initialized")
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit gauge metric")
	}
}

func Count(name string, value int64, tags ...string) {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Count(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit count metric")
	}
}

func Histogram(name string, value float64, tags ...string) {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Histogram(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("failed to emit histogram metric")
	}
}
