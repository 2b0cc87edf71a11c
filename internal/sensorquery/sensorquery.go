// Package sensorquery wraps a tsdb.Client with retry, per-tick budget, and
// absent-window escalation bookkeeping for the mode decider (spec §4.a).
package sensorquery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
	"github.com/thatsimonsguy/mist-cooler/internal/tsdb"
)

// WarnAfter and ErrAfter set the consecutive-absent escalation thresholds
// from spec §7 StaleSensor.
const (
	WarnAfter = 2
	ErrAfter  = 5
)

// Query retries a single tsdb.Client against transient failures and tracks
// how many consecutive ticks have come back absent.
type Query struct {
	client      tsdb.Client
	params      tsdb.Params
	maxAttempts int
	tickBudget  time.Duration

	consecutiveAbsent int
}

// New constructs a Query. maxAttempts and tickBudget come from
// config.TSDB.MaxAttempts and a 30s overall per-tick budget (spec §4.a).
func New(client tsdb.Client, params tsdb.Params, maxAttempts int, tickBudget time.Duration) *Query {
	return &Query{
		client:      client,
		params:      params,
		maxAttempts: maxAttempts,
		tickBudget:  tickBudget,
	}
}

// Fetch runs one tick: retries the underlying client with exponential
// backoff (100ms -> 10s) up to maxAttempts within tickBudget. On exhausted
// retries it returns a zero-value window with ok=false rather than
// synthesizing values, and reports the current consecutive-absent count.
func (q *Query) Fetch(ctx context.Context) (window model.SensorWindow, ok bool, consecutiveAbsent int) {
	ctx, cancel := context.WithTimeout(ctx, q.tickBudget)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	wrapped := backoff.WithMaxRetries(bo, uint64(maxInt(q.maxAttempts-1, 0)))
	wrapped = backoff.WithContext(wrapped, ctx)

	var result model.SensorWindow
	err := backoff.Retry(func() error {
		w, err := q.client.Query(ctx, q.params)
		if err != nil {
			return err
		}
		result = w
		return nil
	}, wrapped)

	if err != nil {
		q.consecutiveAbsent++
		q.logEscalation()
		return model.SensorWindow{}, false, q.consecutiveAbsent
	}

	q.consecutiveAbsent = 0
	return result, true, 0
}

func (q *Query) logEscalation() {
	switch {
	case q.consecutiveAbsent >= ErrAfter:
		log.Error().Int("consecutive_absent", q.consecutiveAbsent).Msg("sensor window absent past error threshold")
	case q.consecutiveAbsent >= WarnAfter:
		log.Warn().Int("consecutive_absent", q.consecutiveAbsent).Msg("sensor window absent past warn threshold")
	default:
		log.Debug().Int("consecutive_absent", q.consecutiveAbsent).Msg("sensor window absent")
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
