// Package metrics implements the sqlite-backed daily rollup store
// (spec §4.j): cumulative valve-open seconds, integrated water volume,
// per-mode transition counts, and fault counts, with retention and a
// periodic VACUUM. Every write is mirrored to dogstatsd through
// internal/datadog so both transports stay exercised.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/db"
	"github.com/thatsimonsguy/mist-cooler/internal/datadog"
)

// Store is the process-wide metrics handle. Construct with New.
type Store struct {
	db            *sql.DB
	retentionDays int
}

// New constructs a Store backed by conn.
func New(conn *sql.DB, retentionDays int) *Store {
	return &Store{db: conn, retentionDays: retentionDays}
}

// EndOpenPhase credits one completed valve-open phase to today's rollup:
// phaseDuration of open seconds, phaseDuration*meanFlowLPM of integrated
// volume, and one transition count for mode.
func (s *Store) EndOpenPhase(mode int, phaseDuration time.Duration, meanFlowLPM float64) error {
	day := time.Now().Format("2006-01-02")
	volumeLiters := phaseDuration.Minutes() * meanFlowLPM

	if err := db.UpsertDailyMetric(s.db, day, int64(phaseDuration.Seconds()), volumeLiters, &mode, 0); err != nil {
		return fmt.Errorf("credit open phase: %w", err)
	}

	datadog.Gauge("mist_cooler.duty.open_seconds", phaseDuration.Seconds())
	datadog.Gauge("mist_cooler.duty.volume_liters", volumeLiters)
	datadog.Count("mist_cooler.duty.mode_transitions", 1, fmt.Sprintf("mode:%d", mode))

	return nil
}

// RecordFault credits one fault occurrence to today's rollup.
func (s *Store) RecordFault() error {
	day := time.Now().Format("2006-01-02")
	if err := db.UpsertDailyMetric(s.db, day, 0, 0, nil, 1); err != nil {
		return fmt.Errorf("credit fault: %w", err)
	}
	datadog.Count("mist_cooler.fault.count", 1)
	return nil
}

// WateringDay is one day's integrated volume and estimated cost.
type WateringDay struct {
	Day          string
	VolumeLiters float64
	CostUSD      float64
}

// Watering returns the last n days of volume/cost, newest first, priced at
// costPerLiter.
func (s *Store) Watering(n int, costPerLiter float64) ([]WateringDay, error) {
	rows, err := db.GetDailyMetrics(s.db, n)
	if err != nil {
		return nil, fmt.Errorf("load watering history: %w", err)
	}

	out := make([]WateringDay, 0, len(rows))
	for _, r := range rows {
		out = append(out, WateringDay{
			Day:          r.Day,
			VolumeLiters: r.VolumeLiters,
			CostUSD:      r.VolumeLiters * costPerLiter,
		})
	}
	return out, nil
}

// RunRetentionLoop runs a VACUUM and retention sweep on interval until ctx
// is cancelled, matching the teacher's daily-housekeeping-goroutine shape.
func (s *Store) RunRetentionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(); err != nil {
				log.Error().Err(err).Msg("metrics retention sweep failed")
			}
		}
	}
}

func (s *Store) sweep() error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	cutoffDay := cutoff.Format("2006-01-02")

	if err := db.DeleteDailyMetricsBefore(s.db, cutoffDay); err != nil {
		return err
	}
	if err := db.DeleteEventsBefore(s.db, cutoff); err != nil {
		return err
	}
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}
