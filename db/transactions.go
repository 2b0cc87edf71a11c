package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// InsertEvent persists one event record under its already-assigned ID —
// the ring's ID, not whatever sqlite's own AUTOINCREMENT would hand out —
// so the in-memory log and the table never disagree on numbering, even
// across a dropped INFO event or a process restart.
func InsertEvent(db *sql.DB, rec model.EventRecord) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO events (id, ts, level, kind, message) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.TS.UTC().Format(time.RFC3339Nano), string(rec.Level), string(rec.Kind), rec.Message,
	)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit event insert: %w", err)
	}
	return rec.ID, nil
}

// UpsertDailyMetric merges delta counters into the metrics_daily row for
// day, creating it if absent. mode, if non-nil, is the mode index being credited
// with one transition; pass nil for deltas (e.g. a fault) that don't
// represent a mode transition.
func UpsertDailyMetric(db *sql.DB, day string, openSecondsDelta int64, volumeLitersDelta float64, mode *int, faultDelta int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}

	var modeCountsRaw string
	var exists bool
	err = tx.QueryRow(`SELECT mode_counts FROM metrics_daily WHERE day = ?`, day).Scan(&modeCountsRaw)
	if err == nil {
		exists = true
	} else if err != sql.ErrNoRows {
		tx.Rollback()
		return fmt.Errorf("query existing daily metric: %w", err)
	}

	counts := map[int]int{}
	if exists {
		json.Unmarshal([]byte(modeCountsRaw), &counts)
	}
	if mode != nil {
		counts[*mode]++
	}
	encoded, err := json.Marshal(counts)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("marshal mode counts: %w", err)
	}

	if exists {
		_, err = tx.Exec(
			`UPDATE metrics_daily SET open_seconds = open_seconds + ?, volume_liters = volume_liters + ?, mode_counts = ?, fault_count = fault_count + ? WHERE day = ?`,
			openSecondsDelta, volumeLitersDelta, string(encoded), faultDelta, day,
		)
	} else {
		_, err = tx.Exec(
			`INSERT INTO metrics_daily (day, open_seconds, volume_liters, mode_counts, fault_count) VALUES (?, ?, ?, ?, ?)`,
			day, openSecondsDelta, volumeLitersDelta, string(encoded), faultDelta,
		)
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert daily metric: %w", err)
	}

	return tx.Commit()
}
