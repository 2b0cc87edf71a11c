package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// MaxEventID returns the highest persisted event ID, or 0 if the events
// table is empty, so a restarting process can seed its in-memory ID
// counter past whatever is already on disk.
func MaxEventID(conn *sql.DB) (int64, error) {
	var id sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("query max event id: %w", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

// GetEventPage retrieves a page of event records ordered newest-first, for
// GET /api/log_view?offset&limit.
func GetEventPage(conn *sql.DB, offset, limit int) ([]model.EventRecord, error) {
	rows, err := conn.Query(
		`SELECT id, ts, level, kind, message FROM events ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query event page: %w", err)
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var rec model.EventRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.Level, &rec.Kind, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan event record: %w", err)
		}
		rec.TS, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountEvents returns the total number of event records, for pagination.
func CountEvents(conn *sql.DB) (int, error) {
	var n int
	err := conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// DeleteEventsBefore removes event records older than cutoff, enforcing
// the metrics retention window.
func DeleteEventsBefore(conn *sql.DB, cutoff time.Time) error {
	_, err := conn.Exec(`DELETE FROM events WHERE ts < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("delete old events: %w", err)
	}
	return nil
}

// DailyMetric mirrors one row of metrics_daily.
type DailyMetric struct {
	Day          string
	OpenSeconds  int64
	VolumeLiters float64
	ModeCounts   map[int]int
	FaultCount   int
}

// GetDailyMetrics retrieves the last n days of rollups, newest first.
func GetDailyMetrics(conn *sql.DB, n int) ([]DailyMetric, error) {
	rows, err := conn.Query(
		`SELECT day, open_seconds, volume_liters, mode_counts, fault_count FROM metrics_daily ORDER BY day DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily metrics: %w", err)
	}
	defer rows.Close()

	var out []DailyMetric
	for rows.Next() {
		var m DailyMetric
		var modeCounts string
		if err := rows.Scan(&m.Day, &m.OpenSeconds, &m.VolumeLiters, &modeCounts, &m.FaultCount); err != nil {
			return nil, fmt.Errorf("scan daily metric: %w", err)
		}
		m.ModeCounts = map[int]int{}
		json.Unmarshal([]byte(modeCounts), &m.ModeCounts)
		out = append(out, m)
	}
	return out, nil
}

// DeleteDailyMetricsBefore enforces the retention window on metrics_daily.
func DeleteDailyMetricsBefore(conn *sql.DB, cutoffDay string) error {
	_, err := conn.Exec(`DELETE FROM metrics_daily WHERE day < ?`, cutoffDay)
	if err != nil {
		return fmt.Errorf("delete old daily metrics: %w", err)
	}
	return nil
}
