package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// migration is one forward-only schema step, applied in order and recorded
// in schema_version so a restart never re-runs a step twice.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	{
		version: 1,
		stmt: `CREATE TABLE schema_version (
			version INTEGER NOT NULL
		)`,
	},
	{
		version: 2,
		stmt: `CREATE TABLE events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      TEXT NOT NULL,
			level   TEXT NOT NULL,
			kind    TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
	},
	{
		version: 3,
		stmt:    `CREATE INDEX idx_events_ts ON events (ts)`,
	},
	{
		version: 4,
		stmt: `CREATE TABLE metrics_daily (
			day               TEXT PRIMARY KEY,
			open_seconds      INTEGER NOT NULL DEFAULT 0,
			volume_liters     REAL NOT NULL DEFAULT 0,
			mode_counts       TEXT NOT NULL DEFAULT '{}',
			fault_count       INTEGER NOT NULL DEFAULT 0
		)`,
	},
}

// Open opens the sqlite database at path and applies any migrations that
// haven't run yet.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

func migrate(conn *sql.DB) error {
	applied, err := appliedVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= applied {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if m.version > 1 {
			if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, m.version); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
		} else {
			if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration %d: %w", m.version, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

func appliedVersion(conn *sql.DB) (int, error) {
	var version int
	err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		// schema_version itself doesn't exist yet.
		return 0, nil
	}
	return version, nil
}
