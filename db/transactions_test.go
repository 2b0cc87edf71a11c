package db

import (
	"testing"
	"time"

	"github.com/thatsimonsguy/mist-cooler/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_CreatesEventsAndMetricsTables(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM metrics_daily`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, migrate(conn))
	require.NoError(t, migrate(conn))
}

func TestInsertEvent_PersistsTheCallerAssignedID(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	first, err := InsertEvent(conn, model.EventRecord{
		ID: 1, TS: time.Now(), Level: model.LevelInfo, Kind: model.KindStart, Message: "started",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	second, err := InsertEvent(conn, model.EventRecord{
		ID: 2, TS: time.Now(), Level: model.LevelWarn, Kind: model.KindFault, Message: "no flow",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)

	page, err := GetEventPage(conn, 0, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)
	assert.Equal(t, model.KindFault, page[0].Kind)
	assert.Equal(t, int64(1), page[1].ID)
	assert.Equal(t, model.KindStart, page[1].Kind)
}

func TestMaxEventID_ReflectsHighestPersistedID(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	zero, err := MaxEventID(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero)

	_, err = InsertEvent(conn, model.EventRecord{ID: 1, TS: time.Now(), Level: model.LevelInfo, Kind: model.KindStart, Message: "first"})
	require.NoError(t, err)
	_, err = InsertEvent(conn, model.EventRecord{ID: 2, TS: time.Now(), Level: model.LevelInfo, Kind: model.KindStart, Message: "second"})
	require.NoError(t, err)

	max, err := MaxEventID(conn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), max)
}

func TestGetEventPage_Pagination(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 5; i++ {
		_, err := InsertEvent(conn, model.EventRecord{
			ID: int64(i + 1), TS: time.Now(), Level: model.LevelInfo, Kind: model.KindModeChange, Message: "tick",
		})
		require.NoError(t, err)
	}

	page, err := GetEventPage(conn, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	total, err := CountEvents(conn)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestUpsertDailyMetric_AccumulatesAcrossCalls(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	mode := 1
	require.NoError(t, UpsertDailyMetric(conn, "2026-08-06", 60, 2.5, &mode, 0))
	require.NoError(t, UpsertDailyMetric(conn, "2026-08-06", 60, 2.5, &mode, 1))

	rows, err := GetDailyMetrics(conn, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, int64(120), row.OpenSeconds)
	assert.InDelta(t, 5.0, row.VolumeLiters, 0.0001)
	assert.Equal(t, 2, row.ModeCounts[1])
	assert.Equal(t, 1, row.FaultCount)
}

func TestDeleteEventsBefore_RemovesOnlyOlderRows(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	_, err = InsertEvent(conn, model.EventRecord{ID: 1, TS: old, Level: model.LevelInfo, Kind: model.KindStart, Message: "old"})
	require.NoError(t, err)
	_, err = InsertEvent(conn, model.EventRecord{ID: 2, TS: recent, Level: model.LevelInfo, Kind: model.KindStart, Message: "new"})
	require.NoError(t, err)

	require.NoError(t, DeleteEventsBefore(conn, time.Now().Add(-24*time.Hour)))

	total, err := CountEvents(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
