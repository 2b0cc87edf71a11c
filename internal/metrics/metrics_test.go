package metrics

import (
	"testing"
	"time"

	"github.com/thatsimonsguy/mist-cooler/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return New(conn, 400)
}

func TestEndOpenPhase_AccumulatesVolumeAndSeconds(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.EndOpenPhase(1, 2*time.Minute, 3.0))
	require.NoError(t, s.EndOpenPhase(1, 1*time.Minute, 3.0))

	rows, err := s.Watering(1, 0.01)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 9.0, rows[0].VolumeLiters, 0.0001)
	assert.InDelta(t, 0.09, rows[0].CostUSD, 0.0001)
}

func TestRecordFault_IncrementsDailyFaultCount(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.RecordFault())
	require.NoError(t, s.RecordFault())

	rows, err := db.GetDailyMetrics(s.db, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].FaultCount)
}

func TestSweep_RemovesOldRowsAndVacuums(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EndOpenPhase(0, time.Minute, 1.0))

	s.retentionDays = -1
	require.NoError(t, s.sweep())

	rows, err := db.GetDailyMetrics(s.db, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
