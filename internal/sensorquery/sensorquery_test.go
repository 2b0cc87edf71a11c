package sensorquery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
	"github.com/thatsimonsguy/mist-cooler/internal/tsdb"
)

func TestFetch_ReturnsWindowOnSuccess(t *testing.T) {
	client := &tsdb.FixtureClient{Windows: []model.SensorWindow{{Power: model.Metric{Value: 900}}}}
	q := New(client, tsdb.Params{}, 5, 30*time.Second)

	w, ok, absent := q.Fetch(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, absent)
	assert.Equal(t, 900.0, w.Power.Value)
}

func TestFetch_RetriesThenSucceeds(t *testing.T) {
	client := &tsdb.FixtureClient{
		Windows: []model.SensorWindow{{}, {}, {Power: model.Metric{Value: 42}}},
		Errs: map[int]error{
			0: errors.New("transient"),
			1: errors.New("transient"),
		},
	}
	q := New(client, tsdb.Params{}, 5, 30*time.Second)

	w, ok, _ := q.Fetch(context.Background())
	require.True(t, ok)
	assert.Equal(t, 42.0, w.Power.Value)
	assert.Equal(t, 3, client.Calls())
}

func TestFetch_ExhaustsRetriesAndReportsAbsent(t *testing.T) {
	client := &tsdb.FixtureClient{
		Windows: []model.SensorWindow{{}},
		Errs: map[int]error{
			0: errors.New("down"),
			1: errors.New("down"),
			2: errors.New("down"),
		},
	}
	q := New(client, tsdb.Params{}, 3, 5*time.Second)

	_, ok, absent := q.Fetch(context.Background())
	require.False(t, ok)
	assert.Equal(t, 1, absent)
}

func TestFetch_AccumulatesConsecutiveAbsentAcrossTicks(t *testing.T) {
	client := &tsdb.FixtureClient{Errs: map[int]error{0: errors.New("down")}}
	q := New(client, tsdb.Params{}, 1, time.Second)

	for i := 1; i <= WarnAfter; i++ {
		client.Errs[client.Calls()] = errors.New("down")
		_, ok, absent := q.Fetch(context.Background())
		require.False(t, ok)
		assert.Equal(t, i, absent)
	}
}
