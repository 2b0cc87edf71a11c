package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestControlMessageRoundTrip(t *testing.T) {
	original := ControlMessage{
		MessageID: 42,
		Timestamp: time.Date(2026, 8, 6, 10, 30, 0, 0, time.UTC),
		ModeIndex: 2,
		State:     StateRunning,
		Duty:      Duty{Enable: true, OnSec: 60, OffSec: 120},
	}

	data, err := original.MarshalBinary()
	require.NoError(t, err)

	var decoded ControlMessage
	require.NoError(t, decoded.UnmarshalBinary(data))

	require.Equal(t, original.MessageID, decoded.MessageID)
	require.True(t, original.Timestamp.Equal(decoded.Timestamp))
	require.Equal(t, original.ModeIndex, decoded.ModeIndex)
	require.Equal(t, original.State, decoded.State)
	require.Equal(t, original.Duty, decoded.Duty)
}

func TestControlMessageUnmarshalRejectsMalformed(t *testing.T) {
	var m ControlMessage
	require.Error(t, m.UnmarshalBinary([]byte("not json")))
}
