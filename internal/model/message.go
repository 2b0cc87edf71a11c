package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireControlMessage is the self-describing record on frame 2 of the
// pub/sub wire protocol (spec §6). Field names are fixed by the protocol
// and must not change without a version bump on the wire.
type wireControlMessage struct {
	MessageID uint64 `json:"message_id"`
	TS        string `json:"ts"`
	ModeIndex uint16 `json:"mode_index"`
	State     string `json:"state"`
	Duty      struct {
		Enable bool `json:"enable"`
		OnSec  uint32 `json:"on_sec"`
		OffSec uint32 `json:"off_sec"`
	} `json:"duty"`
}

// MarshalBinary encodes m as the JSON body carried on frame 2 of the
// pub/sub wire protocol.
func (m ControlMessage) MarshalBinary() ([]byte, error) {
	w := wireControlMessage{
		MessageID: m.MessageID,
		TS:        m.Timestamp.UTC().Format(time.RFC3339Nano),
		ModeIndex: uint16(m.ModeIndex),
		State:     string(m.State),
	}
	w.Duty.Enable = m.Duty.Enable
	w.Duty.OnSec = uint32(m.Duty.OnSec)
	w.Duty.OffSec = uint32(m.Duty.OffSec)
	return json.Marshal(w)
}

// UnmarshalBinary decodes the JSON body carried on frame 2 of the pub/sub
// wire protocol into m.
func (m *ControlMessage) UnmarshalBinary(data []byte) error {
	var w wireControlMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode control message: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil {
		return fmt.Errorf("decode control message timestamp: %w", err)
	}
	m.MessageID = w.MessageID
	m.Timestamp = ts
	m.ModeIndex = int(w.ModeIndex)
	m.State = ControlState(w.State)
	m.Duty = Duty{
		Enable: w.Duty.Enable,
		OnSec:  int(w.Duty.OnSec),
		OffSec: int(w.Duty.OffSec),
	}
	return nil
}
