// Package pubsub implements the controller -> cache-proxy -> actuator
// ZeroMQ XPUB/SUB pipeline (spec §4.c/§4.d/§4.e, §6).
package pubsub

import (
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// encodeFrame builds the two-frame wire message: frame 1 is the topic
// label, frame 2 is the JSON-encoded ControlMessage body.
func encodeFrame(topic string, msg model.ControlMessage) (zmq4.Msg, error) {
	body, err := msg.MarshalBinary()
	if err != nil {
		return zmq4.Msg{}, fmt.Errorf("encode control message: %w", err)
	}
	return zmq4.NewMsgFrom([]byte(topic), body), nil
}

// decodeFrame reverses encodeFrame. It returns an error if the message
// doesn't carry exactly the topic + body frames the wire protocol expects.
func decodeFrame(msg zmq4.Msg) (topic string, ctrl model.ControlMessage, err error) {
	if len(msg.Frames) != 2 {
		return "", model.ControlMessage{}, fmt.Errorf("expected 2 frames, got %d", len(msg.Frames))
	}
	topic = string(msg.Frames[0])
	if err := ctrl.UnmarshalBinary(msg.Frames[1]); err != nil {
		return "", model.ControlMessage{}, err
	}
	return topic, ctrl, nil
}

// isSubscribe reports whether an XPUB-socket-side message is a subscription
// notification for the given topic (frame[0][0]==1, frame[0][1:]==topic).
func isSubscribe(msg zmq4.Msg, topic string) bool {
	if len(msg.Frames) == 0 || len(msg.Frames[0]) == 0 {
		return false
	}
	f := msg.Frames[0]
	if f[0] != 1 {
		return false
	}
	return string(f[1:]) == topic
}
