package pubsub

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Publisher binds an XPUB socket and emits ControlMessages with a
// monotonically increasing MessageID, heartbeating on every PubInterval
// tick regardless of content change (spec §4.c).
type Publisher struct {
	sock  zmq4.Socket
	topic string

	lastID atomic.Uint64
}

// NewPublisher binds an XPUB socket at bindAddr. The controller publishes
// on XPUB rather than plain PUB so the cache-proxy's subscribe events are
// visible for diagnostics even though the proxy (not the publisher) owns
// the replay-on-subscribe behavior.
func NewPublisher(ctx context.Context, bindAddr, topic string) (*Publisher, error) {
	sock := zmq4.NewXPub(ctx)
	if err := sock.Listen(bindAddr); err != nil {
		return nil, err
	}
	return &Publisher{sock: sock, topic: topic}, nil
}

// Tick assigns the next MessageID to msg and sends it. Publish errors are
// logged and never propagated to the caller; the tick loop must not block
// on a slow or absent subscriber.
func (p *Publisher) Tick(ctx context.Context, msg model.ControlMessage) model.ControlMessage {
	msg.MessageID = p.lastID.Add(1)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	wire, err := encodeFrame(p.topic, msg)
	if err != nil {
		log.Error().Err(err).Msg("encode control message")
		return msg
	}
	if err := p.sock.Send(wire); err != nil {
		log.Error().Err(err).Msg("publish control message")
	}
	return msg
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	return p.sock.Close()
}
