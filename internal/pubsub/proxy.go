package pubsub

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// Proxy is the last-value-caching relay between the controller's XPUB and
// the actuator/webui subscribers (spec §4.d). All cache access happens on
// a single goroutine's event loop; there is no cache mutex because nothing
// outside that loop ever touches lastMsg.
type Proxy struct {
	upstream   zmq4.Socket
	downstream zmq4.Socket
	topic      string
	replayWait time.Duration

	lastMsg  *model.ControlMessage
	lastRaw  zmq4.Msg
	hasCache bool
}

// NewProxy dials upstream (the publisher's XPUB bind) on a SUB socket and
// binds downstream as an XPUB socket at bindAddr.
func NewProxy(ctx context.Context, upstreamAddr, bindAddr, topic string, replayWait time.Duration) (*Proxy, error) {
	sub := zmq4.NewSub(ctx)
	if err := sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return nil, err
	}
	if err := sub.Dial(upstreamAddr); err != nil {
		return nil, err
	}

	xpub := zmq4.NewXPub(ctx)
	if err := xpub.Listen(bindAddr); err != nil {
		return nil, err
	}

	return &Proxy{
		upstream:   sub,
		downstream: xpub,
		topic:      topic,
		replayWait: replayWait,
	}, nil
}

// Run drives the proxy's single event loop until ctx is canceled. It reads
// from both upstream (new control messages) and downstream (subscribe
// events) concurrently through two feeder goroutines, funneling both kinds
// of event into one select loop so cache access stays single-threaded.
func (p *Proxy) Run(ctx context.Context) error {
	upstreamMsgs := make(chan zmq4.Msg, 8)
	subEvents := make(chan zmq4.Msg, 8)
	errs := make(chan error, 2)

	go p.feed(ctx, p.upstream, upstreamMsgs, errs)
	go p.feed(ctx, p.downstream, subEvents, errs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case raw := <-upstreamMsgs:
			p.relay(raw)
		case sub := <-subEvents:
			if isSubscribe(sub, p.topic) {
				p.replay()
			}
		}
	}
}

func (p *Proxy) feed(ctx context.Context, sock zmq4.Socket, out chan<- zmq4.Msg, errs chan<- error) {
	for {
		msg, err := sock.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
			case errs <- err:
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case out <- msg:
		}
	}
}

// relay forwards an upstream frame downstream, dropping only exact
// MessageID duplicates; it never coalesces on content.
func (p *Proxy) relay(raw zmq4.Msg) {
	_, ctrl, err := decodeFrame(raw)
	if err != nil {
		log.Warn().Err(err).Msg("proxy received malformed control message")
		return
	}
	if p.hasCache && ctrl.MessageID == p.lastMsg.MessageID {
		return
	}

	p.lastMsg = &ctrl
	p.lastRaw = raw
	p.hasCache = true

	if err := p.downstream.Send(raw); err != nil {
		log.Error().Err(err).Msg("proxy relay send")
	}
}

// replay resends the cached message immediately after a subscribe event.
// replayWait is the latency bound spec §4.d promises callers (the replay
// must land within replay_deadline of the subscribe event), not a mandated
// delay — the send below already happens synchronously on the proxy's one
// event loop, so blocking afterward would only stall the next upstream
// frame or subscribe event for no benefit.
func (p *Proxy) replay() {
	if !p.hasCache {
		return
	}
	if err := p.downstream.Send(p.lastRaw); err != nil {
		log.Error().Err(err).Msg("proxy replay send")
	}
}

// Close releases both sockets.
func (p *Proxy) Close() error {
	err1 := p.upstream.Close()
	err2 := p.downstream.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
