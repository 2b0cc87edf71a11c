package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// SafeTrigger is called when the subscriber's liveness watchdog expires.
// The duty scheduler subscribes to this hook to demote into SAFE mode.
type SafeTrigger func(reason string)

// Subscriber maintains a SUB socket to the cache-proxy, exposing a
// single-slot latest-wins mailbox and a liveness watchdog (spec §4.e).
type Subscriber struct {
	sock  zmq4.Socket
	topic string

	mu      sync.Mutex
	pending *model.ControlMessage
	notify  chan struct{}

	livenessTimeout time.Duration
	onSafe          SafeTrigger
}

// NewSubscriber dials sock to proxyAddr and subscribes to topic.
func NewSubscriber(ctx context.Context, proxyAddr, topic string, livenessTimeout time.Duration, onSafe SafeTrigger) (*Subscriber, error) {
	sock := zmq4.NewSub(ctx)
	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return nil, err
	}
	if err := sock.Dial(proxyAddr); err != nil {
		return nil, err
	}
	return &Subscriber{
		sock:            sock,
		topic:           topic,
		notify:          make(chan struct{}, 1),
		livenessTimeout: livenessTimeout,
		onSafe:          onSafe,
	}, nil
}

// Messages returns a channel of accepted ControlMessages backed by a
// single-slot mailbox: a message that arrives before the previous one is
// read overwrites it (latest-wins), never blocks the receive loop.
func (s *Subscriber) Messages() <-chan model.ControlMessage {
	out := make(chan model.ControlMessage)
	go func() {
		for range s.notify {
			s.mu.Lock()
			msg := s.pending
			s.pending = nil
			s.mu.Unlock()
			if msg != nil {
				out <- *msg
			}
		}
		close(out)
	}()
	return out
}

// Run drives the receive loop and liveness watchdog until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	timer := time.NewTimer(s.livenessTimeout)
	defer timer.Stop()

	msgs := make(chan zmq4.Msg, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			m, err := s.sock.Recv()
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
			case msgs <- m:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(s.notify)
			return ctx.Err()
		case err := <-errs:
			close(s.notify)
			return err
		case raw := <-msgs:
			timer.Reset(s.livenessTimeout)
			_, ctrl, err := decodeFrame(raw)
			if err != nil {
				log.Warn().Err(err).Msg("subscriber received malformed control message")
				continue
			}
			s.accept(ctrl)
		case <-timer.C:
			log.Warn().Dur("timeout", s.livenessTimeout).Msg("subscriber liveness watchdog expired")
			if s.onSafe != nil {
				s.onSafe("liveness timeout")
			}
			timer.Reset(s.livenessTimeout)
		}
	}
}

func (s *Subscriber) accept(ctrl model.ControlMessage) {
	s.mu.Lock()
	s.pending = &ctrl
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Close releases the underlying socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
