package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/mist-cooler/internal/model"
)

// recvWithTimeout bounds a blocking Recv so a protocol mistake in these
// tests fails fast instead of hanging the test binary.
func recvWithTimeout(t *testing.T, sock zmq4.Socket, timeout time.Duration) zmq4.Msg {
	t.Helper()
	type result struct {
		msg zmq4.Msg
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := sock.Recv()
		ch <- result{m, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting to receive a message")
		return zmq4.Msg{}
	}
}

func sendControlMessage(t *testing.T, sock zmq4.Socket, topic string, msg model.ControlMessage) {
	t.Helper()
	wire, err := encodeFrame(topic, msg)
	require.NoError(t, err)
	require.NoError(t, sock.Send(wire))
}

// TestProxy_ReplaysLastCachedMessageToLateSubscriber exercises spec §4.d's
// central guarantee: a subscriber that connects after messages have already
// been forwarded gets the last one replayed rather than having to wait for
// the next publish.
func TestProxy_ReplaysLastCachedMessageToLateSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	upstream := zmq4.NewXPub(ctx)
	require.NoError(t, upstream.Listen("tcp://127.0.0.1:28611"))
	t.Cleanup(func() { upstream.Close() })

	proxy, err := NewProxy(ctx, "tcp://127.0.0.1:28611", "tcp://127.0.0.1:28612", "cooler", 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })
	go proxy.Run(ctx)

	// Give the proxy's SUB socket time to finish dialing and subscribing
	// before publishing below; a ZMQ subscription that hasn't propagated
	// yet silently drops anything sent in the meantime.
	time.Sleep(150 * time.Millisecond)

	sendControlMessage(t, upstream, "cooler", model.ControlMessage{MessageID: 1, ModeIndex: 1})
	sendControlMessage(t, upstream, "cooler", model.ControlMessage{MessageID: 2, ModeIndex: 2})

	// No downstream subscriber exists yet, so both sends above only
	// updated the proxy's cache; nothing was actually delivered anywhere.
	time.Sleep(100 * time.Millisecond)

	down := zmq4.NewSub(ctx)
	require.NoError(t, down.SetOption(zmq4.OptionSubscribe, "cooler"))
	require.NoError(t, down.Dial("tcp://127.0.0.1:28612"))
	t.Cleanup(func() { down.Close() })

	raw := recvWithTimeout(t, down, time.Second)
	_, ctrl, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(2), ctrl.MessageID, "a newly subscribed client must receive the last forwarded message")
}

// TestProxy_DropsExactMessageIDDuplicates exercises relay's documented
// behavior: it only drops a message whose MessageID exactly matches the
// cache, never coalescing on content.
func TestProxy_DropsExactMessageIDDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	upstream := zmq4.NewXPub(ctx)
	require.NoError(t, upstream.Listen("tcp://127.0.0.1:28621"))
	t.Cleanup(func() { upstream.Close() })

	proxy, err := NewProxy(ctx, "tcp://127.0.0.1:28621", "tcp://127.0.0.1:28622", "cooler", 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { proxy.Close() })
	go proxy.Run(ctx)

	down := zmq4.NewSub(ctx)
	require.NoError(t, down.SetOption(zmq4.OptionSubscribe, "cooler"))
	require.NoError(t, down.Dial("tcp://127.0.0.1:28622"))
	t.Cleanup(func() { down.Close() })

	// Wait for both legs of the proxy (its upstream SUB and its downstream
	// XPUB's knowledge of "down") to finish subscribing before publishing.
	time.Sleep(200 * time.Millisecond)

	sendControlMessage(t, upstream, "cooler", model.ControlMessage{MessageID: 5, ModeIndex: 1})
	sendControlMessage(t, upstream, "cooler", model.ControlMessage{MessageID: 5, ModeIndex: 1})
	sendControlMessage(t, upstream, "cooler", model.ControlMessage{MessageID: 6, ModeIndex: 1})

	first := recvWithTimeout(t, down, time.Second)
	_, ctrl1, err := decodeFrame(first)
	require.NoError(t, err)
	require.Equal(t, uint64(5), ctrl1.MessageID)

	second := recvWithTimeout(t, down, time.Second)
	_, ctrl2, err := decodeFrame(second)
	require.NoError(t, err)
	require.Equal(t, uint64(6), ctrl2.MessageID, "the repeated message_id=5 frame must never be forwarded a second time")
}
