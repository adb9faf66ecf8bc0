package api

import (
	"testing"

	"github.com/nexauth/nexauth-core/internal/infrastructure/config"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
)

func newTestHub() *Hub {
	return NewHub(config.WebSocketConfig{
		MaxMessageSize: 4096,
		PingInterval:   30,
		PongTimeout:    10,
	}, logging.Default())
}

func newHubClient(h *Hub, buffer int) *WSClient {
	return &WSClient{hub: h, send: make(chan []byte, buffer)}
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	hub := newTestHub()

	a := newHubClient(hub, 4)
	b := newHubClient(hub, 4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast([]byte(`{"type":"system_status"}`))

	for name, client := range map[string]*WSClient{"a": a, "b": b} {
		select {
		case msg := <-client.send:
			if string(msg) != `{"type":"system_status"}` {
				t.Errorf("client %s received %q", name, msg)
			}
		default:
			t.Errorf("client %s received nothing", name)
		}
	}
}

func TestHubBroadcastSkipsFullBuffers(t *testing.T) {
	hub := newTestHub()

	slow := newHubClient(hub, 1)
	fast := newHubClient(hub, 4)
	hub.Register(slow)
	hub.Register(fast)

	// Fill the slow client's buffer; further broadcasts must not block.
	hub.Broadcast([]byte("one"))
	hub.Broadcast([]byte("two"))

	if got := len(slow.send); got != 1 {
		t.Errorf("slow client queued = %d, want 1", got)
	}
	if got := len(fast.send); got != 2 {
		t.Errorf("fast client queued = %d, want 2", got)
	}
}

func TestHubUnregisterClosesOnce(t *testing.T) {
	hub := newTestHub()

	client := newHubClient(hub, 4)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("client count after unregister = %d, want 0", hub.ClientCount())
	}

	// A second unregister of the same client must not panic on a
	// double channel close.
	hub.Unregister(client)

	// Broadcast to a closed channel is absorbed by trySend.
	hub.Register(newHubClient(hub, 4))
	client.trySend([]byte("late"))
}

func TestHubBroadcastAfterDisconnectDuringIteration(t *testing.T) {
	hub := newTestHub()

	client := newHubClient(hub, 4)
	hub.Register(client)

	// Simulate the race where a client disconnects between the snapshot
	// and the send: the channel is closed but the broadcast still holds
	// a reference.
	hub.Unregister(client)
	client.trySend([]byte("after close"))
}
