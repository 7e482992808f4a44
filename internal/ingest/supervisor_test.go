package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// testNormalizer is a minimal ingest.Normalizer backed by a fixed dial URL
// (a local httptest server) instead of a real venue, so the supervisor's
// dial/read/reconnect mechanics can be exercised without the network.
type testNormalizer struct {
	url string
}

func (n *testNormalizer) Name() string { return "test" }
func (n *testNormalizer) StreamURL(_ []Subscription) string { return n.url }
func (n *testNormalizer) Normalize(raw []byte) (NormalizedEvent, error) {
	return NormalizedEvent{DataType: "tick", Symbol: string(raw)}, nil
}

// newTestServer starts a WebSocket server that writes one frame per
// connection, then closes it — simulating a venue connection that drops
// after a message so the supervisor's reconnect loop can be exercised.
func newTestServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("BTCUSDT"))
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnectReceivesNormalizedEvents(t *testing.T) {
	url := newTestServer(t)
	sup := NewSupervisor("test", &testNormalizer{url: url}, Config{
		PingInterval:              time.Hour,
		ReconnectDelay:            10 * time.Millisecond,
		MaxReconnectAttempts:      3,
		FrameTimeout:              50 * time.Millisecond,
		MaxConsecutiveFrameErrors: 5,
	})

	var mu sync.Mutex
	var received []string
	sup.AddMessageCallback(func(ev NormalizedEvent) {
		mu.Lock()
		received = append(received, ev.Symbol)
		mu.Unlock()
	})

	if err := sup.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sup.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("expected at least one normalized event")
	}
	if received[0] != "BTCUSDT" {
		t.Errorf("got %q, want BTCUSDT", received[0])
	}
}

func TestReconnectsAfterConnectionDrop(t *testing.T) {
	url := newTestServer(t)
	sup := NewSupervisor("test", &testNormalizer{url: url}, Config{
		PingInterval:              time.Hour,
		ReconnectDelay:            10 * time.Millisecond,
		MaxReconnectAttempts:      5,
		FrameTimeout:              50 * time.Millisecond,
		MaxConsecutiveFrameErrors: 5,
	})

	var count atomic.Int32
	sup.AddMessageCallback(func(ev NormalizedEvent) { count.Add(1) })

	if err := sup.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sup.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if count.Load() >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if count.Load() < 2 {
		t.Fatalf("expected at least 2 messages across a reconnect, got %d", count.Load())
	}
	if sup.Stats().ReconnectCount == 0 {
		t.Error("expected ReconnectCount > 0 after connection drops")
	}
}

func TestConnectionStateTransitions(t *testing.T) {
	url := newTestServer(t)
	sup := NewSupervisor("test", &testNormalizer{url: url}, DefaultConfig())

	if sup.ConnectionState() != StateDisconnected {
		t.Fatalf("initial state = %v, want DISCONNECTED", sup.ConnectionState())
	}
	if err := sup.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !sup.IsHealthy() {
		t.Fatal("expected supervisor to be healthy immediately after connect")
	}

	sup.Close()
	if sup.ConnectionState() != StateClosed {
		t.Fatalf("state after Close = %v, want CLOSED", sup.ConnectionState())
	}
}
