package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hub tests construct Clients with a nil websocket.Conn; the hub guards
// against nil when closing slow clients.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		id:         name,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func runHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
	return cancel
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	runHub(t, hub)

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)
	assert.Equal(t, 2, hub.ClientCount())

	msg := []byte(`{"type":"state_changed","data":{"display_value_ms":60000}}`)

	// BroadcastBytes is non-blocking and may drop; push directly.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			assert.Equal(t, string(msg), string(got), c.remoteAddr)
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	runHub(t, hub)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"vibrate","data":{"pattern_ms":[100],"reason":"repeat"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		assert.Equal(t, string(msg), string(got))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestConvertBroadcast(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)

	ev, ok := convertBroadcast(BroadcastVibrate{
		Pattern: []time.Duration{150 * time.Millisecond, 200 * time.Millisecond},
		Reason:  "alarm",
		At:      at,
	})
	require.True(t, ok)
	assert.Equal(t, "vibrate", ev.Type)
	assert.Equal(t, wsVibrateData{PatternMs: []int64{150, 200}, Reason: "alarm"}, ev.Data)
	assert.Equal(t, at, ev.At)

	ev, ok = convertBroadcast(BroadcastPressAnimation{Button: ButtonSelect, At: at})
	require.True(t, ok)
	assert.Equal(t, "press_animation", ev.Type)
	assert.Equal(t, wsPressData{Button: "select"}, ev.Data)

	ev, ok = convertBroadcast(BroadcastStateChanged{Snapshot: StateSnapshot{
		At:             at,
		DisplayValueMs: 61_000,
		Minutes:        1,
		Seconds:        1,
		Mode:           ModeEditSec,
	}})
	require.True(t, ok)
	assert.Equal(t, "state_changed", ev.Type)
	snap, ok := ev.Data.(wsMessageSnapshot)
	require.True(t, ok)
	assert.Equal(t, "edit_sec", snap.Mode)
	assert.Equal(t, int64(61_000), snap.DisplayValueMs)

	assert.Equal(t, "lifecycle", broadcastType(BroadcastLifecycle{Foreground: true}))
}

func TestRunBroadcaster_CoalescesSnapshots(t *testing.T) {
	hub := newTestHub(t, 8, 8)
	src := make(chan StateBroadcast, 8)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, src, logger)
	}()

	src <- BroadcastStateChanged{Snapshot: StateSnapshot{DisplayValueMs: 1000}}
	src <- BroadcastStateChanged{Snapshot: StateSnapshot{DisplayValueMs: 2000}}
	src <- BroadcastLifecycle{Foreground: false, Reason: "quit_timer"}
	close(src)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}

	var types []string
	var lastValue int64
	for len(hub.broadcast) > 0 {
		var env struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(<-hub.broadcast, &env))
		types = append(types, env.Type)
		if env.Type == "state_changed" {
			var snap wsMessageSnapshot
			require.NoError(t, json.Unmarshal(env.Data, &snap))
			lastValue = snap.DisplayValueMs
		}
	}
	assert.Equal(t, []string{"state_changed", "lifecycle"}, types)
	assert.Equal(t, int64(2000), lastValue)
}

func TestSnapshotCoalescer_LatestWins(t *testing.T) {
	sc := &snapshotCoalescer{window: 10 * time.Millisecond}
	assert.Nil(t, sc.C())
	_, ok := sc.take()
	assert.False(t, ok)

	sc.hold(wsOutboundEvent{Type: "state_changed", Data: 1})
	sc.hold(wsOutboundEvent{Type: "state_changed", Data: 2})
	require.NotNil(t, sc.C())

	select {
	case <-sc.C():
	case <-time.After(time.Second):
		t.Fatal("coalescing window never elapsed")
	}
	ev, ok := sc.take()
	require.True(t, ok)
	assert.Equal(t, 2, ev.Data)
	assert.Nil(t, sc.C())
}

func TestServer_StateInitAndButtonForwarding(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := make(chan Event, 4)

	srv := NewServer(logger, events, ServerConfig{Hub: HubConfig{SendBuf: 8, BroadcastBuf: 8}})
	runHub(t, srv.Hub())

	mux := http.NewServeMux()
	srv.Register(mux, defaultWSPath)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	// Stand in for the daemon: answer the snapshot request.
	go func() {
		ev := <-events
		req, ok := ev.(RequestStateSnapshot)
		if !ok {
			return
		}
		req.Reply <- StateSnapshot{At: time.Now(), DisplayValueMs: 90_000, Minutes: 1, Seconds: 30, Mode: ModeCounting}
	}()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + defaultWSPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var init struct {
		Type string            `json:"type"`
		Data wsMessageSnapshot `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, "state_init", init.Type)
	assert.Equal(t, "counting", init.Data.Mode)
	assert.Equal(t, int64(90_000), init.Data.DisplayValueMs)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"button","data":{"button":"up","press":"short"}}`)))

	select {
	case ev := <-events:
		assert.Equal(t, ButtonEvent{Button: ButtonUp, Press: PressShort}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("button event was not forwarded")
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
