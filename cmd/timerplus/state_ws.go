package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Timer feed over WebSocket.
//
// Every frame is a JSON text message {type, ts, data}. A new client first gets
// "state_init" with a snapshot taken by the daemon loop, then "state_changed",
// "vibrate", "press_animation" and "lifecycle" frames as the reducer emits
// them. The only inbound frame acted upon is a button event; the rest are
// dropped. A client whose queue is full is cut off instead of holding up the
// others.

// wsMessageSnapshot is the data of "state_init" and "state_changed" frames
// and of the IPC get_state reply.
type wsMessageSnapshot struct {
	DisplayValueMs     int64  `json:"display_value_ms"`
	Hours              int64  `json:"hours"`
	Minutes            int64  `json:"minutes"`
	Seconds            int64  `json:"seconds"`
	IsChrono           bool   `json:"is_chrono"`
	IsPaused           bool   `json:"is_paused"`
	IsVibrating        bool   `json:"is_vibrating"`
	BaseLengthMs       int64  `json:"base_length_ms"`
	IsRepeating        bool   `json:"is_repeating"`
	RepeatCount        uint   `json:"repeat_count"`
	Mode               string `json:"mode"`
	IsEditingExisting  bool   `json:"is_editing_existing"`
	IsReverseDirection bool   `json:"is_reverse_direction"`
	InteractionActive  bool   `json:"interaction_active"`
	Foreground         bool   `json:"foreground"`
}

func newWSMessageSnapshot(s StateSnapshot) wsMessageSnapshot {
	return wsMessageSnapshot{
		DisplayValueMs:     s.DisplayValueMs,
		Hours:              s.Hours,
		Minutes:            s.Minutes,
		Seconds:            s.Seconds,
		IsChrono:           s.IsChrono,
		IsPaused:           s.IsPaused,
		IsVibrating:        s.IsVibrating,
		BaseLengthMs:       s.BaseLengthMs,
		IsRepeating:        s.IsRepeating,
		RepeatCount:        s.RepeatCount,
		Mode:               s.Mode.String(),
		IsEditingExisting:  s.EditingExisting,
		IsReverseDirection: s.Reverse,
		InteractionActive:  s.InteractionActive,
		Foreground:         s.Foreground,
	}
}

type wsVibrateData struct {
	PatternMs []int64 `json:"pattern_ms"`
	Reason    string  `json:"reason"`
}

type wsPressData struct {
	Button string `json:"button"`
}

type wsLifecycleData struct {
	Foreground bool   `json:"foreground"`
	Reason     string `json:"reason"`
}

// wsOutboundEvent is a broadcast translated to its frame type and data.
// A zero At is stamped with the send time.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time
}

func (ev wsOutboundEvent) marshal() ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

const (
	defaultClientSendBuf = 32
	defaultHubBroadcast  = 128
	hubControlBuf        = 64

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	// Button frames are tiny.
	maxInboundMessage = 4096

	// wsStateCoalesceWindow caps how often state_changed frames go out.
	wsStateCoalesceWindow = 50 * time.Millisecond

	stateInitTimeout = time.Second
)

// Hub owns the set of connected feed clients.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	SendBuf      int // per client
	BroadcastBuf int
}

// NewHub builds a hub; nothing is delivered until Run is started.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultClientSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultHubBroadcast
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, hubControlBuf),
		unregister: make(chan *Client, hubControlBuf),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run serves registrations and frames until ctx ends, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub running")
	defer h.logger.Debug("ws hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.drop(c, "unregister")
		case msg := <-h.broadcast:
			for _, c := range h.fanout(msg) {
				h.drop(c, "slow_client")
			}
		}
	}
}

// fanout queues msg on every client and returns those whose queue was full.
func (h *Hub) fanout(msg []byte) (full []*Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			full = append(full, c)
		}
	}
	return full
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws client connected", "client_id", c.id, "remote_addr", c.remoteAddr, "clients", n)
}

func (h *Hub) drop(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.disconnect()
	h.logger.Info("ws client disconnected", "client_id", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.disconnect()
		delete(h.clients, c)
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastBytes queues an encoded frame for every client. The frame is
// dropped when the hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub queue full; frame dropped", "bytes", len(msg))
	}
}

// Client is one feed subscriber. conn may be nil in tests.
type Client struct {
	hub *Hub
	id  string

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	events chan<- Event // inbound buttons; nil disables forwarding

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, events chan<- Event, logger *slog.Logger) *Client {
	sendBuf := defaultClientSendBuf
	if hub != nil {
		sendBuf = hub.sendBuf
	}
	id := uuid.NewString()
	return &Client{
		hub:        hub,
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		events:     events,
		remoteAddr: remoteAddr,
		logger:     logger.With("client_id", id),
	}
}

// disconnect closes the socket and the send queue; the write loop then sends
// a close frame if it still can and returns.
func (c *Client) disconnect() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeOnce.Do(func() { close(c.send) })
}

func (c *Client) writeLoop(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, msg)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			c.logLoopExit("write", err)
			return
		}
	}
}

// readLoop forwards inbound button frames until the connection fails, then
// asks the hub to drop the client.
func (c *Client) readLoop(ctx context.Context) {
	extend := func() { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) }

	c.conn.SetReadLimit(maxInboundMessage)
	extend()
	c.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for ctx.Err() == nil {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logLoopExit("read", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		extend()
		c.forward(data)
	}
}

func (c *Client) logLoopExit(loop string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Debug("ws client closed", "loop", loop, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Debug("ws client loop ended", "loop", loop, "error", err)
}

func (c *Client) forward(data []byte) {
	if c.events == nil {
		return
	}
	ev, err := UnmarshalEvent(data)
	if err != nil {
		c.logger.Debug("ws frame ignored", "error", err)
		return
	}
	bev, ok := ev.(ButtonEvent)
	if !ok {
		c.logger.Debug("ws frame ignored", "event", fmt.Sprintf("%T", ev))
		return
	}
	select {
	case c.events <- bev:
	default:
		c.logger.Warn("event queue full; ws button dropped", "button", bev.Button.String())
	}
}

// Server serves the feed endpoint. Snapshots for state_init are requested
// from the daemon loop over events, never read from shared state.
type Server struct {
	logger *slog.Logger
	hub    *Hub
	events chan<- Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer wires a hub to the daemon's event channel. The caller runs
// Hub().Run and RunBroadcaster alongside the HTTP server.
func NewServer(logger *slog.Logger, events chan<- Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the feed on mux at path.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

// The listener is loopback unless configured otherwise.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.events, s.logger)
	s.hub.register <- client

	// r.Context ends with this handler; the loops live until the socket fails
	// or the hub drops the client.
	go client.writeLoop(context.Background())
	go client.readLoop(context.Background())

	if s.events != nil {
		s.sendStateInit(r.Context(), client)
	}
}

// sendStateInit asks the daemon for a snapshot and queues it as the first
// frame. A client that cannot take it is dropped.
func (s *Server) sendStateInit(ctx context.Context, client *Client) {
	ctx, cancel := context.WithTimeout(ctx, stateInitTimeout)
	defer cancel()

	reply := make(chan StateSnapshot, 1)
	select {
	case s.events <- RequestStateSnapshot{Reply: reply}:
	case <-ctx.Done():
		return
	}

	var snap StateSnapshot
	select {
	case snap = <-reply:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			s.logger.Warn("ws state_init snapshot not answered", "error", ctx.Err())
		}
		return
	}

	msg, err := wsOutboundEvent{Type: "state_init", Data: newWSMessageSnapshot(snap), At: snap.At}.marshal()
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	select {
	case client.send <- msg:
	default:
		s.hub.unregister <- client
	}
}

// snapshotCoalescer holds back state_changed frames so that a burst of
// snapshots goes out as its latest member, at most once per window.
type snapshotCoalescer struct {
	window  time.Duration
	pending *wsOutboundEvent
	timer   *time.Timer
}

// C fires when the pending snapshot is due. It is nil while nothing is held.
func (sc *snapshotCoalescer) C() <-chan time.Time {
	if sc.timer == nil {
		return nil
	}
	return sc.timer.C
}

// hold replaces the pending snapshot. The window starts with the first one.
func (sc *snapshotCoalescer) hold(ev wsOutboundEvent) {
	sc.pending = &ev
	if sc.timer == nil {
		sc.timer = time.NewTimer(sc.window)
	}
}

// take returns the pending snapshot, if any, and clears the window.
func (sc *snapshotCoalescer) take() (wsOutboundEvent, bool) {
	if sc.timer != nil {
		sc.timer.Stop()
		sc.timer = nil
	}
	if sc.pending == nil {
		return wsOutboundEvent{}, false
	}
	ev := *sc.pending
	sc.pending = nil
	return ev, true
}

// RunBroadcaster encodes reducer broadcasts and hands them to hub. It returns
// when ctx ends or src is closed, sending any held snapshot first. Run one per
// hub so frame order matches src.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	emit := func(ev wsOutboundEvent) {
		msg, err := ev.marshal()
		if err != nil {
			logger.Warn("ws broadcast marshal failed", "type", ev.Type, "error", err)
			return
		}
		hub.BroadcastBytes(msg)
	}
	sc := &snapshotCoalescer{window: wsStateCoalesceWindow}
	flush := func() {
		if ev, ok := sc.take(); ok {
			emit(ev)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-sc.C():
			flush()

		case b, ok := <-src:
			if !ok {
				flush()
				logger.Debug("ws broadcaster done; source closed")
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if ev.Type == "state_changed" {
				sc.hold(ev)
				continue
			}
			// A held snapshot predates ev.
			flush()
			emit(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastStateChanged:
		return wsOutboundEvent{Type: "state_changed", Data: newWSMessageSnapshot(ev.Snapshot), At: ev.Snapshot.At}, true

	case BroadcastVibrate:
		pattern := make([]int64, len(ev.Pattern))
		for i, d := range ev.Pattern {
			pattern[i] = d.Milliseconds()
		}
		return wsOutboundEvent{Type: "vibrate", Data: wsVibrateData{PatternMs: pattern, Reason: ev.Reason}, At: ev.At}, true

	case BroadcastPressAnimation:
		return wsOutboundEvent{Type: "press_animation", Data: wsPressData{Button: ev.Button.String()}, At: ev.At}, true

	case BroadcastLifecycle:
		return wsOutboundEvent{Type: "lifecycle", Data: wsLifecycleData{Foreground: ev.Foreground, Reason: ev.Reason}, At: ev.At}, true
	}
	return wsOutboundEvent{}, false
}

// broadcastType names a broadcast for logging.
func broadcastType(b StateBroadcast) string {
	if ev, ok := convertBroadcast(b); ok {
		return ev.Type
	}
	return "unknown"
}
