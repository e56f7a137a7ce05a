package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// State WebSocket
// ============================================================================
//
// Clients receive "state_init" (a Status) first, then one JSON frame
// {type, ts, data} per Controller broadcast. Each client has its own
// buffered queue; a client that lets it fill is dropped.
//
// ============================================================================

// wsMovementChangedData is the JSON `data` payload for "movement_changed".
type wsMovementChangedData struct {
	Movement MovementOutput `json:"movement"`
}

// wsCounterChangedData is the JSON `data` payload for "counter_changed".
type wsCounterChangedData struct {
	Counter CounterTime `json:"counter"`
}

// wsLoopStateChangedData is the JSON `data` payload for "loop_state_changed".
type wsLoopStateChangedData struct {
	Loop    string `json:"loop"`
	Running bool   `json:"running"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // optional timestamp; zero means "omit" or use now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string      `json:"type"`
	Ts   *time.Time  `json:"ts,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

const (
	defaultClientSendBuf = 32
	defaultHubQueueBuf   = 128
)

// Hub fans pre-encoded frames out to every connected state client.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

// HubConfig sizes the hub queues. Zero values select the defaults.
type HubConfig struct {
	SendBuf      int // per client
	BroadcastBuf int // hub inbound
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaultClientSendBuf
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = defaultHubQueueBuf
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run owns client membership until ctx is canceled, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("state ws hub started")
	defer h.logger.Info("state ws hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("state client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.drop(c, "disconnected")

		case frame := <-h.broadcast:
			for _, c := range h.fanOut(frame) {
				h.drop(c, "send buffer full")
			}
		}
	}
}

// fanOut queues frame on every client and returns the ones whose buffer was full.
func (h *Hub) fanOut(frame []byte) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var lagging []*Client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			lagging = append(lagging, c)
		}
	}
	return lagging
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
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
	c.shutdown()
	h.logger.Info("state client dropped", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes queues an encoded frame for all clients. A full queue drops it.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("state ws queue full, frame dropped", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

// Client is one state WebSocket connection. The hub writes to send; writePump drains it.
type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client sized by the hub's send buffer.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	n := defaultClientSendBuf
	if hub != nil && hub.sendBuf > 0 {
		n = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, n),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

// shutdown closes the connection and the send queue. Safe to call more than once.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		close(c.send)
	})
}

const (
	writeWait = 5 * time.Second

	// leash-watch answers pings; anything silent for pongWait is gone.
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsMovementCoalesceWindow bounds how often movement_changed reaches clients.
const wsMovementCoalesceWindow = 50 * time.Millisecond

// logPumpExit reports why a pump stopped. Errors caused by our own close frame are not logged.
func (c *Client) logPumpExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.logger.Info("state client closed", "pump", pump, "remote_addr", c.remoteAddr, "code", ce.Code, "reason", ce.Text)
		return
	}
	c.logger.Info("state client pump failed", "pump", pump, "remote_addr", c.remoteAddr, "error", err)
}

// writePump sends queued frames and keepalive pings until send closes or a write fails.
func (c *Client) writePump(ctx context.Context) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, []byte{})
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				c.logPumpExit("write", err)
				return
			}

		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.logPumpExit("write", err)
				return
			}
		}
	}
}

// readPump keeps the read deadline fed by pongs and discards client frames.
// The first read error unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logPumpExit("read", err)
			break
		}
	}
	if c.hub != nil {
		c.hub.unregister <- c
	}
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

// statusProvider supplies the state_init payload. Implemented by *Controller.
type statusProvider interface {
	Status() Status
}

type Server struct {
	logger *slog.Logger

	hub *Hub

	status statusProvider
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer builds the state endpoint. The caller runs Hub().Run and RunBroadcaster.
func NewServer(logger *slog.Logger, status statusProvider, cfg ServerConfig) *Server {
	hub := NewHub(logger, cfg.Hub)
	return &Server{
		logger: logger,
		hub:    hub,
		status: status,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// Clients are local tools (leash-watch, overlays); origin is not checked.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Enqueue state_init before registering so it is always the first frame.
	if s.status != nil {
		initMsg, err := marshalEnvelope("state_init", time.Now().UTC(), s.status.Status())
		if err != nil {
			s.logger.Warn("ws state_init marshal failed", "error", err)
		} else {
			client.send <- initMsg
		}
	}

	s.hub.register <- client

	// The request context ends when this handler returns; the hub owns the connection from here.
	go client.writePump(context.Background())
	go client.readPump(context.Background())
}

func marshalEnvelope(typ string, ts time.Time, data any) ([]byte, error) {
	return json.Marshal(envelope{
		Type: typ,
		Ts:   &ts,
		Data: data,
	})
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster encodes Controller broadcasts into frames for the hub.
// Movement is throttled to one frame per wsMovementCoalesceWindow, latest value wins.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pendingMove *wsOutboundEvent
	var moveTimer *time.Timer
	var moveTimerCh <-chan time.Time

	publish := func(ev wsOutboundEvent) {
		ts := ev.At
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		msg, err := marshalEnvelope(ev.Type, ts, ev.Data)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingMove := func() {
		if pendingMove == nil {
			return
		}
		publish(*pendingMove)
		pendingMove = nil
	}

	stopMoveTimer := func() {
		if moveTimer == nil {
			moveTimerCh = nil
			return
		}
		if !moveTimer.Stop() {
			select {
			case <-moveTimer.C:
			default:
			}
		}
		moveTimerCh = nil
		moveTimer = nil
	}

	startMoveTimerIfNeeded := func() {
		if moveTimer != nil {
			return
		}
		moveTimer = time.NewTimer(wsMovementCoalesceWindow)
		moveTimerCh = moveTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingMove()
			stopMoveTimer()
			return

		case <-moveTimerCh:
			// The timer fired, so its channel is drained; the next movement starts a new window.
			moveTimer = nil
			moveTimerCh = nil
			flushPendingMove()

		case b, ok := <-src:
			if !ok {
				flushPendingMove()
				stopMoveTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			// Latest-wins: replace the pending movement and make sure the window is running.
			if ev.Type == "movement_changed" {
				copyEv := ev
				pendingMove = &copyEv
				startMoveTimerIfNeeded()
				continue
			}

			// Other events keep their order relative to movement: flush first.
			flushPendingMove()
			stopMoveTimer()
			publish(ev)
		}
	}
}

func convertBroadcast(b StateBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastMovementChanged:
		return wsOutboundEvent{
			Type: "movement_changed",
			Data: wsMovementChangedData{Movement: ev.Movement},
			At:   ev.At,
		}, true

	case BroadcastCounterChanged:
		return wsOutboundEvent{
			Type: "counter_changed",
			Data: wsCounterChangedData{Counter: ev.Counter},
			At:   ev.At,
		}, true

	case BroadcastLoopStateChanged:
		return wsOutboundEvent{
			Type: "loop_state_changed",
			Data: wsLoopStateChangedData{Loop: ev.Loop, Running: ev.Running},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
