// Package realtime pushes analysis and registry events to WebSocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/walletrisk/internal/metrics"
	"github.com/mbd888/walletrisk/internal/risk"
)

// EventType names a feed event.
type EventType string

const (
	EventAnalysisCompleted  EventType = "analysis_completed"
	EventSanctionsRefreshed EventType = "sanctions_refreshed"
)

// Event is one feed message. Address and Band are set on analysis events so
// that subscriptions can filter without decoding Data.
type Event struct {
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Address   risk.Address `json:"address,omitempty"`
	Band      risk.Band    `json:"band,omitempty"`
	Data      any          `json:"data"`
}

// Subscription is sent by a client to narrow its feed. The zero value
// receives nothing; new clients start with AllEvents.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	Addresses  []string    `json:"addresses"`
	MinBand    risk.Band   `json:"minBand"`
}

const (
	// MaxClients caps concurrent connections.
	MaxClients = 1000

	sendBuffer   = 64
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Hub fans events out to connected clients.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	done       chan struct{}
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a hub. Browser connections are accepted from the listed
// origins; an empty list or "*" accepts any origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		if origin == "http://"+r.Host || origin == "https://"+r.Host {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// Run dispatches events until ctx ends, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			metrics.ActiveWebSocketClients.Set(float64(n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))

		case ev := <-h.broadcast:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) dispatch(ev *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("dropping unencodable event", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !matches(c.subscription(), ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			close(c.send)
			delete(h.clients, c)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
}

// matches applies a subscription to an event.
func matches(sub Subscription, ev *Event) bool {
	if sub.AllEvents {
		return true
	}
	if !slices.Contains(sub.EventTypes, ev.Type) {
		return false
	}
	if ev.Type != EventAnalysisCompleted {
		return true
	}
	if len(sub.Addresses) > 0 && !slices.ContainsFunc(sub.Addresses, func(a string) bool {
		return risk.NormalizeAddress(a) == ev.Address
	}) {
		return false
	}
	return ev.Band.Severity() >= sub.MinBand.Severity()
}

// Broadcast queues ev for delivery. It never blocks; a full queue drops ev.
func (h *Hub) Broadcast(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// PublishAnalysis announces a completed analysis.
func (h *Hub) PublishAnalysis(addr risk.Address, overall risk.Band, report any) {
	h.Broadcast(&Event{Type: EventAnalysisCompleted, Address: addr, Band: overall, Data: report})
}

// PublishSanctionsRefresh announces a registry refresh.
func (h *Hub) PublishSanctionsRefresh(summary any) {
	h.Broadcast(&Event{Type: EventSanctionsRefreshed, Data: summary})
}

// Stats reports connection and event counters.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return map[string]any{
		"connectedClients": n,
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches a client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer), sub: Subscription{AllEvents: true}}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump applies subscription updates until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
