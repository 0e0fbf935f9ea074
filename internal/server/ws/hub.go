// Package ws streams execution events to websocket clients as binary
// protobuf frames (google.protobuf.Struct).
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mahrens917/common-sub001/internal/domain"
	"github.com/mahrens917/common-sub001/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// subscribeMsg is the text frame a client sends to pick event types.
//
//	{"action":"subscribe","events":["order_error"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

type frame struct {
	eventType string
	data      []byte
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool // empty means every event
}

// Hub fans execution events out to connected clients. Events arrive either
// from the Redis bus (Run subscribes when a bus is set) or directly through
// Send, which makes the hub a notify.Sender for single-instance setups.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	mode       string
	startedAt  time.Time
	logger     *slog.Logger
}

var _ notify.Sender = (*Hub)(nil)

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan frame, sendBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		mode:       mode,
		startedAt:  time.Now().UTC(),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Run is the hub loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.relayBus(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case f := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f.eventType) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					h.logger.Warn("dropping event for slow client", slog.String("event", f.eventType))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Send broadcasts ev to subscribed clients.
func (h *Hub) Send(ctx context.Context, ev notify.Event) error {
	payload, err := notify.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("ws: encode %s: %w", ev.Type, err)
	}
	return h.enqueue(ctx, ev.Type, payload)
}

// Name returns "websocket".
func (h *Hub) Name() string {
	return "websocket"
}

func (h *Hub) enqueue(ctx context.Context, eventType string, jsonPayload []byte) error {
	data, err := encodeFrame(jsonPayload)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- frame{eventType: eventType, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// relayBus forwards bus events published by any instance.
func (h *Hub) relayBus(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, notify.EventsChannel)
	if err != nil {
		h.logger.Error("subscribe to event bus failed", slog.String("error", err.Error()))
		return
	}
	for payload := range msgs {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &head); err != nil {
			h.logger.Warn("skipping malformed bus event", slog.String("error", err.Error()))
			continue
		}
		if err := h.enqueue(ctx, head.Type, payload); err != nil {
			return
		}
	}
}

// encodeFrame converts a JSON object into a serialized structpb.Struct.
func encodeFrame(jsonPayload []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonPayload, &fields); err != nil {
		return nil, fmt.Errorf("ws: decode payload: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("ws: build struct: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal struct: %w", err)
	}
	return data, nil
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	h.register <- c
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendStatus queues a hub_status frame so clients can mark the connection
// live before any order event arrives.
func (c *client) sendStatus() {
	payload, err := json.Marshal(map[string]any{
		"type":           "hub_status",
		"mode":           c.hub.mode,
		"uptime_seconds": max(0, int64(time.Since(c.hub.startedAt).Seconds())),
	})
	if err != nil {
		return
	}
	data, err := encodeFrame(payload)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[eventType]
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, e := range msg.Events {
			c.subs[e] = true
		}
	case "unsubscribe":
		for _, e := range msg.Events {
			delete(c.subs, e)
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
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
