package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pliu/huddle/internal/fanout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Hub is the room table of the sockets this process holds. It applies fanout
// envelopes to them and lets the presence manager join and leave rooms.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	log         *slog.Logger
	connections metric.Int64UpDownCounter
	dropped     metric.Int64Counter
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter("github.com/pliu/huddle/internal/ws")
	connections, _ := meter.Int64UpDownCounter("ws_connections",
		metric.WithDescription("Open websocket connections"))
	dropped, _ := meter.Int64Counter("ws_dropped_total",
		metric.WithDescription("Clients closed because their send buffer was full"))
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		log:         logger.With("component", "hub"),
		connections: connections,
		dropped:     dropped,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.connections.Add(context.Background(), 1)
}

// Unregister drops the client from every room it is in. It is safe to call
// more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	for room := range c.rooms {
		h.removeLocked(room, c)
	}
	h.mu.Unlock()
	h.connections.Add(context.Background(), -1)
}

func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.addLocked(room, c)
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[connID]; ok {
		h.removeLocked(room, c)
	}
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// RoomsOf lists the rooms a connection is in.
func (h *Hub) RoomsOf(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

func (h *Hub) Apply(env fanout.Envelope) {
	switch env.Op {
	case fanout.OpEmit:
		h.emit(env)
	case fanout.OpJoin:
		h.mu.Lock()
		for _, c := range h.rooms[env.Room] {
			h.addLocked(env.Target, c)
		}
		h.mu.Unlock()
	case fanout.OpLeave:
		h.mu.Lock()
		for _, c := range h.rooms[env.Room] {
			h.removeLocked(env.Target, c)
		}
		h.mu.Unlock()
	case fanout.OpEvict:
		h.mu.Lock()
		for _, c := range h.rooms[env.Room] {
			delete(c.rooms, env.Room)
		}
		delete(h.rooms, env.Room)
		h.mu.Unlock()
	case fanout.OpDisconnect:
		for _, c := range h.members(env.Room, "") {
			c.Close()
		}
	default:
		h.log.Warn("unknown envelope op", "op", env.Op, "room", env.Room)
	}
}

func (h *Hub) emit(env fanout.Envelope) {
	frame, err := encodeFrame(env.Event, "", env.Payload)
	if err != nil {
		h.log.Error("encode frame", "event", env.Event, "error", err)
		return
	}
	for _, c := range h.members(env.Room, env.Except) {
		if !c.deliver(frame) {
			h.dropped.Add(context.Background(), 1)
			h.log.Warn("send buffer full, closing client", "conn", c.ID, "user", c.UserID)
			c.Close()
		}
	}
}

func (h *Hub) members(room, except string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) addLocked(room string, c *Client) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*Client)
	}
	h.rooms[room][c.ID] = c
	c.rooms[room] = true
}

func (h *Hub) removeLocked(room string, c *Client) {
	delete(c.rooms, room)
	if m := h.rooms[room]; m != nil {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, room)
		}
	}
}
