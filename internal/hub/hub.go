package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"bus-simulator/internal/fleet"
	"bus-simulator/internal/sim"
)

var ErrBroadcastFull = errors.New("broadcast channel full, frame dropped")

// Client is one websocket subscriber. Send is never closed; Done is closed
// once the hub drops the client.
type Client struct {
	ID     string
	Send   chan []byte
	routes map[string]struct{}
	mu     sync.RWMutex

	done     chan struct{}
	doneOnce sync.Once
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		routes: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Wants reports whether the client follows a route. A client without a
// route filter follows every route.
func (c *Client) Wants(routeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.routes) == 0 {
		return true
	}
	_, ok := c.routes[routeID]
	return ok
}

// SetRoutes replaces the route filter. An empty list clears it.
func (c *Client) SetRoutes(routeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes = make(map[string]struct{}, len(routeIDs))
	for _, id := range routeIDs {
		c.routes[id] = struct{}{}
	}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	last    *fleet.Frame

	register   chan *Client
	unregister chan *Client
	broadcast  chan fleet.Frame

	onCount func(int)
	done    chan struct{}
}

// NewHub creates a hub. onCount, if set, is called with the client count
// after every change.
func NewHub(onCount func(int)) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan fleet.Frame, 16),
		onCount:    onCount,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.countChanged(n)
			log.WithFields(log.Fields{"client_id": client.ID, "total": n}).Debug("client registered")

		case client := <-h.unregister:
			h.removeClient(client)

		case f := <-h.broadcast:
			h.fanout(f)
		}
	}
}

func (h *Hub) Name() string { return "websocket" }

// Publish queues a frame for fan-out without blocking the simulation loop.
func (h *Hub) Publish(_ context.Context, f fleet.Frame) error {
	select {
	case h.broadcast <- f:
		return nil
	default:
		return ErrBroadcastFull
	}
}

// Register adds a client. A client registered after Run has returned is
// stopped straight away.
func (h *Hub) Register(client *Client) {
	select {
	case <-h.done:
		client.stop()
		return
	default:
	}
	select {
	case h.register <- client:
	case <-h.done:
		client.stop()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Snapshot encodes the last frame filtered for the client, or nil before the
// first tick.
func (h *Hub) Snapshot(client *Client) []byte {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last == nil {
		return nil
	}
	data, err := json.Marshal(frameMessage(*last, client))
	if err != nil {
		return nil
	}
	return data
}

type FrameMessage struct {
	Type    string       `json:"type"`
	Payload FramePayload `json:"payload"`
}

type FramePayload struct {
	Buses      []sim.StatusSnapshot `json:"buses"`
	Stats      sim.Stats            `json:"stats"`
	ServerTime string               `json:"serverTime"`
}

func frameMessage(f fleet.Frame, client *Client) FrameMessage {
	buses := make([]sim.StatusSnapshot, 0, len(f.Statuses))
	for _, st := range f.Statuses {
		if client.Wants(st.RouteID) {
			buses = append(buses, st)
		}
	}
	return FrameMessage{
		Type: "frame",
		Payload: FramePayload{
			Buses:      buses,
			Stats:      f.Stats,
			ServerTime: f.At.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}
}

func (h *Hub) fanout(f fleet.Frame) {
	h.mu.Lock()
	h.last = &f
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		data, err := json.Marshal(frameMessage(f, client))
		if err != nil {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.WithField("client_id", client.ID).Debug("client send buffer full")
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	client.stop()
	n := len(h.clients)
	h.mu.Unlock()
	h.countChanged(n)
	log.WithFields(log.Fields{"client_id": client.ID, "total": n}).Debug("client unregistered")
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for client := range h.clients {
		client.stop()
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	h.countChanged(0)
}

func (h *Hub) countChanged(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}
