package main

import (
	"context"
	"sync"
)

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	// Map: short commit → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	// Closed when Run returns
	done chan struct{}

	log Logger
}

// Message represents a message to be broadcast
type Message struct {
	ShortCommit string
	Data        []byte
}

// NewHub creates a new Hub instance
func NewHub(log Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.log.Info("hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToCommit(message)
		}
	}
}

// Broadcast queues data for every client watching shortCommit
func (h *Hub) Broadcast(shortCommit string, data []byte) {
	select {
	case h.broadcast <- &Message{ShortCommit: shortCommit, Data: data}:
	case <-h.done:
	}
}

// Register adds client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.shortCommit] = append(h.connections[client.shortCommit], client)
	h.log.Debug("client registered",
		"short_commit", client.shortCommit,
		"total_for_commit", len(h.connections[client.shortCommit]),
	)
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.remove(client) {
		h.log.Debug("client unregistered",
			"short_commit", client.shortCommit,
			"remaining_for_commit", len(h.connections[client.shortCommit]),
		)
	}
}

// remove drops client and closes its send channel. Caller holds the lock.
// Returns false if the client was already removed.
func (h *Hub) remove(client *Client) bool {
	clients := h.connections[client.shortCommit]
	for i, c := range clients {
		if c != client {
			continue
		}

		h.connections[client.shortCommit] = append(clients[:i], clients[i+1:]...)
		close(client.send)

		// If no more clients for this commit, remove the map entry
		if len(h.connections[client.shortCommit]) == 0 {
			delete(h.connections, client.shortCommit)
		}
		return true
	}
	return false
}

// broadcastToCommit sends a message to all connections watching a short commit
func (h *Hub) broadcastToCommit(message *Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[message.ShortCommit]
	if len(clients) == 0 {
		return
	}

	// Iterate over a copy: slow clients are removed from the slice as we go
	for _, client := range append([]*Client(nil), clients...) {
		select {
		case client.send <- message.Data:
		default:
			h.log.Warn("client send buffer full, dropping connection", "short_commit", client.shortCommit)
			h.remove(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, clients := range h.connections {
		for _, client := range append([]*Client(nil), clients...) {
			h.remove(client)
		}
	}
}

// GetConnectionCount returns the total number of active connections
func (h *Hub) GetConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// GetCommitCount returns the number of short commits being watched
func (h *Hub) GetCommitCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
