package main

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/tufstash/common/events"
	"github.com/lyzr/tufstash/common/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum message size allowed from peer (clients only send pongs, not data)
	maxMessageSize = 512

	// Progress events arrive in bursts while a transfer runs
	sendBuffer = 256
)

// Client represents a WebSocket connection watching one short commit
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	shortCommit string
	send        chan []byte

	// backlog is written before anything from send. replayed holds the
	// time of each backlog snapshot per role; live events not newer are
	// skipped.
	backlog  [][]byte
	replayed map[models.Role]time.Time
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, shortCommit string) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		shortCommit: shortCommit,
		send:        make(chan []byte, sendBuffer),
	}
}

// replay queues the latest snapshots. It must be called before the pumps start.
func (c *Client) replay(snapshots [][]byte) {
	for _, data := range snapshots {
		evt, err := events.Decode(data)
		if err != nil {
			c.hub.log.Warn("skipping undecodable snapshot", "short_commit", c.shortCommit, "error", err)
			continue
		}
		if c.replayed == nil {
			c.replayed = make(map[models.Role]time.Time)
		}
		c.replayed[evt.Transfer.Role] = evt.At
		c.backlog = append(c.backlog, data)
	}
}

// stale reports whether a live message predates the replayed snapshot of its artifact
func (c *Client) stale(message []byte) bool {
	if len(c.replayed) == 0 {
		return false
	}

	evt, err := events.Decode(message)
	if err != nil {
		return false
	}
	at, ok := c.replayed[evt.Transfer.Role]
	if !ok {
		return false
	}
	if !evt.At.After(at) {
		return true
	}
	delete(c.replayed, evt.Transfer.Role)
	return false
}

// readPump pumps messages from the WebSocket connection to the hub
// We don't expect messages from clients (server-push only), but we need this
// to handle ping/pong and detect disconnects
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket error", "short_commit", c.shortCommit, "error", err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for _, message := range c.backlog {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.backlog = nil

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if c.stale(message) {
				continue
			}

			// One event per frame so the browser can parse each JSON object on its own
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
