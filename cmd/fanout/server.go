package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/tufstash/common/events"
	"github.com/lyzr/tufstash/common/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The browser UI is served from a different origin than fanout
		return true
	},
}

// SnapshotStore returns the latest stored transfer snapshots
type SnapshotStore interface {
	GetMultiple(ctx context.Context, keys []string) (map[string]string, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Server handles WebSocket connections
type Server struct {
	hub           *Hub
	snapshotStore SnapshotStore
	log           Logger
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, snapshots SnapshotStore, log Logger) *Server {
	return &Server{
		hub:           hub,
		snapshotStore: snapshots,
		log:           log,
	}
}

// HandleWebSocket handles WebSocket upgrade and registration
// URL: /ws?commit=<full or short commit>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	key, err := models.NewArtifactKey(r.URL.Query().Get("commit"), models.RoleArchive)
	if err != nil {
		http.Error(w, "commit query parameter required", http.StatusBadRequest)
		return
	}
	shortCommit := key.Short()

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", "error", err)
		return
	}

	client := NewClient(s.hub, conn, shortCommit)

	// Register before reading snapshots so no event falls between the two
	if !s.hub.Register(client) {
		conn.Close()
		return
	}
	client.replay(s.snapshots(r.Context(), shortCommit))

	s.log.Info("new websocket connection", "short_commit", shortCommit, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports connection counts
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.GetConnectionCount(),
		"commits":     s.hub.GetCommitCount(),
	})
}

// snapshots returns the stored snapshots of the commit's artifacts in role order
func (s *Server) snapshots(ctx context.Context, shortCommit string) [][]byte {
	if s.snapshotStore == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	keys := events.StateKeys(shortCommit)
	found, err := s.snapshotStore.GetMultiple(ctx, keys)
	if err != nil {
		s.log.Warn("failed to load transfer snapshots", "short_commit", shortCommit, "error", err)
		return nil
	}

	var snapshots [][]byte
	for _, key := range keys {
		if data, ok := found[key]; ok {
			snapshots = append(snapshots, []byte(data))
		}
	}
	return snapshots
}
