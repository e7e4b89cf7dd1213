package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tufstash/common/events"
	"github.com/lyzr/tufstash/common/models"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

type snapshotMap struct {
	values map[string]string
	err    error
}

func (s snapshotMap) GetMultiple(_ context.Context, keys []string) (map[string]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	found := make(map[string]string)
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			found[k] = v
		}
	}
	return found, nil
}

func dial(t *testing.T, srv *httptest.Server, commit string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?commit=" + commit
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestServer(t *testing.T, snapshots SnapshotStore) (*httptest.Server, *Hub) {
	t.Helper()

	hub := startHub(t)
	s := NewServer(hub, snapshots, nopLogger{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HandleHealth)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestServer_RejectsInvalidCommit(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, commit := range []string{"", "not-hex", "../etc"} {
		resp, err := http.Get(srv.URL + "/ws?commit=" + commit)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "commit %q", commit)
	}
}

func encodeEvent(t *testing.T, typ events.Type, role models.Role, at time.Time) []byte {
	t.Helper()

	data, err := events.Encode(events.Event{
		Type:     typ,
		Transfer: models.TransferState{ShortCommit: testCommit[:12], Role: role},
		At:       at,
	})
	require.NoError(t, err)
	return data
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	evt, err := events.Decode(msg)
	require.NoError(t, err)
	return evt
}

func TestServer_ReplaysSnapshotsThenStreams(t *testing.T) {
	short := testCommit[:12]
	t0 := time.Now().UTC()
	snapshots := snapshotMap{values: map[string]string{
		events.StateKey(short, models.RoleArchive): string(encodeEvent(t, events.TypeProgress, models.RoleArchive, t0)),
	}}

	srv, hub := newTestServer(t, snapshots)
	conn := dial(t, srv, testCommit)

	assert.Equal(t, events.TypeProgress, readEvent(t, conn).Type)

	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	// An event older than the replayed snapshot is not sent after it
	hub.Broadcast(short, encodeEvent(t, events.TypeStarted, models.RoleArchive, t0.Add(-time.Second)))
	hub.Broadcast(short, encodeEvent(t, events.TypeCompleted, models.RoleArchive, t0.Add(time.Second)))

	assert.Equal(t, events.TypeCompleted, readEvent(t, conn).Type)
}

// publishingStore simulates an event published while the snapshots are read
type publishingStore struct {
	hub      *Hub
	snapshot []byte
	live     []byte
}

func (s *publishingStore) GetMultiple(_ context.Context, keys []string) (map[string]string, error) {
	s.hub.Broadcast(testCommit[:12], s.live)
	return map[string]string{keys[0]: string(s.snapshot)}, nil
}

func TestServer_EventDuringReplayIsDelivered(t *testing.T) {
	t0 := time.Now().UTC()
	hub := startHub(t)
	store := &publishingStore{
		hub:      hub,
		snapshot: encodeEvent(t, events.TypeProgress, models.Roles()[0], t0),
		live:     encodeEvent(t, events.TypeCompleted, models.Roles()[0], t0.Add(time.Second)),
	}

	s := NewServer(hub, store, nopLogger{})
	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?commit=" + testCommit
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	assert.Equal(t, events.TypeProgress, readEvent(t, conn).Type)
	assert.Equal(t, events.TypeCompleted, readEvent(t, conn).Type)
}

func TestClient_StaleSkipsOnlyOlderEventsOfReplayedArtifacts(t *testing.T) {
	t0 := time.Now().UTC()
	client := newTestClient(NewHub(nopLogger{}), testCommit[:12], 1)
	client.replay([][]byte{encodeEvent(t, events.TypeProgress, models.RoleArchive, t0), []byte("not json")})

	require.Len(t, client.backlog, 1)
	assert.True(t, client.stale(encodeEvent(t, events.TypeProgress, models.RoleArchive, t0)))
	assert.True(t, client.stale(encodeEvent(t, events.TypeStarted, models.RoleArchive, t0.Add(-time.Second))))
	assert.False(t, client.stale(encodeEvent(t, events.TypeStarted, models.RoleManifest, t0.Add(-time.Second))))
	assert.False(t, client.stale(encodeEvent(t, events.TypeCompleted, models.RoleArchive, t0.Add(time.Second))))

	// Once a newer event passed, the artifact is no longer filtered
	assert.False(t, client.stale(encodeEvent(t, events.TypeProgress, models.RoleArchive, t0)))
}

func TestServer_SnapshotFailureStillConnects(t *testing.T) {
	srv, hub := newTestServer(t, snapshotMap{err: errors.New("redis down")})
	dial(t, srv, testCommit)

	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestServer_HealthReportsCounts(t *testing.T) {
	srv, hub := newTestServer(t, nil)
	dial(t, srv, testCommit)
	require.Eventually(t, func() bool { return hub.GetConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["connections"])
	assert.EqualValues(t, 1, body["commits"])
}
