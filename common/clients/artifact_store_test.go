package clients

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tufstash/common/models"
)

type testLogger struct {
	t *testing.T
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

const fullCommit = "abcdef1234567890abcdef1234567890abcdef12"

func TestFetchStreamsBodyWithDeclaredLength(t *testing.T) {
	data := []byte("manifest contents")
	var gotPath, gotAgent, gotRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Type", "application/toml")
		w.Write(data)
	}))
	defer server.Close()

	store := NewHTTPArtifactStore(ArtifactStoreOptions{
		BaseURL:   server.URL + "/rot-all/",
		UserAgent: "tufstash-test",
	}, &testLogger{t: t})

	ctx := WithRequestID(context.Background(), "req-1")
	dl, err := store.Fetch(ctx, fullCommit, models.RoleManifest)
	require.NoError(t, err)
	defer dl.Body.Close()

	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)

	assert.Equal(t, data, body)
	assert.Equal(t, int64(len(data)), dl.Size)
	assert.Equal(t, "application/toml", dl.ContentType)
	assert.Equal(t, "/rot-all/"+fullCommit+"/manifest.toml", gotPath, "full commit must be used in the URL")
	assert.Equal(t, "tufstash-test", gotAgent)
	assert.Equal(t, "req-1", gotRequestID)
}

func TestFetchUnknownLengthReportsZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // forces chunked encoding, no Content-Length
		w.Write([]byte("chunked"))
	}))
	defer server.Close()

	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: server.URL}, &testLogger{t: t})
	dl, err := store.Fetch(context.Background(), fullCommit, models.RoleChecksum)
	require.NoError(t, err)
	defer dl.Body.Close()

	assert.Equal(t, int64(0), dl.Size)
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: server.URL}, &testLogger{t: t})
	_, err := store.Fetch(context.Background(), fullCommit, models.RoleArchive)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Contains(t, err.Error(), "404")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFetchDoesNotRetryServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: server.URL}, &testLogger{t: t})
	_, err := store.Fetch(context.Background(), fullCommit, models.RoleArchive)
	require.Error(t, err)

	assert.Equal(t, 1, attempts)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "503")
}

func TestFetchConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: baseURL}, &testLogger{t: t})
	_, err := store.Fetch(context.Background(), fullCommit, models.RoleArchive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestFetchRejectsInvalidRole(t *testing.T) {
	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: "http://127.0.0.1:1"}, &testLogger{t: t})
	_, err := store.Fetch(context.Background(), fullCommit, models.Role("BOGUS"))
	assert.True(t, errors.Is(err, models.ErrInvalidRole))
}

func TestFetchCancelledBodyRead(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	store := NewHTTPArtifactStore(ArtifactStoreOptions{BaseURL: server.URL}, &testLogger{t: t})
	ctx, cancel := context.WithCancel(context.Background())
	dl, err := store.Fetch(ctx, fullCommit, models.RoleArchive)
	require.NoError(t, err)
	defer dl.Body.Close()

	buf := make([]byte, 10)
	_, err = io.ReadFull(dl.Body, buf)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := dl.Body.Read(buf)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read was not released by context cancellation")
	}
}
