package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/tufstash/cmd/tufstash/container"
	"github.com/lyzr/tufstash/cmd/tufstash/routes"
	"github.com/lyzr/tufstash/common/bootstrap"
	"github.com/lyzr/tufstash/common/config"
	"github.com/lyzr/tufstash/common/logger"
	"github.com/lyzr/tufstash/common/models"
)

const (
	commit  = "0123456789abcdef0123456789abcdef01234567"
	payload = "manifest = true\n"
)

func newStore(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/"+commit+"/manifest.toml"):
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.Write([]byte(payload))
		case strings.HasSuffix(r.URL.Path, "/"+commit+"/repo.zip"):
			w.Header().Set("Content-Type", "application/zip")
			w.Write([]byte("PK"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newAPI(t *testing.T, storeURL, downloadDir string) *echo.Echo {
	t.Helper()

	cfg := config.Default("tufstash-test")
	cfg.Store.BaseURL = storeURL
	cfg.Content.Dir = downloadDir

	components, err := bootstrap.Setup(context.Background(), "tufstash-test",
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithCustomLogger(logger.NewWithWriter(io.Discard, "debug", "json")),
		bootstrap.WithoutRedis(),
		bootstrap.WithoutTelemetry(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { components.Shutdown(context.Background()) })

	c, err := container.NewContainer(components)
	require.NoError(t, err)

	e := echo.New()
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterDownloadRoutes(e, c)
	return e
}

func do(e *echo.Echo, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSaveToDiskThenServe(t *testing.T) {
	e := newAPI(t, newStore(t).URL, t.TempDir())

	rec := do(e, http.MethodPost, "/api/save-to-disk/"+commit+"/manifest.toml")
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode(t, rec)
	assert.Equal(t, "0123456789ab", started["short_commit"])
	assert.NotEmpty(t, started["id"])

	require.Eventually(t, func() bool {
		rec := do(e, http.MethodGet, "/api/save-progress/"+commit+"/manifest.toml")
		var body map[string]interface{}
		if json.Unmarshal(rec.Body.Bytes(), &body) != nil {
			return false
		}
		return body["status"] == string(models.StatusComplete)
	}, 5*time.Second, 5*time.Millisecond)

	rec = do(e, http.MethodGet, "/api/serve/"+commit+"/manifest.toml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "manifest.toml")

	rec = do(e, http.MethodGet, "/api/saved")
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decode(t, rec)
	assert.Equal(t, true, saved["configured"])
	downloads := saved["downloads"].([]interface{})
	require.Len(t, downloads, 1)
	entry := downloads[0].(map[string]interface{})
	assert.Equal(t, "0123456789ab", entry["short_sha"])
	assert.Equal(t, false, entry["complete"], "only the manifest was saved")

	rec = do(e, http.MethodGet, "/api/transfers")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["transfers"], 1)
}

func TestSaveToDiskRejectsUnknownFile(t *testing.T) {
	e := newAPI(t, newStore(t).URL, t.TempDir())

	rec := do(e, http.MethodPost, "/api/save-to-disk/"+commit+"/passwd")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file", decode(t, rec)["error"])

	rec = do(e, http.MethodPost, "/api/save-to-disk/not-hex/repo.zip")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressAndCancelOfUnknownTransfer(t *testing.T) {
	e := newAPI(t, newStore(t).URL, t.TempDir())

	rec := do(e, http.MethodGet, "/api/save-progress/"+commit+"/repo.zip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown", decode(t, rec)["status"])

	rec = do(e, http.MethodPost, "/api/cancel-download/"+commit+"/repo.zip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["status"])
}

func TestServeMissingFile(t *testing.T) {
	e := newAPI(t, newStore(t).URL, t.TempDir())

	rec := do(e, http.MethodGet, "/api/serve/"+commit+"/repo.zip")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadsDisabledWithoutDir(t *testing.T) {
	e := newAPI(t, newStore(t).URL, "")

	rec := do(e, http.MethodPost, "/api/save-to-disk/"+commit+"/repo.zip")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DOWNLOAD_DIR not configured", decode(t, rec)["error"])

	rec = do(e, http.MethodGet, "/api/saved")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["configured"])

	rec = do(e, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Nil(t, health["downloadDir"])
	assert.Equal(t, false, health["redis"])
}

func TestProxyStreamsFromStore(t *testing.T) {
	e := newAPI(t, newStore(t).URL, "")

	rec := do(e, http.MethodGet, "/api/download/"+commit+"/manifest.toml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())
	assert.Equal(t, strconv.Itoa(len(payload)), rec.Header().Get(echo.HeaderContentLength))

	assert.Equal(t, `attachment; filename="manifest.toml"`, rec.Header().Get(echo.HeaderContentDisposition))
	// net/http sniffed the store's type; the proxy passes it through
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get(echo.HeaderContentType))

	rec = do(e, http.MethodGet, "/api/download/"+commit+"/repo.zip.sha256.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "404")
}

func TestProxyNamesArchiveByShortCommit(t *testing.T) {
	e := newAPI(t, newStore(t).URL, "")

	rec := do(e, http.MethodGet, "/api/download/"+commit+"/repo.zip")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK", rec.Body.String())
	assert.Equal(t, `attachment; filename="tuf-mupdate-`+commit[:12]+`.zip"`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))
}
