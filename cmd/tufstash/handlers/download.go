package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/tufstash/cmd/tufstash/container"
	"github.com/lyzr/tufstash/cmd/tufstash/service"
	"github.com/lyzr/tufstash/common/bootstrap"
	"github.com/lyzr/tufstash/common/clients"
	"github.com/lyzr/tufstash/common/contentdir"
	"github.com/lyzr/tufstash/common/models"
)

// DownloadHandler handles saving artifacts to the content directory
type DownloadHandler struct {
	components *bootstrap.Components
	store      clients.ArtifactStore
	dir        *contentdir.Dir
	downloads  *service.DownloadManager
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(c *container.Container) *DownloadHandler {
	return &DownloadHandler{
		components: c.Components,
		store:      c.Store,
		dir:        c.ContentDir,
		downloads:  c.Downloads,
	}
}

// SaveToDisk starts (or joins) a transfer of an artifact into the content directory
// POST /api/save-to-disk/:commit/:file
func (h *DownloadHandler) SaveToDisk(c echo.Context) error {
	if h.downloads == nil {
		return errorJSON(c, http.StatusBadRequest, "DOWNLOAD_DIR not configured")
	}

	role, err := models.ParseRole(c.Param("file"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid file")
	}

	state, err := h.downloads.Start(c.Request().Context(), c.Param("commit"), role)
	if err != nil {
		return h.transferError(c, err)
	}

	return c.JSON(http.StatusOK, state)
}

// CancelDownload cancels an in-flight transfer
// POST /api/cancel-download/:commit/:file
func (h *DownloadHandler) CancelDownload(c echo.Context) error {
	if h.downloads == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": service.CancelResultNotFound,
		})
	}

	role, err := models.ParseRole(c.Param("file"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid file")
	}

	result, err := h.downloads.Cancel(c.Request().Context(), c.Param("commit"), role)
	if err != nil {
		return h.transferError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": result,
	})
}

// SaveProgress reports the state of an artifact's transfer
// GET /api/save-progress/:commit/:file
func (h *DownloadHandler) SaveProgress(c echo.Context) error {
	role, err := models.ParseRole(c.Param("file"))
	if err != nil || h.downloads == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": models.StatusUnknown,
		})
	}

	state, err := h.downloads.Query(c.Param("commit"), role)
	if err != nil {
		return h.transferError(c, err)
	}

	return c.JSON(http.StatusOK, state)
}

// ListTransfers lists every tracked transfer
// GET /api/transfers
func (h *DownloadHandler) ListTransfers(c echo.Context) error {
	transfers := []models.TransferState{}
	if h.downloads != nil {
		transfers = h.downloads.Active()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"transfers": transfers,
	})
}

// ListSaved lists the short commits persisted in the content directory
// GET /api/saved
func (h *DownloadHandler) ListSaved(c echo.Context) error {
	if h.downloads == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"configured": false,
			"downloads":  []models.PersistedEntry{},
		})
	}

	entries, err := h.downloads.ListPersisted()
	if err != nil {
		h.components.Logger.WithContext(c.Request().Context()).Error("failed to list saved artifacts", "error", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"configured":  true,
		"downloadDir": h.dir.Root(),
		"downloads":   entries,
	})
}

// Serve streams a persisted artifact
// GET /api/serve/:commit/:file
func (h *DownloadHandler) Serve(c echo.Context) error {
	if h.dir == nil {
		return errorJSON(c, http.StatusBadRequest, "DOWNLOAD_DIR not configured")
	}

	key, err := parseKey(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid file")
	}

	path := h.dir.PathFor(key.Short(), key.Role)
	if !h.dir.Exists(path) {
		return errorJSON(c, http.StatusNotFound, "File not on disk")
	}

	return c.Attachment(path, key.Role.LocalName())
}

// Proxy streams an artifact straight from the artifact store without persisting it
// GET /api/download/:commit/:file
func (h *DownloadHandler) Proxy(c echo.Context) error {
	key, err := parseKey(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid file")
	}

	ctx := c.Request().Context()
	dl, err := h.store.Fetch(ctx, key.Commit, key.Role)
	if err != nil {
		var statusErr *clients.StatusError
		if errors.As(err, &statusErr) {
			return errorJSON(c, statusErr.Code, err.Error())
		}
		h.components.Logger.WithContext(ctx).WithArtifact(key).Warn("artifact proxy failed", "error", err)
		return errorJSON(c, http.StatusBadGateway, err.Error())
	}
	defer dl.Body.Close()

	contentType := dl.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition, `attachment; filename="`+proxyFileName(key)+`"`)
	header.Set(echo.HeaderContentType, contentType)
	if dl.Size > 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	}
	c.Response().WriteHeader(http.StatusOK)

	if _, err := io.Copy(c.Response(), dl.Body); err != nil {
		// Headers are gone; the client sees a truncated body
		h.components.Logger.WithContext(ctx).WithArtifact(key).Debug("artifact proxy aborted", "error", err)
	}
	return nil
}

// proxyFileName names a proxied download. Archives carry the short commit
// so downloads of different commits do not overwrite each other.
func proxyFileName(key models.ArtifactKey) string {
	if key.Role == models.RoleArchive {
		return "tuf-mupdate-" + key.Short() + ".zip"
	}
	return key.Role.RemoteName()
}

func (h *DownloadHandler) transferError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrInvalidRole), errors.Is(err, models.ErrInvalidCommit):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrClosed):
		return errorJSON(c, http.StatusServiceUnavailable, err.Error())
	default:
		h.components.Logger.WithContext(c.Request().Context()).Error("transfer request failed", "error", err)
		return errorJSON(c, http.StatusInternalServerError, err.Error())
	}
}

func parseKey(c echo.Context) (models.ArtifactKey, error) {
	role, err := models.ParseRole(c.Param("file"))
	if err != nil {
		return models.ArtifactKey{}, err
	}
	return models.NewArtifactKey(c.Param("commit"), role)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]interface{}{
		"error": msg,
	})
}
