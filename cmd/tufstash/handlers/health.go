package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/tufstash/cmd/tufstash/container"
	"github.com/lyzr/tufstash/common/bootstrap"
)

// HealthHandler reports service health
type HealthHandler struct {
	components *bootstrap.Components
	container  *container.Container
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(c *container.Container) *HealthHandler {
	return &HealthHandler{
		components: c.Components,
		container:  c,
	}
}

// Health reports status, the content directory and whether events are published
// GET /api/health
func (h *HealthHandler) Health(c echo.Context) error {
	var downloadDir interface{}
	if h.container.ContentDir != nil {
		downloadDir = h.container.ContentDir.Root()
	}

	status := "ok"
	code := http.StatusOK
	if err := h.components.Health(c.Request().Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, map[string]interface{}{
		"status":      status,
		"service":     h.components.Config.Service.Name,
		"downloadDir": downloadDir,
		"redis":       h.components.Redis != nil,
	})
}
