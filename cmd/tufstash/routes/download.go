package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/tufstash/cmd/tufstash/container"
	"github.com/lyzr/tufstash/cmd/tufstash/handlers"
)

// RegisterDownloadRoutes registers all artifact transfer routes
func RegisterDownloadRoutes(e *echo.Echo, c *container.Container) {
	// Create handler using services from container
	h := handlers.NewDownloadHandler(c)

	api := e.Group("/api")
	{
		api.POST("/save-to-disk/:commit/:file", h.SaveToDisk)        // POST /api/save-to-disk/<sha>/repo.zip
		api.POST("/cancel-download/:commit/:file", h.CancelDownload) // POST /api/cancel-download/<sha>/repo.zip
		api.GET("/save-progress/:commit/:file", h.SaveProgress)      // GET /api/save-progress/<sha>/repo.zip
		api.GET("/transfers", h.ListTransfers)                       // GET /api/transfers
		api.GET("/saved", h.ListSaved)                               // GET /api/saved
		api.GET("/serve/:commit/:file", h.Serve)                     // GET /api/serve/<sha>/manifest.toml
		api.GET("/download/:commit/:file", h.Proxy)                  // GET /api/download/<sha>/repo.zip
	}
}

// RegisterHealthRoutes registers the health check endpoint
func RegisterHealthRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewHealthHandler(c)

	e.GET("/api/health", h.Health)
}
