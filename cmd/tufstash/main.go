package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/tufstash/cmd/tufstash/container"
	tufmiddleware "github.com/lyzr/tufstash/cmd/tufstash/middleware"
	"github.com/lyzr/tufstash/cmd/tufstash/routes"
	"github.com/lyzr/tufstash/common/bootstrap"
	"github.com/lyzr/tufstash/common/server"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, redis, telemetry)
	components, err := bootstrap.Setup(ctx, "tufstash")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap tufstash: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	e := NewEcho(serviceContainer)

	// Artifact downloads stream for minutes; no write timeout
	srv := server.New("tufstash", components.Config.Service.Port, e, components.Logger, server.WithoutWriteTimeout())
	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		components.Shutdown(ctx)
		os.Exit(1)
	}
}

// NewEcho builds the Echo server with middleware and all routes
func NewEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	setupMiddleware(e)
	registerRoutes(e, c)

	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
	e.Use(tufmiddleware.PropagateRequestID())
}

// registerRoutes registers all application routes using the service container
func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterDownloadRoutes(e, c)
}
