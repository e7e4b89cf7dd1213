package container

import (
	"context"
	"fmt"

	"github.com/lyzr/tufstash/cmd/tufstash/service"
	"github.com/lyzr/tufstash/common/bootstrap"
	"github.com/lyzr/tufstash/common/clients"
	"github.com/lyzr/tufstash/common/contentdir"
	"github.com/lyzr/tufstash/common/events"
)

// Container holds all initialized services (singleton pattern)
type Container struct {
	// Components
	Components *bootstrap.Components

	// Collaborators
	Store      clients.ArtifactStore
	ContentDir *contentdir.Dir
	Publisher  events.Publisher

	// Services. Downloads is nil when no content directory is configured.
	Downloads *service.DownloadManager
}

// Option overrides a collaborator, mainly for tests
type Option func(*Container)

// WithArtifactStore replaces the HTTP artifact store
func WithArtifactStore(store clients.ArtifactStore) Option {
	return func(c *Container) {
		c.Store = store
	}
}

// WithPublisher replaces the event publisher
func WithPublisher(publisher events.Publisher) Option {
	return func(c *Container) {
		c.Publisher = publisher
	}
}

// NewContainer initializes all services once
func NewContainer(components *bootstrap.Components, opts ...Option) (*Container, error) {
	cfg := components.Config
	c := &Container{Components: components}

	for _, opt := range opts {
		opt(c)
	}

	if c.Store == nil {
		c.Store = clients.NewHTTPArtifactStore(clients.ArtifactStoreOptions{
			BaseURL:               cfg.Store.BaseURL,
			ResponseHeaderTimeout: cfg.Store.HeaderTimeout,
			UserAgent:             cfg.Store.UserAgent,
		}, components.Logger)
	}

	if c.Publisher == nil {
		if components.Redis != nil {
			c.Publisher = events.NewRedisPublisher(components.Redis, cfg.Transfer.GraceWindow, components.Logger)
		} else {
			c.Publisher = events.NopPublisher{}
		}
	}

	if !cfg.DownloadsEnabled() {
		components.Logger.Warn("DOWNLOAD_DIR not set, save-to-disk disabled")
		return c, nil
	}

	dir, err := contentdir.New(cfg.Content.Dir, components.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open content dir: %w", err)
	}
	c.ContentDir = dir

	c.Downloads = service.NewDownloadManager(c.Store, dir, c.Publisher, components.Logger, service.Options{
		ChunkSize:   cfg.Transfer.ChunkSize,
		GraceWindow: cfg.Transfer.GraceWindow,
	})

	// In-flight transfers are abandoned, not drained
	components.OnShutdown(func() error {
		components.Logger.Info("closing download manager")
		return c.Downloads.Close(context.Background())
	})

	return c, nil
}
