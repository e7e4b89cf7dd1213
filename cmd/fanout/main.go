package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/lyzr/tufstash/common/bootstrap"
	"github.com/lyzr/tufstash/common/config"
	"github.com/lyzr/tufstash/common/server"
)

const defaultPort = 8084

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("fanout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("PORT") == "" {
		cfg.Service.Port = defaultPort
	}

	// Fanout is useless without Redis, so connect regardless of REDIS_ENABLED
	components, err := bootstrap.Setup(ctx, "fanout",
		bootstrap.WithCustomConfig(cfg),
		bootstrap.WithRequiredRedis(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap fanout: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger

	// Create Hub (connection manager)
	hub := NewHub(log)
	go hub.Run(ctx)

	// Create Redis subscriber
	subscriber := NewRedisSubscriber(components.Redis, hub, log)
	go func() {
		if err := subscriber.Start(ctx); err != nil {
			log.Error("redis subscriber failed", "error", err)
			cancel()
		}
	}()

	s := NewServer(hub, components.Redis, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HandleHealth)

	// WebSocket connections are long-lived; timeouts would kill them
	srv := server.New("fanout", cfg.Service.Port, mux, log, server.WithoutWriteTimeout())
	srv.RegisterOnShutdown(cancel)

	if err := srv.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
