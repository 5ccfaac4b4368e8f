package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/volans-ai/relay/internal/agent"
	"github.com/volans-ai/relay/internal/agent/providers"
	"github.com/volans-ai/relay/internal/chat"
	"github.com/volans-ai/relay/internal/config"
	"github.com/volans-ai/relay/internal/gateway"
	"github.com/volans-ai/relay/internal/mcp"
	"github.com/volans-ai/relay/internal/observability"
	"github.com/volans-ai/relay/internal/store"
)

// runServe implements the serve command: configuration, dependency wiring,
// and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	logger.Info("starting relay gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
		"model", cfg.Model.Name,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	st, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := agent.NewToolRegistry(logger)
	clients, err := connectToolServers(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				logger.Warn("failed to close tool server", "server", c.ID(), "error", err)
			}
		}
	}()

	provider, err := providers.NewOpenAIProvider(providers.Options{
		APIKey:   cfg.Model.APIKey,
		Endpoint: cfg.Model.Endpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize model provider: %w", err)
	}

	loop := agent.NewLoop(provider, registry, agent.LoopConfig{
		Model:         cfg.Model.Name,
		MaxToolRounds: cfg.Agent.MaxToolRounds,
	}, logger, metrics)

	manager := chat.NewManager(st, loop, cfg.Agent.SystemPrompt, logger, metrics)

	server := gateway.NewServer(manager, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := server.Start(addr); err != nil {
		return err
	}

	logger.Info("relay gateway started",
		"addr", addr,
		"tools", registry.Len(),
		"store", cfg.Store.Backend,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("relay gateway stopped")
	return nil
}

// buildLogger constructs the process logger from the logging section; the
// debug flag overrides the configured level.
func buildLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildStore selects the conversation store backend. Redis is verified with
// a ping before the server accepts traffic.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.Store.Backend == config.StoreMemory {
		logger.Warn("using in-memory conversation store, history will not survive restarts")
		return store.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Store.Redis.Addr, err)
	}
	logger.Info("redis connection established", "addr", cfg.Store.Redis.Addr)

	closer := func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
	return store.NewRedisStore(client, logger), closer, nil
}

// connectToolServers dials every configured MCP server and registers its
// tools. A required server aborts startup on failure; an optional one only
// shrinks the catalog.
func connectToolServers(ctx context.Context, cfg *config.Config, registry *agent.ToolRegistry, logger *slog.Logger) ([]*mcp.Client, error) {
	clients := make([]*mcp.Client, 0, len(cfg.Tools.Servers))
	for i := range cfg.Tools.Servers {
		srv := &cfg.Tools.Servers[i]
		client := mcp.NewClient(srv, logger)

		if err := client.Connect(ctx); err != nil {
			if srv.Required {
				closeAll(clients, logger)
				return nil, fmt.Errorf("required tool server %s: %w", srv.ID, err)
			}
			logger.Warn("optional tool server unavailable, continuing without it",
				"server", srv.ID, "error", err)
			continue
		}

		count, err := mcp.RegisterTools(ctx, registry, client)
		if err != nil {
			_ = client.Close()
			if srv.Required {
				closeAll(clients, logger)
				return nil, fmt.Errorf("required tool server %s: %w", srv.ID, err)
			}
			logger.Warn("failed to register tools from optional server",
				"server", srv.ID, "error", err)
			continue
		}

		logger.Info("tool server connected",
			"server", srv.ID, "name", client.ServerInfo().Name, "tools", count)
		clients = append(clients, client)
	}
	return clients, nil
}

func closeAll(clients []*mcp.Client, logger *slog.Logger) {
	for _, c := range clients {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close tool server", "server", c.ID(), "error", err)
		}
	}
}
