// Package main implements the tessera node: one writer or reader process
// of a stream.
//
// A node is a member of the stream group run by the hub (cmd/coordinator).
// It is responsible for:
//   - Registering with the hub and waiting for the full membership
//   - Serving its step regions over gRPC when it is a writer
//   - Fetching its selections from writers when it is a reader
//   - Running a demo workload over one global 2-D (or N-D) array
//   - Answering health probes and exposing Prometheus metrics
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /metrics      - Prometheus metrics   │
//	│    /info         - Stream progress      │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    cluster.Client  - hub collectives    │
//	│    fetch.Server    - writer regions     │
//	│    fetch.Client    - reader fetches     │
//	│    engine.Writer / engine.Reader        │
//	└─────────────────────────────────────────┘
//
// Configuration (see internal/config):
//   - TESSERA_CONFIG: optional YAML file
//   - TESSERA_ROLE: writer or reader
//   - TESSERA_HUB: hub URL (default: "http://127.0.0.1:8080")
//   - TESSERA_LISTEN / TESSERA_ADVERTISE: HTTP listen and probe addresses
//   - TESSERA_FETCH_LISTEN / TESSERA_FETCH_ADDR: writer gRPC addresses
//
// Example usage:
//
//	TESSERA_WRITERS=2 TESSERA_READERS=1 ./coordinator &
//	TESSERA_ROLE=writer TESSERA_WRITERS=2 TESSERA_READERS=1 \
//	TESSERA_LISTEN=:8081 TESSERA_FETCH_LISTEN=:9081 ./node &
//	TESSERA_ROLE=writer TESSERA_WRITERS=2 TESSERA_READERS=1 \
//	TESSERA_LISTEN=:8082 TESSERA_FETCH_LISTEN=:9082 ./node &
//	TESSERA_ROLE=reader TESSERA_WRITERS=2 TESSERA_READERS=1 \
//	TESSERA_LISTEN=:8083 ./node
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/cluster"
	"github.com/dreamware/tessera/internal/config"
	"github.com/dreamware/tessera/internal/logging"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

// Registration retry policy.
var (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

func main() {
	cfg, err := config.Load(getenv("TESSERA_CONFIG", ""))
	if err != nil {
		logFatal("config: %v", err)
	}
	if cfg.Role == config.RoleHub {
		logFatal("node role must be %q or %q", config.RoleWriter, config.RoleReader)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		logFatal("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.Component(logger, "node", cfg.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logFatal("listen %s: %v", cfg.Listen, err)
	}
	var fetchLis net.Listener
	if cfg.Role == config.RoleWriter {
		if fetchLis, err = net.Listen("tcp", cfg.FetchListen); err != nil {
			logFatal("listen %s: %v", cfg.FetchListen, err)
		}
	}

	node := NewNode(cfg, logger)
	if err := node.Run(ctx, httpLis, fetchLis); err != nil {
		logger.Error("node failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("node stopped")
}

// register announces the node to the hub, retrying while the hub starts up
// or is briefly unreachable.
func register(ctx context.Context, c *cluster.Client, logger *zap.Logger) (cluster.RegisterResponse, error) {
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		resp, err := c.Register(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Warn("register retry", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return cluster.RegisterResponse{}, ctx.Err()
		case <-time.After(registerDelay):
		}
	}
	return cluster.RegisterResponse{}, fmt.Errorf("register after %d attempts: %w", registerAttempts, lastErr)
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
