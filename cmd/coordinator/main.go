// Command coordinator runs the hub of a tessera stream.
//
// Configuration comes from the YAML file named by TESSERA_CONFIG, when set,
// and TESSERA_* environment variables (see internal/config).
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/tessera/internal/config"
	"github.com/dreamware/tessera/internal/coordinator"
	"github.com/dreamware/tessera/internal/logging"
)

func main() {
	cfg, err := config.Load(getenv("TESSERA_CONFIG", ""))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.Component(logger, "hub", cfg.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.Listen), zap.Error(err))
	}
	if err := run(ctx, cfg, lis, logger); err != nil {
		logger.Fatal("hub stopped", zap.Error(err))
	}
	logger.Info("hub stopped")
}

// newHub builds the hub and its health monitor from cfg.
func newHub(cfg *config.Config, logger *zap.Logger) (*coordinator.Server, *coordinator.HealthMonitor, error) {
	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval.Std(), cfg.MaxFailures, logger.Named("health"))
	hub, err := coordinator.NewServer(cfg.Writers, cfg.Readers, monitor, logger)
	if err != nil {
		monitor.Stop()
		return nil, nil, err
	}
	return hub, monitor, nil
}

// run serves the hub on lis until ctx ends, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, lis net.Listener, logger *zap.Logger) error {
	hub, monitor, err := newHub(cfg, logger)
	if err != nil {
		return err
	}
	defer monitor.Stop()
	hub.StartMonitor(ctx)

	srv := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("hub listening",
			zap.String("addr", lis.Addr().String()),
			zap.Int("writers", cfg.Writers),
			zap.Int("readers", cfg.Readers))
		errc <- srv.Serve(lis)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Long-polling collectives would hold Shutdown until they time out.
	hub.Rendezvous().Fail(errors.New("hub shutting down"))
	return srv.Shutdown(shutdownCtx)
}

// getenv retrieves an environment variable with a fallback default.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
