package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/archive"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/id/uuid"
	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/storage/factory"
)

const shutdownTimeout = 10 * time.Second

// App owns the archive server and its storage engine.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	engine storage.Engine
	server *Server
}

// Build wires storage, resolver and routes from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if cfg.Server.Domain == "" {
		return nil, fmt.Errorf("server.domain is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	engine, err := factory.New(ctx, cfg.Storage, factory.RetryPolicy(cfg.Retry), logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	resolver := archive.NewResolver(engine, cfg.Server.ArchiveCacheTTL, logger.Named("resolver"))
	srv := New(resolver, cfg.Server.Domain, Options{Metrics: cfg.Metrics.Enabled, IDs: uuid.New()}, logger.Named("http"))
	return &App{cfg: cfg, logger: logger, engine: engine, server: srv}, nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves until ctx is canceled or the process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started",
			zap.Int("port", a.cfg.Server.Port),
			zap.String("domain", a.cfg.Server.Domain),
			zap.String("storage", a.engine.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		a.logger.Info("shutdown complete")
		return nil
	}
}
