// Package app wires escrowd's record store, caches, blob storage and
// settlement engine, then runs the configured mode: "server" serves the
// marketplace API until cancelled, "archive" copies the journal to object
// storage once and exits.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/config"
)

// App owns the configuration, the logger and the teardown of whatever Run
// wired.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu        sync.Mutex
	teardowns []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	start := time.Now()

	deps, teardown, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire %s mode: %w", mode, err)
	}
	a.mu.Lock()
	a.teardowns = append(a.teardowns, teardown)
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "dependencies ready",
		slog.String("mode", mode),
		slog.String("store", a.cfg.Store.Backend),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("blob", deps.BlobWriter != nil),
		slog.Duration("took", time.Since(start)),
	)

	switch mode {
	case "server":
		return a.ServerMode(ctx, deps)
	case "archive":
		return a.ArchiveMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close releases everything Run wired, newest first. Later calls do
// nothing.
func (a *App) Close() {
	a.mu.Lock()
	teardowns := a.teardowns
	a.teardowns = nil
	a.mu.Unlock()

	if len(teardowns) == 0 {
		return
	}
	a.logger.Info("releasing resources")
	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
}
