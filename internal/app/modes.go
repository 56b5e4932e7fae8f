package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/escrowmarket/internal/blob/s3"
	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/notify"
	"github.com/alanyoungcy/escrowmarket/internal/server"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/server/ws"
	"github.com/alanyoungcy/escrowmarket/internal/service"
	"github.com/alanyoungcy/escrowmarket/internal/settlement"
)

const (
	archiveLockKey = "archive:journal"
	archiveLockTTL = 15 * time.Minute
)

// ServerMode runs the HTTP API and the WebSocket hub until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("dev_faucet", a.cfg.Server.DevFaucet),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	notifier := a.newNotifier()
	if notifier.Enabled() {
		g.Go(func() error {
			return notifier.Run(ctx)
		})
	}

	// Without Redis the hub and the notifier are fed directly by the engine.
	engine := deps.Engine
	switch {
	case deps.SignalBus == nil && notifier.Enabled():
		engine = engine.WithPublisher(fanout{hub, notifier})
	case deps.SignalBus == nil:
		engine = engine.WithPublisher(hub)
	case notifier.Enabled():
		g.Go(func() error {
			return notifier.Relay(ctx, deps.SignalBus)
		})
	}

	cacheTTL := a.cfg.Redis.CacheTTL.Duration
	markets := service.NewMarketService(deps.Store, deps.MarketCache, a.logger).WithCacheTTL(cacheTTL)
	listings := service.NewListingService(deps.Store, deps.ListingCache, a.logger).WithCacheTTL(cacheTTL)

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Pingers, a.logger),
		Markets:  handler.NewMarketHandler(engine, markets, a.logger),
		Listings: handler.NewListingHandler(engine, listings, a.logger),
		Accounts: handler.NewAccountHandler(service.NewAccountService(deps.Store), a.logger),
		Events:   handler.NewEventHandler(service.NewEventService(deps.SignalBus), a.logger),
	}
	if a.cfg.Server.DevFaucet {
		a.logger.WarnContext(ctx, "development faucet enabled")
		handlers.Faucet = handler.NewFaucetHandler(engine, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		SignatureMaxAge:   a.cfg.Server.SignatureMaxAge.Duration,
		RateLimit:         a.cfg.Server.RateLimit,
		RateLimitWindow:   a.cfg.Server.RateLimitWindow.Duration,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, deps.ReplayGuard, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) newNotifier() *notify.Notifier {
	var senders []notify.Sender
	if a.cfg.Notify.TelegramToken != "" && a.cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(a.cfg.Notify.TelegramToken, a.cfg.Notify.TelegramChatID))
	}
	if a.cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(a.cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, a.cfg.Notify.Events, a.logger)
}

// fanout delivers each event to every publisher.
type fanout []settlement.Publisher

func (f fanout) Publish(ctx context.Context, channel string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, channel, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArchiveMode uploads journal entries older than the retention window to
// object storage and exits. With Redis configured, concurrent archivers are
// serialised by a shared lock.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.BlobWriter == nil || deps.BlobReader == nil {
		return errors.New("archive mode: object storage is not configured")
	}

	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive mode: another archiver is running, skipping")
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive mode: acquire lock: %w", err)
		}
		defer release()
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("page_size", a.cfg.Archive.PageSize),
	)

	archiver := s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.Store, a.logger).
		WithPageSize(a.cfg.Archive.PageSize)
	res, err := archiver.ArchiveJournal(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	if res.Count == 0 {
		a.logger.InfoContext(ctx, "archive mode: nothing to archive")
	}
	return nil
}
