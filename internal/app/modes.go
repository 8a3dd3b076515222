package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/truthledger/internal/blob/s3"
	"github.com/alanyoungcy/truthledger/internal/crypto"
	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/ledger"
	"github.com/alanyoungcy/truthledger/internal/matcher"
	"github.com/alanyoungcy/truthledger/internal/notify"
	"github.com/alanyoungcy/truthledger/internal/platform/polymarket"
	"github.com/alanyoungcy/truthledger/internal/server"
	"github.com/alanyoungcy/truthledger/internal/server/handler"
	"github.com/alanyoungcy/truthledger/internal/server/ws"
	"github.com/alanyoungcy/truthledger/internal/service"
)

// archivePageSize is the number of markets read per page in archive mode.
const archivePageSize = 200

// newEngine builds the ledger engine over the wired store.
func (a *App) newEngine(deps *Dependencies) *ledger.Engine {
	return ledger.NewEngine(ledger.Config{
		Authority:        deps.Authority,
		Asset:            a.cfg.Ledger.Asset,
		MaxExternalIDLen: a.cfg.Ledger.MaxExternalIDLen,
	}, deps.Ledger, crypto.NewVerifier(), a.logger)
}

// newArchiver returns nil when object storage is not configured.
func newArchiver(deps *Dependencies, engine *ledger.Engine) *s3blob.Archiver {
	if deps.BlobWriter == nil || deps.BlobReader == nil {
		return nil
	}
	return s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, engine, deps.Ledger, deps.LockManager, deps.Audit)
}

// ServerMode runs the ledger HTTP API, the WebSocket hub and the event
// discovery services until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode", slog.String("authority", deps.Authority))

	engine := a.newEngine(deps)
	archiver := newArchiver(deps, engine)

	// Interface fields stay nil rather than holding typed nil pointers.
	obsDeps := service.ObserverDeps{
		Bus:              deps.SignalBus,
		Metrics:          deps.Metrics,
		Audit:            deps.Audit,
		ArchiveOnResolve: a.cfg.S3.ArchiveOnResolve,
	}
	if deps.EventLog != nil {
		obsDeps.Events = deps.EventLog
	}
	if deps.Notifier != nil {
		obsDeps.Alerts = deps.Notifier
	}
	if archiver != nil {
		obsDeps.Archiver = archiver
	}
	observer := service.NewLedgerObserver(obsDeps, a.logger)
	engine.WithObserver(observer)
	defer observer.Wait()

	// Discovery, odds and matching.
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost, a.cfg.Polymarket.Timeout.Duration)
	discovery := service.NewDiscoveryService(gamma, a.cfg.Polymarket.DiscoveryLimit, a.cfg.Polymarket.DiscoveryTTL.Duration, a.logger)
	odds := service.NewOddsService(gamma, deps.OddsCache, a.logger)
	textMatcher, err := matcher.New(matcher.Config{
		Provider: a.cfg.Matcher.Provider,
		APIKey:   a.cfg.Matcher.APIKey,
		BaseURL:  a.cfg.Matcher.BaseURL,
		Models:   a.cfg.Matcher.Models,
		Timeout:  a.cfg.Matcher.Timeout.Duration,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("app: matcher: %w", err)
	}
	match := service.NewMatchService(deps.MappingCache, discovery, textMatcher, odds, engine, a.logger)

	// Handlers.
	ledgerCfg := handler.LedgerHandlerConfig{
		Asset:   a.cfg.Ledger.Asset,
		Amounts: handler.NewAmounts(a.cfg.Ledger.AssetDecimals),
	}
	if deps.Signer != nil {
		ledgerCfg.Signer = deps.Signer
	}
	if archiver != nil {
		ledgerCfg.Reports = archiver
	}
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.HealthChecks, a.logger),
		Ledger: handler.NewLedgerHandler(engine, deps.Accounts, ledgerCfg, a.logger),
		Events: handler.NewEventsHandler(discovery, odds, match, a.logger),
	}
	var srvDeps server.Deps
	if a.cfg.Server.RateLimit > 0 {
		srvDeps.Limiter = deps.RateLimiter
	}
	hubCfg := ws.Config{
		Channels:  []string{ws.DefaultSubscription},
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	}
	if deps.Metrics != nil {
		handlers.Metrics = deps.Metrics.Handler()
		srvDeps.Observer = deps.Metrics
		hubCfg.OnClients = func(n int) { deps.Metrics.WSClients.Set(float64(n)) }
	}
	hub := ws.NewHub(deps.SignalBus, a.logger, hubCfg)

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		AdminAPIKey: a.cfg.Server.AdminAPIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, srvDeps, a.logger)

	if a.cfg.Server.AdminAPIKey == "" {
		a.logger.WarnContext(ctx, "admin_api_key is empty; market creation and resolution over HTTP are disabled")
	}
	if deps.Signer == nil {
		a.logger.WarnContext(ctx, "no authority key loaded; resolutions must carry a signature")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ArchiveMode uploads a settlement archive for every resolved market that
// does not have one yet, then returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	engine := a.newEngine(deps)
	archiver := newArchiver(deps, engine)
	if archiver == nil {
		return errors.New("app: archive mode requires s3")
	}

	done, err := archiver.Archived(ctx)
	if err != nil {
		return fmt.Errorf("app: list archived settlements: %w", err)
	}
	archived := make(map[string]bool, len(done))
	for _, id := range done {
		archived[id] = true
	}

	var uploaded, failed, skipped int
	for offset := 0; ; offset += archivePageSize {
		markets, err := engine.ListMarkets(ctx, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("app: list markets: %w", err)
		}
		for _, m := range markets {
			if !m.Resolved || archived[m.ExternalID] {
				skipped++
				continue
			}
			path, err := archiver.ArchiveSettlement(ctx, m.ExternalID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed++
				a.logger.WarnContext(ctx, "archive: market failed",
					slog.String("market", m.ExternalID),
					slog.String("error", err.Error()),
				)
				if deps.Notifier != nil {
					_ = deps.Notifier.Notify(ctx, notify.EventArchiveFailed, "Settlement archive failed",
						fmt.Sprintf("market %s: %v", m.ExternalID, err))
				}
				continue
			}
			uploaded++
			a.logger.InfoContext(ctx, "archive: market uploaded",
				slog.String("market", m.ExternalID),
				slog.String("path", path),
			)
		}
		if len(markets) < archivePageSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "archive mode finished",
		slog.Int("uploaded", uploaded),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)
	if failed > 0 {
		return fmt.Errorf("app: %d settlement archives failed", failed)
	}
	return nil
}
