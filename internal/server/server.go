// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/truthledger/internal/domain"
	"github.com/alanyoungcy/truthledger/internal/server/handler"
	"github.com/alanyoungcy/truthledger/internal/server/middleware"
	"github.com/alanyoungcy/truthledger/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, public routes need no authentication
	AdminAPIKey string // if empty, admin routes are disabled

	// RateLimit is requests per RateWindow per client IP; 0 disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Ledger  *handler.LedgerHandler
	Events  *handler.EventsHandler
	Metrics http.Handler // optional
}

// Deps are optional collaborators of the middleware chain.
type Deps struct {
	Limiter  domain.RateLimiter      // required when Config.RateLimit > 0
	Observer middleware.HTTPObserver // optional request metrics
}

// Server is the HTTP + WebSocket API of the ledger.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, deps Deps, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, deps, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := middleware.AdminAuth(cfg.AdminAPIKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Ledger.
	l := handlers.Ledger
	mux.HandleFunc("GET /api/markets", l.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", l.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{participant}", l.GetStake)
	mux.HandleFunc("POST /api/markets/{id}/stakes/intent", l.StakeIntent)
	mux.HandleFunc("POST /api/markets/{id}/stakes", l.PlaceStake)
	mux.HandleFunc("POST /api/markets/{id}/claims", l.Claim)
	mux.HandleFunc("GET /api/markets/{id}/settlement", l.Settlement)
	mux.HandleFunc("GET /api/markets/{id}/report", l.Report)
	mux.HandleFunc("GET /api/accounts/{owner}", l.GetAccount)

	// Discovery and matching.
	if e := handlers.Events; e != nil {
		mux.HandleFunc("GET /api/events", e.ListEvents)
		mux.HandleFunc("GET /api/odds/{eventID}", e.GetOdds)
		mux.HandleFunc("POST /api/match", e.Match)
	}

	// Admin.
	mux.Handle("POST /api/admin/markets", admin(http.HandlerFunc(l.CreateMarket)))
	mux.Handle("POST /api/admin/markets/{id}/resolve", admin(http.HandlerFunc(l.Resolve)))
	mux.Handle("POST /api/admin/markets/{id}/reconcile", admin(http.HandlerFunc(l.Reconcile)))
	mux.Handle("POST /api/admin/accounts/{owner}/fund", admin(http.HandlerFunc(l.Fund)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if deps.Observer != nil {
		h = middleware.Metrics(deps.Observer)(h)
	}
	// Admin routes carry their own key; the feed is read-only.
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics", "/ws", "/api/admin/")(h)
	if cfg.RateLimit > 0 && deps.Limiter != nil {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
