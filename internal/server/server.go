// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
	"github.com/alanyoungcy/escrowmarket/internal/server/handler"
	"github.com/alanyoungcy/escrowmarket/internal/server/middleware"
	"github.com/alanyoungcy/escrowmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port              int
	CORSOrigins       []string
	SignatureMaxAge   time.Duration
	RateLimit         int
	RateLimitWindow   time.Duration
	ReadHeaderTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Faucet is optional and only routed when non-nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Listings *handler.ListingHandler
	Accounts *handler.AccountHandler
	Events   *handler.EventHandler
	Faucet   *handler.FaucetHandler
}

// Server is the HTTP + WebSocket API server for the escrow marketplace.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// in which case requests are not rate limited. A nil guard remembers signed
// request nonces in process memory.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, guard domain.ReplayGuard, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{market}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{market}/listings", handlers.Markets.ListListings)
	mux.HandleFunc("POST /api/markets/{market}/withdraw", handlers.Markets.WithdrawFees)

	// Listings.
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings/{market}/{asset}/{seller}", handlers.Listings.GetListing)
	mux.HandleFunc("GET /api/listings/{market}/{asset}/{seller}/quote", handlers.Listings.Quote)
	mux.HandleFunc("POST /api/listings/{market}/{asset}/{seller}/buy", handlers.Listings.Buy)
	mux.HandleFunc("PUT /api/listings/{market}/{asset}/{seller}/ask", handlers.Listings.Ask)
	mux.HandleFunc("DELETE /api/listings/{market}/{asset}/{seller}", handlers.Listings.CloseListing)
	mux.HandleFunc("GET /api/sellers/{seller}/listings", handlers.Listings.ListBySeller)

	// Accounts.
	mux.HandleFunc("GET /api/wallets/{address}", handlers.Accounts.GetWallet)
	mux.HandleFunc("GET /api/accounts/{address}", handlers.Accounts.GetTokenAccount)
	mux.HandleFunc("GET /api/owners/{address}/accounts", handlers.Accounts.ListTokenAccounts)

	mux.HandleFunc("GET /api/events", handlers.Events.Replay)

	if handlers.Faucet != nil {
		mux.HandleFunc("POST /api/dev/airdrop", handlers.Faucet.Airdrop)
		mux.HandleFunc("POST /api/dev/mint", handlers.Faucet.Mint)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.SignatureAuth(cfg.SignatureMaxAge, guard, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readHeader := cfg.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting",
		slog.String("addr", ln.Addr().String()),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
