package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/server/handler"
	"github.com/levyprotocol/levyd/internal/server/middleware"
	"github.com/levyprotocol/levyd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter throttles clients per remote address when non-nil and
	// RateLimit is positive. The window is one minute.
	RateLimiter domain.RateLimiter
	RateLimit   int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Token     *handler.TokenHandler
	Balances  *handler.BalanceHandler
	Transfers *handler.TransferHandler
	Events    *handler.EventsHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API surface of the levy ledger daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Daemon status for dashboards.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Token metadata and window state.
	mux.HandleFunc("GET /api/token", handlers.Token.GetToken)
	mux.HandleFunc("GET /api/window", handlers.Token.GetWindow)

	// Balance reads.
	mux.HandleFunc("GET /api/balances/{address}", handlers.Balances.GetBalance)
	mux.HandleFunc("GET /api/allowance", handlers.Balances.GetAllowance)

	// Balance-changing operations and history.
	mux.HandleFunc("POST /api/transfer", handlers.Transfers.Transfer)
	mux.HandleFunc("POST /api/transferfrom", handlers.Transfers.TransferFrom)
	mux.HandleFunc("POST /api/approve", handlers.Transfers.Approve)
	mux.HandleFunc("GET /api/transfers", handlers.Transfers.ListTransfers)

	// Levy observations.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	// Administrator surface.
	mux.HandleFunc("POST /api/admin/recover", handlers.Admin.RecoverForeignAsset)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Throttle before auth so rejected bursts never reach the handlers.
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, time.Minute)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
