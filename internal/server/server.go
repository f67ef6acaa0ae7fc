// Package server assembles the sandbox HTTP API: the REST handlers, the
// market-data WebSocket and the Prometheus endpoint behind one mux.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/exchangesandbox/internal/server/handler"
	"github.com/alanyoungcy/exchangesandbox/internal/server/middleware"
	"github.com/alanyoungcy/exchangesandbox/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Archive and
// Metrics may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Prices  *handler.PriceHandler
	Sandbox *handler.SandboxHandler
	Archive *handler.ArchiveHandler
	Metrics http.Handler
}

// Paths reachable without an API key.
var publicPaths = []string{"/ws", "/api/health", "/metrics"}

// Server is the sandbox HTTP + WebSocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered.
func NewServer(cfg Config, handlers Handlers, wsServer *ws.Server, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers, wsServer)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, publicPaths...)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers, wsServer *ws.Server) {
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Catalog and prices.
	mux.HandleFunc("GET /api/products", h.Prices.ListProducts)
	mux.HandleFunc("GET /api/products/{productId}", h.Prices.GetProduct)
	mux.HandleFunc("GET /api/prices/{productId}/current", h.Prices.CurrentPrice)
	mux.HandleFunc("GET /api/prices/{productId}/history", h.Prices.History)
	mux.HandleFunc("POST /api/prices/{productId}/mock", h.Prices.MockPrice)

	// Sandbox controls.
	mux.HandleFunc("POST /api/v3/sandbox/prices/{productId}", h.Sandbox.SetStaticPrice)
	mux.HandleFunc("POST /api/v3/sandbox/prices/{productId}/simulate", h.Sandbox.Simulate)
	mux.HandleFunc("DELETE /api/v3/sandbox/prices/{productId}/simulation", h.Sandbox.StopSimulation)
	mux.HandleFunc("GET /api/v3/sandbox/simulations", h.Sandbox.ListSimulations)
	mux.HandleFunc("POST /api/v3/sandbox/scenarios", h.Sandbox.SetupScenario)
	mux.HandleFunc("POST /api/v3/sandbox/reset", h.Sandbox.Reset)
	mux.HandleFunc("GET /api/v3/sandbox/state", h.Sandbox.State)

	if h.Archive != nil {
		mux.HandleFunc("POST /api/v3/sandbox/archive", h.Archive.Trigger)
		mux.HandleFunc("GET /api/v3/sandbox/archives", h.Archive.List)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if wsServer != nil {
		mux.HandleFunc("GET /ws", wsServer.HandleWS)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Serve accepts connections on ln until Shutdown. The listener is usually
// bound to Config.Port by the caller.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones within the
// ctx deadline. Hijacked WebSocket connections are not tracked here; the feed
// engine closes those.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
