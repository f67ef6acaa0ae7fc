// Package ws carries the market-data feed over gorilla/websocket. Each
// accepted socket becomes a feed.Transport with its own bounded send queue,
// a read pump feeding the protocol handler and a write pump that owns every
// write to the socket.
package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exchangesandbox/internal/feed"
)

// Config tunes the socket pumps. Zero values take the defaults below.
type Config struct {
	SendBuffer     int           // 256
	WriteWait      time.Duration // 10s
	PongWait       time.Duration // 60s
	MaxMessageSize int64         // 4096
}

func (c *Config) withDefaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// pingPeriod must stay below the pong deadline.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// Feed is the part of feed.Engine the socket layer drives.
type Feed interface {
	Connect(id string, t feed.Transport) *feed.Conn
	Receive(ctx context.Context, id string, data []byte)
	Disconnect(id string)
}

// Server upgrades HTTP requests and attaches the sockets to the feed.
type Server struct {
	feed     Feed
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a Server for f.
func NewServer(f Feed, cfg Config, logger *slog.Logger) *Server {
	cfg.withDefaults()
	return &Server{
		feed: f,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The sandbox accepts any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "ws")),
	}
}

// HandleWS upgrades the request and serves the connection until the peer
// goes away or the feed closes it.
// GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(uuid.NewString(), sock, s.cfg, s.logger)
	s.feed.Connect(c.id, c)
	go c.writePump()

	c.readPump(r.Context(), s.feed)
}
