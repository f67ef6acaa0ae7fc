package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
	"github.com/alanyoungcy/exchangesandbox/internal/feed"
)

const shutdownReason = "Server shutting down"

// conn implements feed.Transport for one socket.
type conn struct {
	id     string
	sock   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte

	once      sync.Once
	quit      chan struct{}
	closeCode int // 0 means close without a close frame
	done      chan struct{}
}

func newConn(id string, sock *websocket.Conn, cfg Config, logger *slog.Logger) *conn {
	return &conn{
		id:     id,
		sock:   sock,
		cfg:    cfg,
		logger: logger.With(slog.String("conn_id", id)),
		send:   make(chan []byte, cfg.SendBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Send queues msg for the write pump without blocking.
func (c *conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Close asks the write pump to flush queued frames, send a normal closure and
// release the socket. If that does not finish before ctx is done the socket
// is torn down anyway.
func (c *conn) Close(ctx context.Context) error {
	c.stop(websocket.CloseNormalClosure)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		_ = c.sock.Close()
		return ctx.Err()
	}
}

func (c *conn) stop(code int) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeCode = code
		c.mu.Unlock()
		close(c.quit)
	})
}

func (c *conn) readPump(ctx context.Context, f Feed) {
	defer func() {
		f.Disconnect(c.id)
		c.stop(0)
		<-c.done
	}()

	c.sock.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.sock.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed", slog.String("error", err.Error()))
			}
			return
		}
		f.Receive(ctx, c.id, data)
	}
}

// writePump is the only goroutine that writes to the socket.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.stop(0)
		_ = c.sock.Close()
		close(c.done)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			c.mu.Lock()
			code := c.closeCode
			c.mu.Unlock()
			if code == 0 {
				return
			}
			c.flush()
			_ = c.sock.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, shutdownReason),
				time.Now().Add(c.cfg.WriteWait))
			return
		}
	}
}

// flush writes frames that were queued before the close request.
func (c *conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	_ = c.sock.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.sock.WriteMessage(messageType, data)
}

var _ feed.Transport = (*conn)(nil)
