package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/exchangesandbox/internal/domain"
)

// SignalBus implements domain.SignalBus with Redis PUBLISH. Every price write
// is published so other processes can follow the sandbox.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish sends payload to channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
