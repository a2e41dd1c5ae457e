package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client is a go-redis client whose keys share one namespace, so several
// deployments can use the same Redis database.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient connects and pings within the configured dial timeout.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: dial,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr(), err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// key joins parts under the client namespace.
func (c *Client) key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
