package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/search"
	"github.com/redis/go-redis/v9"
)

const searchCacheTTL = 10 * time.Minute

// SearchCache keeps formatted search results in Redis
type SearchCache struct {
	client *Client
	ttl    time.Duration
}

var _ search.Cache = (*SearchCache)(nil)

// NewSearchCache creates a new search result cache
func NewSearchCache(client *Client, ttl time.Duration) *SearchCache {
	if ttl <= 0 {
		ttl = searchCacheTTL
	}
	return &SearchCache{client: client, ttl: ttl}
}

// Get retrieves a cached result; a miss returns nil, nil
func (c *SearchCache) Get(ctx context.Context, key string) (*search.Result, error) {
	data, err := c.client.rdb.Get(ctx, c.client.key("search", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read search cache: %w", err)
	}

	var res search.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search result: %w", err)
	}
	return &res, nil
}

// Set caches a result
func (c *SearchCache) Set(ctx context.Context, key string, res *search.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal search result: %w", err)
	}
	return c.client.rdb.Set(ctx, c.client.key("search", key), data, c.ttl).Err()
}

// Flush removes all cached results
func (c *SearchCache) Flush(ctx context.Context) (int64, error) {
	var cursor uint64
	var deleted int64

	for {
		keys, next, err := c.client.rdb.Scan(ctx, cursor, c.client.key("search", "*"), 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}
