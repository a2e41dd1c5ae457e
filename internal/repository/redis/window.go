package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Rrens/live-assist/internal/quota"
	"github.com/redis/go-redis/v9"
)

// reserveScript checks and increments one bucket atomically.
// KEYS[1] bucket hash; ARGV: tokens, request limit, token limit, ttl ms.
// Returns {applied, requests before, tokens before}.
var reserveScript = redis.NewScript(`
local req = tonumber(redis.call('HGET', KEYS[1], 'requests') or '0')
local tok = tonumber(redis.call('HGET', KEYS[1], 'tokens') or '0')
local add = tonumber(ARGV[1])
if req >= tonumber(ARGV[2]) or tok + add > tonumber(ARGV[3]) then
  return {0, req, tok}
end
redis.call('HINCRBY', KEYS[1], 'requests', 1)
redis.call('HINCRBY', KEYS[1], 'tokens', add)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {1, req, tok}
`)

// releaseScript undoes one reservation, flooring both counters at zero.
var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
local req = tonumber(redis.call('HGET', KEYS[1], 'requests') or '0')
local tok = tonumber(redis.call('HGET', KEYS[1], 'tokens') or '0') - tonumber(ARGV[1])
if req > 0 then req = req - 1 end
if tok < 0 then tok = 0 end
redis.call('HSET', KEYS[1], 'requests', req, 'tokens', tok)
return 1
`)

// Window is a quota.Window shared by every process using the same Redis.
type Window struct {
	client *Client
	ttl    time.Duration
}

var _ quota.Window = (*Window)(nil)

// NewWindow creates a window whose buckets expire after twice size.
func NewWindow(client *Client, size time.Duration) *Window {
	if size <= 0 {
		size = time.Minute
	}
	return &Window{client: client, ttl: 2 * size}
}

func (w *Window) key(key string, bucket time.Time) string {
	return w.client.key("quota", "window", key, strconv.FormatInt(bucket.Unix(), 10))
}

func (w *Window) Peek(ctx context.Context, key string, bucket time.Time) (quota.WindowUsage, error) {
	vals, err := w.client.rdb.HMGet(ctx, w.key(key, bucket), "requests", "tokens").Result()
	if err != nil {
		return quota.WindowUsage{}, fmt.Errorf("failed to read rate window: %w", err)
	}
	return quota.WindowUsage{Requests: toInt64(vals[0]), Tokens: toInt64(vals[1])}, nil
}

func (w *Window) Reserve(ctx context.Context, key string, bucket time.Time, tokens int64, limits quota.WindowLimits) (quota.WindowUsage, bool, error) {
	res, err := reserveScript.Run(ctx, w.client.rdb,
		[]string{w.key(key, bucket)},
		tokens, limits.Requests, limits.Tokens, w.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return quota.WindowUsage{}, false, fmt.Errorf("failed to reserve rate window: %w", err)
	}
	if len(res) != 3 {
		return quota.WindowUsage{}, false, fmt.Errorf("unexpected rate window reply: %v", res)
	}
	return quota.WindowUsage{Requests: res[1], Tokens: res[2]}, res[0] == 1, nil
}

func (w *Window) Release(ctx context.Context, key string, bucket time.Time, tokens int64) error {
	if err := releaseScript.Run(ctx, w.client.rdb, []string{w.key(key, bucket)}, tokens).Err(); err != nil {
		return fmt.Errorf("failed to release rate window: %w", err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
