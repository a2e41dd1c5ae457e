package quota

import (
	"context"
	"sync"
	"time"
)

// WindowUsage is the request and token count of one bucket.
type WindowUsage struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
}

// WindowLimits bound a single bucket.
type WindowLimits struct {
	Requests int64
	Tokens   int64
}

// Allows reports whether one more request of tokens fits beside u.
func (l WindowLimits) Allows(u WindowUsage, tokens int64) bool {
	return u.Requests < l.Requests && u.Tokens+tokens <= l.Tokens
}

// Window counts requests and tokens in fixed buckets. Reserve must check and
// increment atomically so concurrent callers cannot both pass a check that
// together would exceed the limits.
type Window interface {
	Peek(ctx context.Context, key string, bucket time.Time) (WindowUsage, error)
	// Reserve returns the usage observed before the reservation and whether
	// it was applied.
	Reserve(ctx context.Context, key string, bucket time.Time, tokens int64, limits WindowLimits) (WindowUsage, bool, error)
	Release(ctx context.Context, key string, bucket time.Time, tokens int64) error
}

type bucketKey struct {
	key   string
	start int64
}

// MemoryWindow is a process-local Window.
type MemoryWindow struct {
	mu      sync.Mutex
	buckets map[bucketKey]*WindowUsage
}

// NewMemoryWindow creates an empty in-memory window
func NewMemoryWindow() *MemoryWindow {
	return &MemoryWindow{buckets: make(map[bucketKey]*WindowUsage)}
}

func (w *MemoryWindow) Peek(_ context.Context, key string, bucket time.Time) (WindowUsage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if u, ok := w.buckets[bucketKey{key, bucket.Unix()}]; ok {
		return *u, nil
	}
	return WindowUsage{}, nil
}

func (w *MemoryWindow) Reserve(_ context.Context, key string, bucket time.Time, tokens int64, limits WindowLimits) (WindowUsage, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := bucketKey{key, bucket.Unix()}
	u, ok := w.buckets[k]
	if !ok {
		u = &WindowUsage{}
		w.buckets[k] = u
	}
	before := *u
	if !limits.Allows(before, tokens) {
		return before, false, nil
	}
	u.Requests++
	u.Tokens += tokens
	return before, true, nil
}

func (w *MemoryWindow) Release(_ context.Context, key string, bucket time.Time, tokens int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	u, ok := w.buckets[bucketKey{key, bucket.Unix()}]
	if !ok {
		return nil
	}
	if u.Requests > 0 {
		u.Requests--
	}
	u.Tokens -= tokens
	if u.Tokens < 0 {
		u.Tokens = 0
	}
	return nil
}

// Prune drops buckets that started before cutoff and returns how many.
func (w *MemoryWindow) Prune(cutoff time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for k := range w.buckets {
		if k.start < cutoff.Unix() {
			delete(w.buckets, k)
			n++
		}
	}
	return n
}
