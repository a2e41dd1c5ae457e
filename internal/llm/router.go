package llm

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 10 * time.Second

// Router holds the registered probers and caches their last results so the
// status endpoint does not hit upstream APIs on every request.
type Router struct {
	mu       sync.RWMutex
	probers  map[string]Prober
	ttl      time.Duration
	cached   []Status
	cachedAt time.Time
	now      func() time.Time
}

// NewRouter creates a new router. ttl <= 0 disables caching.
func NewRouter(ttl time.Duration) *Router {
	return &Router{
		probers: make(map[string]Prober),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Register adds a prober, replacing any with the same name
func (r *Router) Register(p Prober) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probers[p.Name()] = p
	r.cached = nil
}

// ListConfigured returns the names of providers that have credentials
func (r *Router) ListConfigured() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, p := range r.probers {
		if p.IsConfigured() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Status probes every provider concurrently, sorted by provider name.
func (r *Router) Status(ctx context.Context) []Status {
	r.mu.RLock()
	if r.cached != nil && r.ttl > 0 && r.now().Sub(r.cachedAt) < r.ttl {
		out := append([]Status(nil), r.cached...)
		r.mu.RUnlock()
		return out
	}
	probers := make([]Prober, 0, len(r.probers))
	for _, p := range r.probers {
		probers = append(probers, p)
	}
	r.mu.RUnlock()

	out := make([]Status, len(probers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probers {
		g.Go(func() error {
			if !p.IsConfigured() {
				out[i] = Status{Provider: p.Name(), CheckedAt: r.now()}
				return nil
			}
			pctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			out[i] = p.Probe(pctx)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })

	r.mu.Lock()
	r.cached = append([]Status(nil), out...)
	r.cachedAt = r.now()
	r.mu.Unlock()
	return out
}
