package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeProber struct {
	name       string
	configured bool
	calls      atomic.Int32
}

func (f *fakeProber) Name() string       { return f.name }
func (f *fakeProber) IsConfigured() bool { return f.configured }

func (f *fakeProber) Probe(context.Context) Status {
	f.calls.Add(1)
	return Status{Provider: f.name, Configured: true, Reachable: true}
}

func TestRouter_Status(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := NewRouter(time.Minute)
	r.now = func() time.Time { return now }

	gemini := &fakeProber{name: "gemini", configured: true}
	other := &fakeProber{name: "alpha"}
	r.Register(gemini)
	r.Register(other)

	got := r.Status(context.Background())
	assert.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Provider)
	assert.False(t, got[0].Configured)
	assert.True(t, got[1].Reachable)
	assert.Equal(t, int32(0), other.calls.Load(), "unconfigured providers are not probed")

	r.Status(context.Background())
	assert.Equal(t, int32(1), gemini.calls.Load(), "cached")

	now = now.Add(2 * time.Minute)
	r.Status(context.Background())
	assert.Equal(t, int32(2), gemini.calls.Load())
}

func TestRouter_ListConfigured(t *testing.T) {
	r := NewRouter(0)
	r.Register(&fakeProber{name: "b", configured: true})
	r.Register(&fakeProber{name: "a", configured: true})
	r.Register(&fakeProber{name: "c"})

	assert.Equal(t, []string{"a", "b"}, r.ListConfigured())
}
