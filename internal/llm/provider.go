// Package llm reports whether the configured model providers accept the
// service's credentials.
package llm

import (
	"context"
	"time"
)

// Status is the outcome of one provider probe
type Status struct {
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	Configured bool      `json:"configured"`
	Reachable  bool      `json:"reachable"`
	LatencyMs  int64     `json:"latency_ms"`
	Error      string    `json:"error,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Prober defines the interface for provider health checks
type Prober interface {
	// Name returns the provider identifier
	Name() string

	// IsConfigured checks if provider has credentials
	IsConfigured() bool

	// Probe makes the cheapest authenticated call the provider offers
	Probe(ctx context.Context) Status
}
