package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionSweeper evicts idle sessions and stale init markers.
type SessionSweeper interface {
	CleanupInactive(now time.Time) int
	PruneCooldowns(now time.Time) int
}

// WindowPruner drops expired per-minute buckets.
type WindowPruner interface {
	Prune(cutoff time.Time) int
}

// HistoryPruner deletes usage history older than cutoff.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeps configures the maintenance jobs. Nil targets are skipped.
type Sweeps struct {
	Spec      string
	Sessions  SessionSweeper
	Window    WindowPruner
	WindowTTL time.Duration
	History   HistoryPruner
	Retention time.Duration
	Now       func() time.Time
}

const (
	JobSessions = "session-sweep"
	JobWindow   = "window-prune"
	JobHistory  = "history-prune"
)

// Register adds the configured sweeps to s. History retention runs daily.
func Register(s *Scheduler, sw Sweeps) error {
	now := sw.Now
	if now == nil {
		now = time.Now
	}
	spec := sw.Spec
	if spec == "" {
		spec = "@every 1m"
	}

	if sw.Sessions != nil {
		err := s.Add(Job{Name: JobSessions, Spec: spec, Run: func(context.Context) error {
			t := now()
			closed := sw.Sessions.CleanupInactive(t)
			pruned := sw.Sessions.PruneCooldowns(t)
			if closed > 0 || pruned > 0 {
				log.Info().Int("closed", closed).Int("cooldowns_pruned", pruned).Msg("Session sweep")
			}
			return nil
		}})
		if err != nil {
			return err
		}
	}

	if sw.Window != nil {
		ttl := sw.WindowTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		err := s.Add(Job{Name: JobWindow, Spec: spec, Run: func(context.Context) error {
			sw.Window.Prune(now().Add(-ttl))
			return nil
		}})
		if err != nil {
			return err
		}
	}

	if sw.History != nil && sw.Retention > 0 {
		err := s.Add(Job{Name: JobHistory, Spec: "@daily", Run: func(ctx context.Context) error {
			n, err := sw.History.PruneHistory(ctx, now().Add(-sw.Retention))
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Msg("Pruned usage history")
			return nil
		}})
		if err != nil {
			return err
		}
	}
	return nil
}
