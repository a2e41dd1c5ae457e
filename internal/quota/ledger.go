package quota

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultWindowSize = time.Minute

// Request sizes one unit of work. Units are charged against the monthly
// counter of Dimension; Tokens against the per-minute window.
type Request struct {
	Dimension domain.Dimension
	Units     int64
	Tokens    int64
	SessionID string
}

// Ledger admits or rejects work against monthly plan ceilings and a
// per-minute request/token window.
type Ledger struct {
	usage      domain.UsageRepository
	window     Window
	plans      Plans
	windowSize time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithWindowSize overrides the one-minute bucket size.
func WithWindowSize(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.windowSize = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger creates a new quota ledger
func NewLedger(usage domain.UsageRepository, window Window, plans Plans, opts ...Option) *Ledger {
	l := &Ledger{
		usage:      usage,
		window:     window,
		plans:      plans,
		windowSize: DefaultWindowSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admission is a reservation from Admit. Exactly one of Commit or Release
// takes effect.
type Admission struct {
	ledger  *Ledger
	userID  uuid.UUID
	req     Request
	bucket  time.Time
	monthly bool
	done    atomic.Bool
}

// Tokens returns the token-equivalent size that was admitted.
func (a *Admission) Tokens() int64 {
	return a.req.Tokens
}

// Commit records the admitted work in the usage history. Failures are logged.
func (a *Admission) Commit(ctx context.Context) {
	if !a.done.CompareAndSwap(false, true) {
		return
	}
	if a.req.Dimension == domain.DimensionSession {
		return
	}
	record := &domain.UsageRecord{
		ID:        uuid.New(),
		UserID:    a.userID,
		Dimension: a.req.Dimension,
		Amount:    a.req.Units,
		Tokens:    a.req.Tokens,
		SessionID: a.req.SessionID,
		CreatedAt: a.ledger.now(),
	}
	if err := a.ledger.usage.AppendHistory(ctx, record); err != nil {
		log.Warn().Err(err).
			Str("user_id", a.userID.String()).
			Str("dimension", string(a.req.Dimension)).
			Msg("Failed to record usage history")
	}
}

// Release returns the reserved units and tokens. Failures are logged.
func (a *Admission) Release(ctx context.Context) {
	if !a.done.CompareAndSwap(false, true) {
		return
	}
	a.ledger.rollback(ctx, a.userID, a.req, a.bucket, a.monthly, true)
}

// Admit checks and reserves req as one accounting operation. It returns a
// *domain.QuotaExceededError when any ceiling would be crossed.
func (l *Ledger) Admit(ctx context.Context, userID uuid.UUID, req Request) (*Admission, error) {
	if req.Units < 0 || req.Tokens < 0 {
		return nil, domain.NewValidationError("amount", "must not be negative")
	}

	state, err := l.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := l.plans.For(state.Plan)

	adm := &Admission{ledger: l, userID: userID, req: req}

	if req.Dimension.Monthly() && req.Units > 0 {
		ceiling := limits.Ceiling(req.Dimension)
		current, ok, err := l.usage.Increment(ctx, userID, req.Dimension, req.Units, ceiling)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve %s usage: %w", req.Dimension, err)
		}
		if !ok {
			l.metrics.QuotaRejected(string(req.Dimension))
			return nil, monthlyExceeded(req.Dimension, current, ceiling)
		}
		adm.monthly = true
	}

	now := l.now()
	adm.bucket = now.Truncate(l.windowSize)
	wl := WindowLimits{Requests: limits.RequestsPerMinute, Tokens: limits.TokensPerMinute}

	before, ok, err := l.window.Reserve(ctx, windowKey(userID, req.Dimension), adm.bucket, req.Tokens, wl)
	if err != nil {
		l.rollback(ctx, userID, req, adm.bucket, adm.monthly, false)
		return nil, fmt.Errorf("failed to reserve rate window: %w", err)
	}
	if !ok {
		l.rollback(ctx, userID, req, adm.bucket, adm.monthly, false)
		retryAfter := adm.bucket.Add(l.windowSize).Sub(now)
		if before.Requests >= wl.Requests {
			l.metrics.QuotaRejected("requests_per_minute")
			return nil, &domain.QuotaExceededError{
				Dimension:  "requests_per_minute",
				Current:    float64(before.Requests),
				Ceiling:    float64(wl.Requests),
				RetryAfter: retryAfter,
			}
		}
		l.metrics.QuotaRejected("tokens_per_minute")
		return nil, &domain.QuotaExceededError{
			Dimension:  "tokens_per_minute",
			Current:    float64(before.Tokens + req.Tokens),
			Ceiling:    float64(wl.Tokens),
			RetryAfter: retryAfter,
		}
	}

	return adm, nil
}

// CheckLimit reports whether amount more of dim, in counter units, would be
// admitted now without reserving anything. The per-minute window is checked
// against the amount's token-equivalent.
func (l *Ledger) CheckLimit(ctx context.Context, userID uuid.UUID, dim domain.Dimension, amount int64) error {
	if amount < 0 {
		return domain.NewValidationError("amount", "must not be negative")
	}

	state, err := l.state(ctx, userID)
	if err != nil {
		return err
	}
	limits := l.plans.For(state.Plan)

	if dim.Monthly() {
		ceiling := limits.Ceiling(dim)
		if current := state.Counter(dim); current+amount > ceiling {
			return monthlyExceeded(dim, current, ceiling)
		}
	}

	now := l.now()
	bucket := now.Truncate(l.windowSize)
	tokens := UnitTokens(dim, amount)
	u, err := l.window.Peek(ctx, windowKey(userID, dim), bucket)
	if err != nil {
		return fmt.Errorf("failed to read rate window: %w", err)
	}
	wl := WindowLimits{Requests: limits.RequestsPerMinute, Tokens: limits.TokensPerMinute}
	retryAfter := bucket.Add(l.windowSize).Sub(now)
	if u.Requests >= wl.Requests {
		return &domain.QuotaExceededError{Dimension: "requests_per_minute", Current: float64(u.Requests), Ceiling: float64(wl.Requests), RetryAfter: retryAfter}
	}
	if u.Tokens+tokens > wl.Tokens {
		return &domain.QuotaExceededError{Dimension: "tokens_per_minute", Current: float64(u.Tokens + tokens), Ceiling: float64(wl.Tokens), RetryAfter: retryAfter}
	}
	return nil
}

// RecordUsage charges amount of dim without checking ceilings. It never
// fails; errors are logged.
func (l *Ledger) RecordUsage(ctx context.Context, userID uuid.UUID, dim domain.Dimension, amount int64) {
	logger := log.With().Str("user_id", userID.String()).Str("dimension", string(dim)).Logger()

	if _, err := l.state(ctx, userID); err != nil {
		logger.Warn().Err(err).Msg("Failed to record usage")
		return
	}

	if dim.Monthly() && amount > 0 {
		if _, _, err := l.usage.Increment(ctx, userID, dim, amount, math.MaxInt64); err != nil {
			logger.Warn().Err(err).Msg("Failed to record usage")
			return
		}
	}

	tokens := UnitTokens(dim, amount)
	bucket := l.now().Truncate(l.windowSize)
	unbounded := WindowLimits{Requests: math.MaxInt64, Tokens: math.MaxInt64}
	if _, _, err := l.window.Reserve(ctx, windowKey(userID, dim), bucket, tokens, unbounded); err != nil {
		logger.Warn().Err(err).Msg("Failed to record rate window usage")
	}

	if dim.Monthly() {
		record := &domain.UsageRecord{
			ID:        uuid.New(),
			UserID:    userID,
			Dimension: dim,
			Amount:    amount,
			Tokens:    tokens,
			CreatedAt: l.now(),
		}
		if err := l.usage.AppendHistory(ctx, record); err != nil {
			logger.Warn().Err(err).Msg("Failed to record usage history")
		}
	}
}

// Summary is the usage report returned to clients.
type Summary struct {
	Plan      domain.Plan `json:"plan"`
	Limits    Limits      `json:"limits"`
	Current   Counters    `json:"current"`
	Remaining Counters    `json:"remaining"`
	LastReset time.Time   `json:"last_reset"`
}

// Counters are per-dimension amounts in user-facing units.
type Counters struct {
	Interactions int64   `json:"interactions"`
	AudioMinutes float64 `json:"audio_minutes"`
	Searches     int64   `json:"searches"`
}

// Summary returns plan, limits, current counters and what remains.
func (l *Ledger) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	state, err := l.state(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := l.plans.For(state.Plan)
	current := Counters{
		Interactions: state.InteractionCount,
		AudioMinutes: float64(state.AudioMillis) / MillisPerMinute,
		Searches:     state.SearchCount,
	}
	return &Summary{
		Plan:    state.Plan,
		Limits:  limits,
		Current: current,
		Remaining: Counters{
			Interactions: max(0, limits.InteractionsPerMonth-current.Interactions),
			AudioMinutes: math.Max(0, float64(limits.AudioMinutesPerMonth)-current.AudioMinutes),
			Searches:     max(0, limits.SearchesPerMonth-current.Searches),
		},
		LastReset: state.LastReset,
	}, nil
}

// state loads the user's counters, applying the lazy monthly reset.
func (l *Ledger) state(ctx context.Context, userID uuid.UUID) (*domain.UsageState, error) {
	state, err := l.usage.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}

	now := l.now().UTC()
	last := state.LastReset.UTC()
	if last.Year() == now.Year() && last.Month() == now.Month() {
		return state, nil
	}

	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	reset, err := l.usage.ResetMonthly(ctx, userID, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reset monthly usage: %w", err)
	}
	if reset {
		log.Info().Str("user_id", userID.String()).Msg("Monthly usage reset")
	}

	// Reload even when another caller won the reset.
	state, err = l.usage.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage: %w", err)
	}
	return state, nil
}

func (l *Ledger) rollback(ctx context.Context, userID uuid.UUID, req Request, bucket time.Time, monthly, window bool) {
	if monthly {
		if err := l.usage.Decrement(ctx, userID, req.Dimension, req.Units); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to release monthly usage")
		}
	}
	if window {
		if err := l.window.Release(ctx, windowKey(userID, req.Dimension), bucket, req.Tokens); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to release rate window")
		}
	}
}

func windowKey(userID uuid.UUID, d domain.Dimension) string {
	return userID.String() + ":" + string(d)
}

func monthlyExceeded(d domain.Dimension, current, ceiling int64) *domain.QuotaExceededError {
	if d == domain.DimensionAudio {
		return &domain.QuotaExceededError{
			Dimension: string(d),
			Current:   float64(current) / MillisPerMinute,
			Ceiling:   float64(ceiling) / MillisPerMinute,
			Unit:      "minutes",
		}
	}
	return &domain.QuotaExceededError{
		Dimension: string(d),
		Current:   float64(current),
		Ceiling:   float64(ceiling),
	}
}
