package quota_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/Rrens/live-assist/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLedger(t *testing.T, plans quota.Plans) (*quota.Ledger, *memory.UsageRepository, *quota.MemoryWindow, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, time.March, 15, 10, 0, 5, 0, time.UTC)}
	repo := memory.NewUsageRepository()
	window := quota.NewMemoryWindow()
	if plans == nil {
		plans = quota.DefaultPlans()
	}
	return quota.NewLedger(repo, window, plans, quota.WithClock(clock.Now)), repo, window, clock
}

func seedFree(repo *memory.UsageRepository, userID uuid.UUID, last time.Time) {
	repo.Seed(domain.UsageState{UserID: userID, Plan: domain.PlanFree, LastReset: last})
}

func TestLedger_TenInteractionsThenExceeded(t *testing.T) {
	ledger, repo, _, clock := newTestLedger(t, nil)
	ctx := context.Background()
	userID := uuid.New()
	seedFree(repo, userID, clock.Now())

	for i := 0; i < 10; i++ {
		adm, err := ledger.Admit(ctx, userID, quota.Request{
			Dimension: domain.DimensionInteraction,
			Units:     1,
			Tokens:    quota.TextTokens("what is the time complexity of quicksort?"),
		})
		require.NoError(t, err, "input %d", i+1)
		adm.Commit(ctx)
	}

	summary, err := ledger.Summary(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), summary.Current.Interactions)
	assert.Equal(t, int64(0), summary.Remaining.Interactions)

	_, err = ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 1})
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, string(domain.DimensionInteraction), qe.Dimension)
	assert.Equal(t, float64(10), qe.Current)
	assert.Equal(t, float64(10), qe.Ceiling)
	assert.Equal(t, domain.KindQuota, domain.KindOf(err))

	assert.Len(t, repo.History(), 10)
}

func TestLedger_AudioChunksChargeRealDuration(t *testing.T) {
	ledger, repo, _, clock := newTestLedger(t, nil)
	ctx := context.Background()
	userID := uuid.New()
	repo.Seed(domain.UsageState{UserID: userID, Plan: domain.PlanPro, LastReset: clock.Now()})

	// 50 chunks of 100ms at 24kHz mono.
	for i := 0; i < 50; i++ {
		adm, err := ledger.Admit(ctx, userID, quota.Request{
			Dimension: domain.DimensionAudio,
			Units:     quota.AudioMillis(4800, 24000, 1),
			Tokens:    quota.AudioTokens(4800, 24000, 1),
		})
		require.NoError(t, err, "chunk %d", i+1)
		adm.Commit(ctx)
	}

	state, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), state.AudioMillis)

	summary, err := ledger.Summary(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 5.0/60, summary.Current.AudioMinutes, 1e-9)
}

func TestLedger_MonthlyResetOnce(t *testing.T) {
	ledger, repo, _, clock := newTestLedger(t, nil)
	ctx := context.Background()
	userID := uuid.New()
	repo.Seed(domain.UsageState{
		UserID:           userID,
		Plan:             domain.PlanFree,
		InteractionCount: 9,
		AudioMillis:      600_000,
		SearchCount:      3,
		LastReset:        time.Date(2025, time.November, 20, 0, 0, 0, 0, time.UTC),
	})

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ledger.CheckLimit(ctx, userID, domain.DimensionInteraction, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, repo.Resets())

	state, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, state.InteractionCount)
	assert.Zero(t, state.AudioMillis)
	assert.Zero(t, state.SearchCount)
	assert.Equal(t, clock.Now().Month(), state.LastReset.Month())
	assert.Equal(t, clock.Now().Year(), state.LastReset.Year())

	// Same month again: no further reset.
	require.NoError(t, ledger.CheckLimit(ctx, userID, domain.DimensionInteraction, 1))
	assert.Equal(t, 1, repo.Resets())
}

func TestLedger_ReleaseRollsBack(t *testing.T) {
	ledger, repo, window, clock := newTestLedger(t, nil)
	ctx := context.Background()
	userID := uuid.New()
	seedFree(repo, userID, clock.Now())

	adm, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 40})
	require.NoError(t, err)
	adm.Release(ctx)
	// Commit after release is a no-op.
	adm.Commit(ctx)

	state, err := repo.Get(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, state.InteractionCount)
	assert.Empty(t, repo.History())

	u, err := window.Peek(ctx, userID.String()+":interaction", clock.Now().Truncate(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, quota.WindowUsage{}, u)
}

func TestLedger_RequestsPerMinute(t *testing.T) {
	plans := quota.Plans{domain.PlanFree: {InteractionsPerMonth: 100, TokensPerMinute: 1000, RequestsPerMinute: 2}}
	ledger, repo, _, clock := newTestLedger(t, plans)
	ctx := context.Background()
	userID := uuid.New()
	seedFree(repo, userID, clock.Now())

	req := quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 1}
	for i := 0; i < 2; i++ {
		_, err := ledger.Admit(ctx, userID, req)
		require.NoError(t, err)
	}

	_, err := ledger.Admit(ctx, userID, req)
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "requests_per_minute", qe.Dimension)
	assert.Equal(t, float64(2), qe.Current)
	assert.Equal(t, 55*time.Second, qe.RetryAfter)

	// The rejected request did not keep its monthly unit.
	state, _ := repo.Get(ctx, userID)
	assert.Equal(t, int64(2), state.InteractionCount)

	clock.Advance(time.Minute)
	_, err = ledger.Admit(ctx, userID, req)
	assert.NoError(t, err)
}

func TestLedger_TokensPerMinute(t *testing.T) {
	plans := quota.Plans{domain.PlanFree: {InteractionsPerMonth: 100, TokensPerMinute: 100, RequestsPerMinute: 10}}
	ledger, repo, _, clock := newTestLedger(t, plans)
	ctx := context.Background()
	userID := uuid.New()
	seedFree(repo, userID, clock.Now())

	_, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 60})
	require.NoError(t, err)

	_, err = ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 50})
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "tokens_per_minute", qe.Dimension)
	assert.Equal(t, float64(110), qe.Current)
	assert.Equal(t, float64(100), qe.Ceiling)

	// Exactly at the ceiling is allowed.
	_, err = ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 40})
	assert.NoError(t, err)
}

func TestLedger_ConcurrentAdmitsRespectWindow(t *testing.T) {
	plans := quota.Plans{domain.PlanFree: {InteractionsPerMonth: 1000, TokensPerMinute: 100000, RequestsPerMinute: 5}}
	ledger, repo, _, clock := newTestLedger(t, plans)
	ctx := context.Background()
	userID := uuid.New()
	seedFree(repo, userID, clock.Now())

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionInteraction, Units: 1, Tokens: 1}); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), admitted.Load())
	state, _ := repo.Get(ctx, userID)
	assert.Equal(t, int64(5), state.InteractionCount)
}

func TestLedger_Dimensions(t *testing.T) {
	ledger, repo, _, clock := newTestLedger(t, nil)
	ctx := context.Background()

	t.Run("search disabled on free plan", func(t *testing.T) {
		userID := uuid.New()
		seedFree(repo, userID, clock.Now())

		_, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionSearch, Units: 1, Tokens: 1})
		var qe *domain.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, float64(0), qe.Ceiling)
	})

	t.Run("audio reported in minutes", func(t *testing.T) {
		userID := uuid.New()
		repo.Seed(domain.UsageState{UserID: userID, Plan: domain.PlanFree, AudioMillis: 20*quota.MillisPerMinute - 1, LastReset: clock.Now()})

		_, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionAudio, Units: 2, Tokens: 1})
		var qe *domain.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, "minutes", qe.Unit)
		assert.Equal(t, float64(20), qe.Ceiling)
		assert.Contains(t, err.Error(), "minutes")
	})

	t.Run("session admission is window only", func(t *testing.T) {
		userID := uuid.New()
		seedFree(repo, userID, clock.Now())

		adm, err := ledger.Admit(ctx, userID, quota.Request{Dimension: domain.DimensionSession, Units: 1, Tokens: 1})
		require.NoError(t, err)
		adm.Commit(ctx)

		state, _ := repo.Get(ctx, userID)
		assert.Zero(t, state.InteractionCount)
	})

	t.Run("unknown plan uses free limits", func(t *testing.T) {
		userID := uuid.New()
		repo.Seed(domain.UsageState{UserID: userID, Plan: "ENTERPRISE", InteractionCount: 10, LastReset: clock.Now()})

		err := ledger.CheckLimit(ctx, userID, domain.DimensionInteraction, 1)
		var qe *domain.QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, float64(10), qe.Ceiling)
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := ledger.Admit(ctx, uuid.New(), quota.Request{Dimension: domain.DimensionInteraction, Units: -1})
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})
}

func TestLedger_RecordUsage(t *testing.T) {
	t.Run("charges counters", func(t *testing.T) {
		ledger, repo, _, clock := newTestLedger(t, nil)
		ctx := context.Background()
		userID := uuid.New()
		seedFree(repo, userID, clock.Now())

		ledger.RecordUsage(ctx, userID, domain.DimensionAudio, 90_000)

		summary, err := ledger.Summary(ctx, userID)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, summary.Current.AudioMinutes, 0.001)
		assert.InDelta(t, 18.5, summary.Remaining.AudioMinutes, 0.001)
		assert.Len(t, repo.History(), 1)
	})

	t.Run("store failure is swallowed", func(t *testing.T) {
		repo := new(MockUsageRepository)
		ledger := quota.NewLedger(repo, quota.NewMemoryWindow(), quota.DefaultPlans())
		ctx := context.Background()
		userID := uuid.New()

		repo.On("Get", ctx, userID).Return(nil, errors.New("connection refused"))

		assert.NotPanics(t, func() {
			ledger.RecordUsage(ctx, userID, domain.DimensionInteraction, 1)
		})
		repo.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMemoryWindow_Prune(t *testing.T) {
	w := quota.NewMemoryWindow()
	ctx := context.Background()
	old := time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)
	recent := old.Add(2 * time.Hour)
	limits := quota.WindowLimits{Requests: 10, Tokens: 10}

	_, _, _ = w.Reserve(ctx, "a", old, 1, limits)
	_, _, _ = w.Reserve(ctx, "a", recent, 1, limits)

	assert.Equal(t, 1, w.Prune(recent.Add(-time.Hour)))
	u, _ := w.Peek(ctx, "a", recent)
	assert.Equal(t, int64(1), u.Requests)
}
