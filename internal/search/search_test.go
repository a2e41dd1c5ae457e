package search_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/Rrens/live-assist/internal/repository/memory"
	"github.com/Rrens/live-assist/internal/search"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLedger(plan domain.Plan, userID uuid.UUID) (*quota.Ledger, *memory.UsageRepository) {
	repo := memory.NewUsageRepository()
	repo.Seed(domain.UsageState{UserID: userID, Plan: plan, LastReset: time.Now()})
	return quota.NewLedger(repo, quota.NewMemoryWindow(), quota.DefaultPlans()), repo
}

func searches(t *testing.T, ledger *quota.Ledger, userID uuid.UUID) int64 {
	t.Helper()
	s, err := ledger.Summary(context.Background(), userID)
	require.NoError(t, err)
	return s.Current.Searches
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"ok", "latest Go release notes", false},
		{"empty", "", true},
		{"whitespace", "   \n", true},
		{"too long", strings.Repeat("a", 2001), true},
		{"exact limit", strings.Repeat("a", 2000), false},
		{"hacking", "How to hack my neighbour's wifi", true},
		{"downloads", "illegal download sites", true},
		{"weapons", "how to make explosives at home", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := search.Validate(tt.query, 0)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_ValidationBeforeQuota(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newLedger(domain.PlanPro, userID)
	provider := new(MockProvider)
	svc := search.NewService(provider, ledger)

	_, err := svc.Search(context.Background(), userID, search.Query{Query: "how to crack passwords"})
	require.ErrorIs(t, err, search.ErrProhibited)
	assert.Equal(t, int64(0), searches(t, ledger, userID))
	provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestService_FreePlanHasNoSearches(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newLedger(domain.PlanFree, userID)
	provider := new(MockProvider)
	svc := search.NewService(provider, ledger)

	_, err := svc.Search(context.Background(), userID, search.Query{Query: "weather in Jakarta"})
	var qe *domain.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, float64(0), qe.Ceiling)
	provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestService_Search(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newLedger(domain.PlanPro, userID)
	provider := new(MockProvider)
	suggester := new(MockSuggester)
	svc := search.NewService(provider, ledger, search.WithSuggester(suggester))
	ctx := context.Background()

	q := search.Query{Query: "  Go 1.25 release  ", Suggestions: true}
	provider.On("Complete", ctx, mock.MatchedBy(func(q search.Query) bool {
		return q.Query == "Go 1.25 release"
	})).Return(&search.Completion{
		Answer:    "Go 1.25 shipped in August.",
		Citations: []search.Citation{{Title: "Go Blog", URL: "https://go.dev/blog"}},
		Tokens:    120,
	}, nil)
	suggester.On("Suggest", ctx, "Go 1.25 release").Return([]string{"a?", "b?", "c?", "d?"}, nil)

	res, err := svc.Search(ctx, userID, q)
	require.NoError(t, err)
	assert.Equal(t, "Go 1.25 shipped in August.\n\n**Sources:**\n[1] Go Blog - https://go.dev/blog\n", res.Answer)
	assert.Equal(t, []string{"a?", "b?", "c?"}, res.RelatedQueries)
	assert.Equal(t, int64(120), res.Tokens)
	assert.Equal(t, int64(1), searches(t, ledger, userID))

	provider.AssertExpectations(t)
	suggester.AssertExpectations(t)
}

func TestService_UpstreamFailureReleasesQuota(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"rate limited", &search.StatusError{Status: 429}, search.ErrUpstreamRateLimit},
		{"unauthorized", &search.StatusError{Status: 401}, search.ErrUpstreamAuth},
		{"bad request", &search.StatusError{Status: 400}, search.ErrUpstreamBadRequest},
		{"network", errors.New("connection reset"), search.ErrUpstream},
		{"not configured", search.ErrNotConfigured, search.ErrNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := uuid.New()
			ledger, _ := newLedger(domain.PlanPro, userID)
			provider := new(MockProvider)
			provider.On("Complete", mock.Anything, mock.Anything).Return(nil, tt.err)
			svc := search.NewService(provider, ledger)

			_, err := svc.Search(context.Background(), userID, search.Query{Query: "anything"})
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(0), searches(t, ledger, userID))
		})
	}
}

func TestService_SuggestionFailureIsIgnored(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newLedger(domain.PlanPro, userID)
	provider := new(MockProvider)
	suggester := new(MockSuggester)
	provider.On("Complete", mock.Anything, mock.Anything).Return(&search.Completion{Answer: "ok"}, nil)
	suggester.On("Suggest", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
	svc := search.NewService(provider, ledger, search.WithSuggester(suggester))

	res, err := svc.Search(context.Background(), userID, search.Query{Query: "q", Suggestions: true})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Answer)
	assert.Empty(t, res.RelatedQueries)
}

func TestService_CacheHitSkipsProvider(t *testing.T) {
	userID := uuid.New()
	ledger, _ := newLedger(domain.PlanPro, userID)
	provider := new(MockProvider)
	cache := new(MockCache)
	cached := &search.Result{Answer: "from cache"}
	cache.On("Get", mock.Anything, mock.AnythingOfType("string")).Return(cached, nil)
	svc := search.NewService(provider, ledger, search.WithCache(cache))

	res, err := svc.Search(context.Background(), userID, search.Query{Query: "cached question"})
	require.NoError(t, err)
	assert.Same(t, cached, res)
	assert.Equal(t, int64(1), searches(t, ledger, userID), "cached answers still count")
	provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestFormatAnswer(t *testing.T) {
	assert.Equal(t, "plain", search.FormatAnswer("plain", nil))

	got := search.FormatAnswer("Answer", []search.Citation{
		{Title: "A", URL: "https://a.example", PublishedDate: "2026-01-02"},
		{Title: "B", URL: "https://b.example"},
	})
	want := "Answer\n\n**Sources:**\n" +
		"[1] A - https://a.example\n   Published: 2026-01-02\n" +
		"[2] B - https://b.example\n"
	assert.Equal(t, want, got)
}

func TestDomainFilter(t *testing.T) {
	assert.Equal(t,
		[]string{"go.dev", "-pinterest.com"},
		search.DomainFilter([]string{"go.dev", " "}, []string{"pinterest.com"}),
	)
	assert.Empty(t, search.DomainFilter(nil, nil))
}

func TestPerplexity_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer pplx-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "Answer [1]"}}],
			"citations": [
				"https://plain.example",
				{"title": "Rich", "url": "https://rich.example", "text": "snippet", "date": "2026-02-01"},
				{"title": "No URL"}
			],
			"images": ["https://img.example/1.png", {"image_url": "https://img.example/2.png"}],
			"usage": {"total_tokens": 321}
		}`))
	}))
	defer srv.Close()

	p := search.NewPerplexity(config.SearchConfig{
		APIKey:        "pplx-test",
		BaseURL:       srv.URL + "/",
		Model:         "sonar",
		MaxTokens:     4000,
		Temperature:   0.2,
		RecencyFilter: "month",
	})
	c, err := p.Complete(context.Background(), search.Query{
		Query:          "what's new",
		IncludeDomains: []string{"go.dev"},
		ExcludeDomains: []string{"spam.example"},
		IncludeImages:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "sonar", got["model"])
	assert.Equal(t, "month", got["search_recency_filter"])
	assert.Equal(t, true, got["return_citations"])
	assert.Equal(t, true, got["return_images"])
	assert.Equal(t, []interface{}{"go.dev", "-spam.example"}, got["search_domain_filter"])

	assert.Equal(t, "Answer [1]", c.Answer)
	assert.Equal(t, int64(321), c.Tokens)
	require.Len(t, c.Citations, 2)
	assert.Equal(t, search.Citation{Title: "Source 1", URL: "https://plain.example"}, c.Citations[0])
	assert.Equal(t, search.Citation{Title: "Rich", URL: "https://rich.example", Snippet: "snippet", PublishedDate: "2026-02-01"}, c.Citations[1])
	assert.Equal(t, []string{"https://img.example/1.png", "https://img.example/2.png"}, c.Images)
}

func TestPerplexity_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := search.NewPerplexity(config.SearchConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), search.Query{Query: "q"})
	var se *search.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
}

func TestPerplexity_MissingKey(t *testing.T) {
	p := search.NewPerplexity(config.SearchConfig{})
	_, err := p.Complete(context.Background(), search.Query{Query: "q"})
	assert.ErrorIs(t, err, search.ErrNotConfigured)
}
