// Package search answers one-off web queries with citations. Each query is
// metered against the search quota of the ledger shared with live sessions.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/metrics"
	"github.com/Rrens/live-assist/internal/quota"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxQueryLength = 2000
	maxSuggestions        = 3
)

// Query is a search request
type Query struct {
	Query          string   `json:"query" validate:"required"`
	IncludeDomains []string `json:"include_domains,omitempty" validate:"max=20,dive,max=253"`
	ExcludeDomains []string `json:"exclude_domains,omitempty" validate:"max=20,dive,max=253"`
	IncludeImages  bool     `json:"include_images,omitempty"`
	Suggestions    bool     `json:"suggestions,omitempty"`
}

// Citation is one source backing an answer
type Citation struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Snippet       string `json:"snippet"`
	PublishedDate string `json:"published_date,omitempty"`
}

// Result is a formatted answer with its sources
type Result struct {
	Answer         string     `json:"answer"`
	Citations      []Citation `json:"citations"`
	Images         []string   `json:"images,omitempty"`
	RelatedQueries []string   `json:"related_queries,omitempty"`
	Tokens         int64      `json:"tokens"`
}

// Completion is the raw upstream answer before formatting.
type Completion struct {
	Answer    string
	Citations []Citation
	Images    []string
	Tokens    int64
}

// Provider performs the upstream search call.
type Provider interface {
	Complete(ctx context.Context, q Query) (*Completion, error)
}

// Suggester proposes follow-up queries.
type Suggester interface {
	Suggest(ctx context.Context, query string) ([]string, error)
}

// Cache stores formatted results by query fingerprint. Get returns nil, nil
// on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, error)
	Set(ctx context.Context, key string, r *Result) error
}

// Admitter is the quota check consulted before any upstream call.
type Admitter interface {
	Admit(ctx context.Context, userID uuid.UUID, req quota.Request) (*quota.Admission, error)
}

var (
	ErrEmptyQuery         = domain.NewValidationError("query", "Query cannot be empty")
	ErrProhibited         = domain.NewValidationError("query", "Query contains prohibited content")
	ErrNotConfigured      = &domain.Error{Kind: domain.KindFatal, Message: "PERPLEXITY_API_KEY is not configured"}
	ErrUpstreamRateLimit  = &domain.Error{Kind: domain.KindQuota, Message: "Rate limit exceeded. Please try again later."}
	ErrUpstreamAuth       = &domain.Error{Kind: domain.KindFatal, Message: "Invalid API key or unauthorized access."}
	ErrUpstreamBadRequest = &domain.Error{Kind: domain.KindValidation, Message: "Invalid query format or parameters."}
	ErrUpstream           = &domain.Error{Kind: domain.KindFatal, Message: "Failed to perform web search. Please try again."}
)

var bannedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)how to (hack|crack|break into)`),
	regexp.MustCompile(`(?i)illegal (download|streaming|drugs)`),
	regexp.MustCompile(`(?i)how to make (bombs|explosives|weapons)`),
}

// Validate rejects empty, oversized and prohibited queries.
func Validate(query string, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxQueryLength
	}
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > maxLen {
		return domain.NewValidationError("query", fmt.Sprintf("Query is too long (max %d characters)", maxLen))
	}
	for _, p := range bannedPatterns {
		if p.MatchString(query) {
			return ErrProhibited
		}
	}
	return nil
}

// Service runs searches
type Service struct {
	provider  Provider
	ledger    Admitter
	suggester Suggester
	cache     Cache
	metrics   *metrics.Metrics
	maxLen    int
}

// Option configures a Service
type Option func(*Service)

func WithSuggester(s Suggester) Option {
	return func(svc *Service) { svc.suggester = s }
}

func WithCache(c Cache) Option {
	return func(svc *Service) { svc.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithMaxQueryLength(n int) Option {
	return func(svc *Service) { svc.maxLen = n }
}

// NewService creates a new search service
func NewService(provider Provider, ledger Admitter, opts ...Option) *Service {
	s := &Service{provider: provider, ledger: ledger, maxLen: DefaultMaxQueryLength}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search validates q, admits it against the user's search quota and returns
// the formatted answer. Usage is committed only when an answer is returned.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, q Query) (*Result, error) {
	if err := Validate(q.Query, s.maxLen); err != nil {
		s.metrics.SearchRequest("invalid")
		return nil, err
	}
	q.Query = strings.TrimSpace(q.Query)

	adm, err := s.ledger.Admit(ctx, userID, quota.Request{
		Dimension: domain.DimensionSearch,
		Units:     1,
		Tokens:    quota.TextTokens(q.Query),
	})
	if err != nil {
		s.metrics.SearchRequest("rejected")
		return nil, err
	}

	key := fingerprint(q)
	if res := s.cached(ctx, key); res != nil {
		adm.Commit(ctx)
		s.metrics.SearchRequest("cached")
		return res, nil
	}

	c, err := s.provider.Complete(ctx, q)
	if err != nil {
		adm.Release(ctx)
		s.metrics.SearchRequest("failed")
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Web search failed")
		return nil, classify(err)
	}
	adm.Commit(ctx)

	res := &Result{
		Answer:    FormatAnswer(c.Answer, c.Citations),
		Citations: c.Citations,
		Images:    c.Images,
		Tokens:    c.Tokens,
	}
	if q.Suggestions && s.suggester != nil {
		res.RelatedQueries = s.suggest(ctx, q.Query)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res); err != nil {
			log.Warn().Err(err).Msg("Failed to cache search result")
		}
	}
	s.metrics.SearchRequest("ok")
	return res, nil
}

func (s *Service) cached(ctx context.Context, key string) *Result {
	if s.cache == nil {
		return nil
	}
	res, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read search cache")
		return nil
	}
	return res
}

// suggest never fails the search; errors yield no suggestions.
func (s *Service) suggest(ctx context.Context, query string) []string {
	out, err := s.suggester.Suggest(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to generate suggested queries")
		return nil
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

func classify(err error) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case 429:
			return ErrUpstreamRateLimit
		case 401, 403:
			return ErrUpstreamAuth
		case 400:
			return ErrUpstreamBadRequest
		}
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

// FormatAnswer appends a numbered Sources block when there are citations.
func FormatAnswer(answer string, citations []Citation) string {
	if len(citations) == 0 {
		return answer
	}
	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n**Sources:**\n")
	for i, c := range citations {
		fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, c.Title, c.URL)
		if c.PublishedDate != "" {
			fmt.Fprintf(&b, "   Published: %s\n", c.PublishedDate)
		}
	}
	return b.String()
}

// DomainFilter merges include and exclude lists into the upstream filter
// syntax, where excluded domains carry a leading '-'.
func DomainFilter(include, exclude []string) []string {
	var out []string
	for _, d := range include {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	for _, d := range exclude {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, "-"+d)
		}
	}
	return out
}

func fingerprint(q Query) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%t\x00%t",
		strings.ToLower(q.Query),
		strings.Join(q.IncludeDomains, ","),
		strings.Join(q.ExcludeDomains, ","),
		q.IncludeImages,
		q.Suggestions,
	)
	return hex.EncodeToString(h.Sum(nil))
}
