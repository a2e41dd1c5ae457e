package quota

import (
	"strings"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/domain"
)

// Limits are the static ceilings of one plan tier.
type Limits struct {
	InteractionsPerMonth int64 `json:"interactions_per_month"`
	AudioMinutesPerMonth int64 `json:"audio_minutes_per_month"`
	SearchesPerMonth     int64 `json:"searches_per_month"`
	TokensPerMinute      int64 `json:"tokens_per_minute"`
	RequestsPerMinute    int64 `json:"requests_per_minute"`
}

// Ceiling returns the monthly ceiling for d in counter units. Audio is
// counted in milliseconds.
func (l Limits) Ceiling(d domain.Dimension) int64 {
	switch d {
	case domain.DimensionInteraction:
		return l.InteractionsPerMonth
	case domain.DimensionAudio:
		return l.AudioMinutesPerMonth * MillisPerMinute
	case domain.DimensionSearch:
		return l.SearchesPerMonth
	}
	return 0
}

// Plans maps a tier to its limits.
type Plans map[domain.Plan]Limits

// DefaultPlans returns the built-in tiers.
func DefaultPlans() Plans {
	return Plans{
		domain.PlanFree:  {InteractionsPerMonth: 10, AudioMinutesPerMonth: 20, SearchesPerMonth: 0, TokensPerMinute: 1000, RequestsPerMinute: 10},
		domain.PlanBasic: {InteractionsPerMonth: 100, AudioMinutesPerMonth: 200, SearchesPerMonth: 50, TokensPerMinute: 5000, RequestsPerMinute: 50},
		domain.PlanPro:   {InteractionsPerMonth: 900, AudioMinutesPerMonth: 600, SearchesPerMonth: 100, TokensPerMinute: 10000, RequestsPerMinute: 100},
	}
}

// NewPlans builds plans from configuration, keeping defaults for tiers the
// configuration does not mention.
func NewPlans(cfg config.QuotaConfig) Plans {
	plans := DefaultPlans()
	for name, l := range cfg.Plans {
		plans[domain.Plan(strings.ToUpper(name))] = Limits{
			InteractionsPerMonth: l.InteractionsPerMonth,
			AudioMinutesPerMonth: l.AudioMinutesPerMonth,
			SearchesPerMonth:     l.SearchesPerMonth,
			TokensPerMinute:      l.TokensPerMinute,
			RequestsPerMinute:    l.RequestsPerMinute,
		}
	}
	return plans
}

// For returns the limits of plan. Unknown tiers get the FREE limits.
func (p Plans) For(plan domain.Plan) Limits {
	if l, ok := p[plan]; ok {
		return l
	}
	return p[domain.PlanFree]
}
