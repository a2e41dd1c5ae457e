package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Rrens/live-assist/internal/api/response"
	"github.com/Rrens/live-assist/internal/domain"
	"github.com/Rrens/live-assist/internal/quota"
)

// UsageHandler reports and checks quota usage
type UsageHandler struct {
	ledger *quota.Ledger
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(ledger *quota.Ledger) *UsageHandler {
	return &UsageHandler{ledger: ledger}
}

// Summary returns the user's plan, limits and counters
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.ledger.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response.OK(w, summary)
}

type checkInput struct {
	Feature string `json:"feature" validate:"required,max=32"`
	Amount  int64  `json:"amount" validate:"omitempty,min=1"`
}

// feature maps a client feature name to its dimension and the multiplier
// from client units to ledger units. AUDIO_MINUTES is asked for in minutes
// and AUDIO in seconds; the ledger counts audio in milliseconds.
func feature(name string) (domain.Dimension, int64, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "SCREEN_QA", "INTERACTION":
		return domain.DimensionInteraction, 1, true
	case "AUDIO_MINUTES":
		return domain.DimensionAudio, quota.MillisPerMinute, true
	case "AUDIO":
		return domain.DimensionAudio, 1000, true
	case "WEB_QUERIES", "SEARCH":
		return domain.DimensionSearch, 1, true
	}
	return "", 0, false
}

// Check reports whether amount more units of a feature would be admitted.
// Nothing is recorded.
func (h *UsageHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var input checkInput
	if !decode(w, r, &input) {
		return
	}
	dim, scale, known := feature(input.Feature)
	if !known {
		response.BadRequest(w, map[string]string{"Feature": "unknown feature " + input.Feature})
		return
	}
	amount := input.Amount
	if amount == 0 {
		amount = 1
	}

	err := h.ledger.CheckLimit(r.Context(), userID, dim, amount*scale)
	var qe *domain.QuotaExceededError
	switch {
	case err == nil:
		response.OK(w, map[string]any{"allowed": true, "dimension": dim})
	case errors.As(err, &qe):
		response.OK(w, map[string]any{
			"allowed":   false,
			"dimension": dim,
			"reason":    qe.Error(),
			"current":   qe.Current,
			"ceiling":   qe.Ceiling,
		})
	default:
		writeError(w, r, err)
	}
}
