package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", domain.NewValidationError("text", "must not be empty"), http.StatusBadRequest, "text: must not be empty"},
		{"mismatch", domain.ErrSessionMismatch, http.StatusForbidden, domain.ErrSessionMismatch.Message},
		{"not found", domain.ErrSessionNotFound, http.StatusNotFound, domain.ErrSessionNotFound.Message},
		{"suppressed", domain.ErrInitSuppressed, http.StatusConflict, domain.ErrInitSuppressed.Message},
		{"reconnecting", domain.ErrReconnecting, http.StatusServiceUnavailable, domain.ErrReconnecting.Message},
		{"wrapped send failure", fmt.Errorf("%w: broken pipe", domain.ErrSendFailed), http.StatusInternalServerError, domain.ErrSendFailed.Message},
		{"unclassified", errors.New("pq: connection refused"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body struct {
				Success bool   `json:"success"`
				Error   string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.message, body.Error)
		})
	}
}

func TestWriteError_Quota(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodPost, "/", nil), &domain.QuotaExceededError{
		Dimension:  "tokens_per_minute",
		Current:    1200,
		Ceiling:    1000,
		RetryAfter: 1500 * time.Millisecond,
	})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body struct {
		Error quotaBody `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "tokens_per_minute", body.Error.Dimension)
	assert.Equal(t, float64(1000), body.Error.Ceiling)
	assert.Equal(t, int64(2), body.Error.RetryAfter)
}

func TestFeature(t *testing.T) {
	tests := []struct {
		name  string
		dim   domain.Dimension
		scale int64
		ok    bool
	}{
		{"SCREEN_QA", domain.DimensionInteraction, 1, true},
		{"audio_minutes", domain.DimensionAudio, 60_000, true},
		{"AUDIO", domain.DimensionAudio, 1000, true},
		{"WEB_QUERIES", domain.DimensionSearch, 1, true},
		{"search", domain.DimensionSearch, 1, true},
		{"session", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dim, scale, ok := feature(tt.name)
			assert.Equal(t, tt.dim, dim)
			assert.Equal(t, tt.scale, scale)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
