package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Rrens/live-assist/internal/api/middleware"
	"github.com/Rrens/live-assist/internal/security"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAuthenticate(t *testing.T) {
	jwtManager := security.NewJWTManager("test-secret-key-with-32-chars!!", time.Minute, time.Hour)
	userID := uuid.New()
	access, refresh, _, err := jwtManager.GenerateTokenPair(userID, "a@example.com", "FREE")
	assert.NoError(t, err)

	var seen uuid.UUID
	h := middleware.NewAuthMiddleware(jwtManager).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = middleware.GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		ws     bool
		want   int
	}{
		{"bearer", "Bearer " + access, "", false, http.StatusNoContent},
		{"lowercase scheme", "bearer " + access, "", false, http.StatusNoContent},
		{"missing", "", "", false, http.StatusUnauthorized},
		{"wrong scheme", "Basic " + access, "", false, http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, "", false, http.StatusUnauthorized},
		{"query on websocket", "", access, true, http.StatusNoContent},
		{"query without upgrade", "", access, false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = uuid.Nil
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.query != "" {
				req.URL.RawQuery = "access_token=" + tt.query
			}
			if tt.ws {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, userID, seen)
			}
		})
	}
}

func TestLogger_PassesThrough(t *testing.T) {
	h := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
