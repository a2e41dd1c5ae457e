package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestProvider_Probe(t *testing.T) {
	tests := []struct {
		name      string
		apiKey    string
		countErr  error
		reachable bool
	}{
		{"ok", "key", nil, true},
		{"rejected key", "key", errors.New("API key not valid. Please pass a valid API key."), false},
		{"not configured", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(config.LiveConfig{APIKey: tt.apiKey})
			var gotModel string
			p.count = func(_ context.Context, model string) (int32, error) {
				gotModel = model
				return 1, tt.countErr
			}

			status := p.Probe(context.Background())
			assert.Equal(t, "gemini", status.Provider)
			assert.Equal(t, tt.reachable, status.Reachable)
			assert.Equal(t, tt.apiKey != "", status.Configured)
			assert.False(t, status.CheckedAt.IsZero())
			if tt.apiKey != "" {
				assert.Equal(t, defaultModel, gotModel)
			}
			if !tt.reachable {
				assert.NotEmpty(t, status.Error)
			}
		})
	}
}
