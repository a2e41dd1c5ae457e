package live

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCredentialFailure(t *testing.T) {
	tests := []struct {
		reason string
		want   bool
	}{
		{"API key not valid. Please pass a valid API key.", true},
		{"request failed: invalid API key", true},
		{"Authentication failed for project", true},
		{"401 Unauthorized", true},
		{"connection reset by peer", false},
		{"deadline exceeded", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCredentialFailure(tt.reason))
		})
	}
}
