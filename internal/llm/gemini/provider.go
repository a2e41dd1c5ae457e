package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/Rrens/live-assist/internal/live"
	"github.com/Rrens/live-assist/internal/llm"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const defaultModel = "gemini-1.5-flash"

// Provider probes the Gemini REST API with the key used for live sessions.
type Provider struct {
	apiKey string
	model  string
	count  func(ctx context.Context, model string) (int32, error)
}

func NewProvider(cfg config.LiveConfig) *Provider {
	p := &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.ProbeModel,
	}
	p.count = p.countTokens
	return p
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return defaultModel
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

// Probe counts the tokens of a short prompt, which needs a valid key but
// generates nothing.
func (p *Provider) Probe(ctx context.Context) llm.Status {
	status := llm.Status{
		Provider:   p.Name(),
		Model:      p.DefaultModel(),
		Configured: p.IsConfigured(),
	}
	if !status.Configured {
		status.Error = "GEMINI_API_KEY is not configured"
		status.CheckedAt = time.Now()
		return status
	}

	start := time.Now()
	_, err := p.count(ctx, status.Model)
	status.LatencyMs = time.Since(start).Milliseconds()
	status.CheckedAt = time.Now()

	if err != nil {
		status.Error = err.Error()
		log.Warn().
			Err(err).
			Bool("credential_failure", live.IsCredentialFailure(err.Error())).
			Msg("Gemini probe failed")
		return status
	}
	status.Reachable = true
	return status
}

func (p *Provider) countTokens(ctx context.Context, model string) (int32, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return 0, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	resp, err := client.GenerativeModel(model).CountTokens(ctx, genai.Text("ping"))
	if err != nil {
		return 0, fmt.Errorf("gemini count tokens error: %w", err)
	}
	return resp.TotalTokens, nil
}
