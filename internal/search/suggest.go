package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rrens/live-assist/internal/config"
	"github.com/sashabaranov/go-openai"
)

// OpenAISuggester asks an OpenAI-compatible endpoint for follow-up queries.
type OpenAISuggester struct {
	client *openai.Client
	model  string
}

// NewSuggester points a go-openai client at the search API.
func NewSuggester(cfg config.SearchConfig) *OpenAISuggester {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAISuggester{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.SuggestionModel,
	}
}

func (s *OpenAISuggester) Suggest(ctx context.Context, query string) ([]string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Generate 3 related follow-up questions that would provide additional useful information about the topic. Return only the questions, one per line, without numbering.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Original query: %q\n\nGenerate 3 related follow-up questions:", query),
			},
		},
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return splitSuggestions(resp.Choices[0].Message.Content), nil
}

func splitSuggestions(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
