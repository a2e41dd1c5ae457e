package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/live-assist/internal/config"
)

const systemPrompt = `You are a research assistant that provides accurate, well-researched answers with proper citations.

INSTRUCTIONS:
- Provide comprehensive, factual answers based on the most recent and reliable sources
- Include specific details, numbers, dates, and facts when available
- Structure your response with clear sections if the query is complex
- Always cite your sources with [number] format
- Focus on authoritative sources like news outlets, official websites, research papers
- If information is conflicting between sources, mention this and explain the differences
- For recent events, prioritize the most up-to-date information
- Keep the tone professional and informative

FORMAT:
- Start with a direct answer to the question
- Provide supporting details with citations
- End with additional context if relevant`

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("perplexity returned status %d: %s", e.Status, e.Body)
}

// Perplexity calls the chat completions endpoint of the Perplexity API.
type Perplexity struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	recency     string
	httpClient  *http.Client
}

// NewPerplexity creates a client from search configuration
func NewPerplexity(cfg config.SearchConfig) *Perplexity {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Perplexity{
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		recency:     cfg.RecencyFilter,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model              string        `json:"model"`
	Messages           []chatMessage `json:"messages"`
	MaxTokens          int           `json:"max_tokens,omitempty"`
	Temperature        float32       `json:"temperature"`
	SearchDomainFilter []string      `json:"search_domain_filter,omitempty"`
	ReturnCitations    bool          `json:"return_citations"`
	ReturnImages       bool          `json:"return_images"`
	SearchRecency      string        `json:"search_recency_filter,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Citations []json.RawMessage `json:"citations"`
	Images    []json.RawMessage `json:"images"`
	Usage     struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

type rawCitation struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	Text          string `json:"text"`
	Snippet       string `json:"snippet"`
	PublishedDate string `json:"published_date"`
	Date          string `json:"date"`
}

// Complete runs one search-grounded completion.
func (p *Perplexity) Complete(ctx context.Context, q Query) (*Completion, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: q.Query},
		},
		MaxTokens:          p.maxTokens,
		Temperature:        p.temperature,
		SearchDomainFilter: DomainFilter(q.IncludeDomains, q.ExcludeDomains),
		ReturnCitations:    true,
		ReturnImages:       q.IncludeImages,
		SearchRecency:      p.recency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call perplexity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	answer := "No answer available"
	if len(out.Choices) > 0 && out.Choices[0].Message.Content != "" {
		answer = out.Choices[0].Message.Content
	}
	return &Completion{
		Answer:    answer,
		Citations: extractCitations(out.Citations),
		Images:    extractImages(out.Images),
		Tokens:    out.Usage.TotalTokens,
	}, nil
}

// extractCitations accepts both bare URL strings and citation objects;
// entries without a URL are dropped.
func extractCitations(raw []json.RawMessage) []Citation {
	out := make([]Citation, 0, len(raw))
	for i, r := range raw {
		title := fmt.Sprintf("Source %d", i+1)

		var url string
		if json.Unmarshal(r, &url) == nil {
			if url != "" {
				out = append(out, Citation{Title: title, URL: url})
			}
			continue
		}

		var c rawCitation
		if json.Unmarshal(r, &c) != nil || c.URL == "" {
			continue
		}
		if c.Title != "" {
			title = c.Title
		}
		snippet := c.Text
		if snippet == "" {
			snippet = c.Snippet
		}
		published := c.PublishedDate
		if published == "" {
			published = c.Date
		}
		out = append(out, Citation{Title: title, URL: c.URL, Snippet: snippet, PublishedDate: published})
	}
	return out
}

func extractImages(raw []json.RawMessage) []string {
	var out []string
	for _, r := range raw {
		var url string
		if json.Unmarshal(r, &url) == nil {
			if url != "" {
				out = append(out, url)
			}
			continue
		}
		var img struct {
			ImageURL string `json:"image_url"`
		}
		if json.Unmarshal(r, &img) == nil && img.ImageURL != "" {
			out = append(out, img.ImageURL)
		}
	}
	return out
}
