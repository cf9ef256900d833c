package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultHTTPTimeout    = 60 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// Config captures the settings needed to reach the chat API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// Client talks to a chat completion endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	sleeper   func(time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts sets the total number of attempts per request.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) { c.attempts = attempts }
}

// WithRetryBackoff sets the first retry delay and the delay cap.
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

// WithSleeper replaces the retry sleep, for tests.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) { c.sleeper = sleeper }
}

// NewClient constructs a client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient: &http.Client{Timeout: timeout},
		attempts:   defaultRetryAttempts,
		baseDelay:  defaultRetryBaseDelay,
		maxDelay:   defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = defaultBaseURL
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Complete issues a plain-text chat completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req, err := c.newRequest("llm complete", systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return c.completeWithRetry(ctx, req, "llm complete")
}

// CompleteJSON issues a completion that must answer with a JSON object and
// returns the raw payload.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req, err := c.newRequest("llm complete json", systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	req.ResponseFormat = map[string]string{"type": "json_object"}
	return c.completeWithRetry(ctx, req, "llm complete json")
}

func (c *Client) newRequest(op, systemPrompt, userPrompt string) (chatRequest, error) {
	systemPrompt = strings.TrimSpace(systemPrompt)
	userPrompt = strings.TrimSpace(userPrompt)
	switch {
	case systemPrompt == "":
		return chatRequest{}, fmt.Errorf("%s: system prompt required", op)
	case userPrompt == "":
		return chatRequest{}, fmt.Errorf("%s: user prompt required", op)
	case c.cfg.APIKey == "":
		return chatRequest{}, fmt.Errorf("%s: api key required", op)
	}
	return chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}, nil
}

// Translate renders transcript into target, a language name or code.
func (c *Client) Translate(ctx context.Context, transcript, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("llm translate: target language required")
	}
	if strings.TrimSpace(transcript) == "" {
		return "", errors.New("llm translate: transcript is empty")
	}
	return c.Complete(ctx, fmt.Sprintf(translationPrompt, target), transcript)
}

// Summary is the structured reply of Summarize.
type Summary struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Raw      string   `json:"-"`
}

// Summarize condenses transcript into a short summary written in language.
func (c *Client) Summarize(ctx context.Context, transcript, language string) (Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return Summary{}, errors.New("llm summarize: transcript is empty")
	}
	if strings.TrimSpace(language) == "" {
		language = "English"
	}
	content, err := c.CompleteJSON(ctx, fmt.Sprintf(summaryPrompt, language), transcript)
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	if err := DecodeLLMJSON(content, &out); err != nil {
		return Summary{}, fmt.Errorf("llm summarize: parse payload: %w", err)
	}
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" {
		return Summary{}, errors.New("llm summarize: reply has no summary")
	}
	out.Raw = content
	return out, nil
}

// HealthCheck sends a minimal JSON request to verify the key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	content, err := c.CompleteJSON(ctx, "You must respond with JSON only.", `Respond with {"ok":true}`)
	if err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}
