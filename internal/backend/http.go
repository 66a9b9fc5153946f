package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultHTTPTimeout = 15 * time.Second
	defaultRateLimit   = 5 // requests per second
	defaultBurst       = 10
)

// HTTPConfig configures the HTTP decision backend.
type HTTPConfig struct {
	// BaseURL of an OpenAI-compatible chat completions endpoint.
	BaseURL string

	// Model requested from the endpoint.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each call. Zero uses the default.
	Timeout time.Duration

	// RateLimit caps requests per second. Zero uses the default.
	RateLimit float64
}

// HTTPBackend invokes a small coordinator model behind an OpenAI-style
// chat completions API. It is transport only: one request per Invoke,
// no retries, raw assistant text returned for the requester to parse.
type HTTPBackend struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPBackend creates an HTTP backend.
func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("backend model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	return &HTTPBackend{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(limit), defaultBurst),
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends the prompt and returns the assistant text verbatim.
func (b *HTTPBackend) Invoke(ctx context.Context, prompt string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := chatRequest{
		Model:     b.model,
		MaxTokens: 512,
		// Low temperature: constrained JSON decisions, not prose.
		Temperature: 0.0,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		var urlErr interface{ Timeout() bool }
		if errors.As(err, &urlErr) && urlErr.Timeout() {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp chatError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("backend error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("backend error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from backend")
	}

	return parsed.Choices[0].Message.Content, nil
}

var _ Backend = (*HTTPBackend)(nil)
