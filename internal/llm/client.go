// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"humanizer-api/internal/common/config"
	commonerrors "humanizer-api/internal/common/errors"
	"humanizer-api/internal/common/logger"
	"humanizer-api/internal/common/metrics"
)

var (
	ErrProviderKeyMissing  = errors.New("PROVIDER_KEY_MISSING")
	ErrProviderUnavailable = errors.New("PROVIDER_UNAVAILABLE")
	ErrProviderFailed      = errors.New("PROVIDER_FAILED")
	ErrProviderTimeout     = errors.New("PROVIDER_TIMEOUT")
)

// errorBodyLimit bounds how much of a provider error body is kept for
// diagnostics.
const errorBodyLimit = 4096

// Client calls a hosted chat-completion endpoint with a bounded retry policy
// for transient provider errors. One instance is shared across requests; it
// holds no per-request state.
type Client struct {
	config *config.ProviderConfig
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg *config.ProviderConfig, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		// No client-level timeout: the per-request deadline comes from the
		// context so retries share one budget.
		client: &http.Client{},
		logger: log.WithFields(map[string]interface{}{"component": "inference-client"}),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Infer sends the message sequence to the provider and returns the raw
// completion text. The credential check happens before any network attempt.
// A 503 from the provider (model warming up) is retried up to MaxRetries
// times after RetryDelay; every other failure is terminal.
func (c *Client) Infer(ctx context.Context, messages []Message) (string, error) {
	if c.config.APIKey == "" {
		return "", ErrProviderKeyMissing
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrProviderFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(c.config.Timeout))
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("provider unavailable, retrying", map[string]interface{}{
				"attempt": attempt,
				"delayMs": c.config.RetryDelay,
			})
			select {
			case <-time.After(config.GetDuration(c.config.RetryDelay)):
			case <-ctx.Done():
				return "", ErrProviderTimeout
			}
		}

		var text string
		text, lastErr = c.attempt(ctx, body)
		if lastErr == nil {
			metrics.ProviderCalls.WithLabelValues("success").Inc()
			return text, nil
		}

		if ctx.Err() != nil {
			metrics.ProviderCalls.WithLabelValues("timeout").Inc()
			return "", ErrProviderTimeout
		}

		// Only the transient signal is retried.
		if !commonerrors.IsRetryable(lastErr) {
			metrics.ProviderCalls.WithLabelValues("error").Inc()
			return "", lastErr
		}
		metrics.ProviderCalls.WithLabelValues("transient").Inc()
	}

	// Retry budget exhausted: the transient error escalates to terminal.
	return "", fmt.Errorf("%w: retries exhausted: %v", ErrProviderFailed, lastErr)
}

// attempt performs a single POST. The request is rebuilt each time because the
// body reader is consumed per attempt.
func (c *Client) attempt(ctx context.Context, body []byte) (string, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", ErrProviderTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fmt.Errorf("%w: status %d: %w", ErrProviderUnavailable,
			resp.StatusCode, commonerrors.NewProviderUnavailableError(resp.StatusCode, string(buf)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return "", fmt.Errorf("%w: status %d: %w", ErrProviderFailed,
			resp.StatusCode, commonerrors.NewProviderFailedError(resp.StatusCode, string(buf)))
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrProviderFailed)
	}

	return payload.Choices[0].Message.Content, nil
}
