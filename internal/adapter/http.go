package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
)

// HTTPClient defines an interface for provider HTTP calls to enable mocking.
// Implementations classify failures into domain.ProviderError kinds and
// handle retry policy internally.
//
//go:generate mockgen -source=http.go -destination=../mocks/http.go -package=mocks -mock_names=HTTPClient=MockHTTPClient
type HTTPClient interface {
	// Get performs a GET request and returns the response body
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)

	// Post performs a POST request with a JSON body and returns the response body
	Post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error)

	// PostForm performs a form-encoded POST (OAuth token endpoints) and returns the response body
	PostForm(ctx context.Context, url string, headers map[string]string, form url.Values) ([]byte, error)
}

// RetryConfig bounds the retry behavior of the retrying HTTP client
type RetryConfig struct {
	// MaxAttempts is the error-retry budget for transient failures
	MaxAttempts int
	// InitialInterval is the first backoff delay; it doubles per attempt
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay
	MaxInterval time.Duration
	// DefaultRetryAfter is used when a 429 response carries no Retry-After header
	DefaultRetryAfter time.Duration
	// MaxIterations caps the whole retry loop, rate-limit waits included,
	// so a provider stuck on 429 cannot spin forever
	MaxIterations int
}

// applyDefaults fills zero fields with safe defaults
func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.DefaultRetryAfter <= 0 {
		c.DefaultRetryAfter = 60 * time.Second
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
}

// RetryingHTTPClient implements HTTPClient with typed error classification,
// Retry-After honoring on 429 and exponential backoff on transient failures
type RetryingHTTPClient struct {
	provider string
	client   *http.Client
	clock    Clock
	config   RetryConfig
}

// NewRetryingHTTPClient creates an HTTP client for one provider.
// The provider name is stamped into every classified error.
func NewRetryingHTTPClient(provider string, timeout time.Duration, clock Clock, cfg RetryConfig) HTTPClient {
	cfg.applyDefaults()
	return &RetryingHTTPClient{
		provider: provider,
		client:   &http.Client{Timeout: timeout},
		clock:    clock,
		config:   cfg,
	}
}

// Get performs a GET request and returns the response body
func (c *RetryingHTTPClient) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodGet, url, headers, nil, "")
}

// Post performs a POST request with a JSON body and returns the response body
func (c *RetryingHTTPClient) Post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodPost, url, headers, body, "application/json")
}

// PostForm performs a form-encoded POST and returns the response body
func (c *RetryingHTTPClient) PostForm(ctx context.Context, url string, headers map[string]string, form url.Values) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodPost, url, headers, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

// doWithRetry runs the request loop. Rate-limit waits do not consume the
// error-retry budget; the outer iteration cap guarantees termination.
func (c *RetryingHTTPClient) doWithRetry(ctx context.Context, method, url string, headers map[string]string, body []byte, contentType string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.InitialInterval
	b.MaxInterval = c.config.MaxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not wall time
	b.Reset()

	attempts := 0
	var lastErr error

	for iteration := 0; iteration < c.config.MaxIterations; iteration++ {
		respBody, retryAfter, err := c.doOnce(ctx, method, url, headers, body, contentType)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		// Non-retryable kinds short-circuit without burning the backoff schedule
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Unwrap()
		}

		var delay time.Duration
		if retryAfter > 0 {
			// Rate limited: wait as the server instructed, free of charge
			delay = retryAfter
			logger.WarnCtx(ctx, "provider rate limited, waiting",
				zap.String("provider", c.provider),
				zap.String("url", url),
				zap.Duration("retry_after", delay),
			)
		} else {
			attempts++
			if attempts >= c.config.MaxAttempts {
				return nil, lastErr
			}
			delay = b.NextBackOff()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(delay):
		}
	}

	if lastErr == nil {
		lastErr = &domain.ProviderError{
			Kind:     domain.ErrorKindTransient,
			Provider: c.provider,
			Message:  "retry loop exhausted",
		}
	}
	return nil, fmt.Errorf("request failed after retries: %w", lastErr)
}

// doOnce performs a single request and classifies the outcome.
// retryAfter > 0 means a rate-limit wait that must not consume the retry budget.
func (c *RetryingHTTPClient) doOnce(ctx context.Context, method, url string, headers map[string]string, body []byte, contentType string) (respBody []byte, retryAfter time.Duration, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, backoff.Permanent(&domain.ProviderError{
			Kind:     domain.ErrorKindValidation,
			Provider: c.provider,
			Message:  "invalid request",
			Err:      err,
		})
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network errors are transient
		return nil, 0, &domain.ProviderError{
			Kind:     domain.ErrorKindTransient,
			Provider: c.provider,
			Message:  "request failed",
			Err:      err,
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close response body", zap.Error(closeErr), zap.String("url", url))
		}
	}()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &domain.ProviderError{
			Kind:     domain.ErrorKindTransient,
			Provider: c.provider,
			Message:  "failed to read response body",
			Err:      err,
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, 0, nil
	}

	pe := c.classifyStatus(resp.StatusCode, resp.Header, respBody)
	switch pe.Kind {
	case domain.ErrorKindRateLimited:
		return nil, pe.RetryAfter, pe
	case domain.ErrorKindTransient:
		return nil, 0, pe
	default:
		// Unauthorized and validation failures must not be retried
		return nil, 0, backoff.Permanent(pe)
	}
}

// classifyStatus maps an HTTP failure into the provider error taxonomy
func (c *RetryingHTTPClient) classifyStatus(status int, header http.Header, body []byte) *domain.ProviderError {
	pe := &domain.ProviderError{
		Provider:   c.provider,
		StatusCode: status,
		Message:    ParseErrorBody(body),
	}

	switch {
	case status == http.StatusTooManyRequests:
		pe.Kind = domain.ErrorKindRateLimited
		pe.RetryAfter = parseRetryAfter(header.Get("Retry-After"), c.config.DefaultRetryAfter)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = domain.ErrorKindUnauthorized
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout:
		pe.Kind = domain.ErrorKindValidation
	default:
		pe.Kind = domain.ErrorKindTransient
	}

	return pe
}

// parseRetryAfter reads a Retry-After header value in seconds,
// falling back to the configured default
func parseRetryAfter(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// ParseErrorBody extracts a human-readable message from a provider error body.
// Providers disagree on the field name, so a few common shapes are probed
// before falling back to the truncated raw body.
func ParseErrorBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, key := range []string{"error_description", "error_message", "message", "error"} {
			if v, ok := parsed[key].(string); ok && v != "" {
				return v
			}
		}
	}

	const maxLen = 256
	s := string(body)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
