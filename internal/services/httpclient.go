package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/medofficehq/chargerules/internal/lib"
	"github.com/medofficehq/chargerules/internal/models"
)

// HTTPClient wraps the standard http.Client with retry logic and logging.
// Transient failures (5xx, 408, 429, network errors) are retried with
// exponential backoff; other statuses are returned to the caller so it can
// read the error body.
type HTTPClient struct {
	client *http.Client
	policy lib.RetryPolicy
	logger zerolog.Logger
}

// NewHTTPClient creates an HTTP client with timeout and retry configuration.
func NewHTTPClient(timeout time.Duration, retryConfig models.RetryConfig, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		policy: lib.NewRetryPolicyFromConfig(retryConfig),
		logger: lib.ComponentLogger(logger, "httpclient"),
	}
}

// DefaultHTTPClient creates an HTTP client with sensible defaults.
func DefaultHTTPClient() *HTTPClient {
	return NewHTTPClient(
		120*time.Second,
		models.DefaultConfig().Retry,
		lib.NewLogger(false),
	)
}

// Get performs an HTTP GET request with retry logic.
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.Do(req)
}

// PostForm performs a form-encoded POST request with retry logic.
func (c *HTTPClient) PostForm(ctx context.Context, url string, form []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.Do(req)
}

// PutForm performs a form-encoded PUT request with retry logic.
func (c *HTTPClient) PutForm(ctx context.Context, url string, form []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.Do(req)
}

// Do executes an HTTP request, retrying transient errors. Non-transient
// HTTP errors return the response unmodified so the caller can inspect it.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var lastErr error

	// Request body can only be read once; buffer it for retries.
	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		startTime := time.Now()
		resp, lastErr = c.client.Do(req)
		duration := time.Since(startTime)

		if lastErr == nil {
			lib.LogServiceResponse(c.logger, req.URL.Host, resp.StatusCode, duration)

			if resp.StatusCode >= 400 {
				if !lib.IsTransientHTTPStatus(resp.StatusCode) {
					// Return the response so the caller can read error details
					return resp, nil
				}

				statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
				lastErr = statusErr
				_ = resp.Body.Close()

				if attempt < c.policy.MaxAttempts-1 {
					lib.LogRetry(c.logger, req.URL.String(), attempt, c.policy.MaxAttempts, statusErr)
					if err := c.wait(req.Context(), attempt); err != nil {
						return nil, err
					}
				}
				continue
			}

			return resp, nil
		}

		if lib.IsNetworkError(lastErr) {
			if attempt < c.policy.MaxAttempts-1 {
				lib.LogRetry(c.logger, req.URL.String(), attempt, c.policy.MaxAttempts, lastErr)
				if err := c.wait(req.Context(), attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		// Non-retryable error
		return nil, lastErr
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

func (c *HTTPClient) wait(ctx context.Context, attempt int) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry cancelled: %w", ctx.Err())
	case <-time.After(c.policy.Backoff(attempt)):
		return nil
	}
}
