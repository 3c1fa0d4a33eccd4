package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// apiClient issues authenticated Graph API requests. A 401 response triggers
// one forced token refresh; transient failures are retried up to maxRetries.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenProvider
	maxRetries int
}

// call performs a request against url (absolute) and decodes a JSON response
// into out when out is non-nil. It returns the raw body for callers that
// need it.
func (c *apiClient) call(ctx context.Context, method, url string, body []byte, out any) ([]byte, error) {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"method", method,
			)
		}

		respBody, err := c.do(ctx, method, url, body, tokenRefreshed)
		if err == nil {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return nil, fmt.Errorf("failed to decode Graph response: %w", err)
				}
			}
			return respBody, nil
		}
		lastErr = err

		var apiErr *APIError
		var netErr *transportError
		switch {
		case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := c.tokens.ForceRefresh(ctx); refreshErr != nil {
				return nil, refreshErr
			}
			tokenRefreshed = true
			// The refresh retry does not consume an attempt.
			attempt--
			continue
		case errors.As(err, &apiErr) && apiErr.transient && attempt < c.maxRetries:
			delay := backoffDelay(attempt)
			if apiErr.StatusCode == http.StatusTooManyRequests {
				delay = retryAfterDelay(apiErr.RetryAfter, attempt)
			}
			slog.Info("transient Graph API error, retrying",
				"status", apiErr.StatusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case errors.As(err, &netErr) && attempt < c.maxRetries && ctx.Err() == nil:
			delay := backoffDelay(attempt)
			slog.Info("Graph API request failed, retrying",
				"error", netErr.err,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return nil, fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return nil, err
		}
	}

	return nil, lastErr
}

// do performs a single HTTP request with a bearer token.
func (c *apiClient) do(ctx context.Context, method, url string, body []byte, refreshed bool) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("client-request-id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return respBody, nil
	}

	slog.Debug("Graph API returned an error",
		"method", method,
		"status", resp.StatusCode,
		"request_id", resp.Header.Get("request-id"),
		"after_refresh", refreshed,
	)
	return nil, classifyError(resp.StatusCode, respBody, resp.Header.Get("Retry-After"))
}

// retryAfterDelay parses the Retry-After header value and returns the appropriate delay.
// Falls back to exponential backoff if the header is missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
// Delays are: 1s, 2s, 4s
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
