package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

const (
	// DefaultTimeout is the default HTTP client timeout for provider calls
	DefaultTimeout = 10 * time.Second
	// maxBodyBytes caps how much of a provider response is read
	maxBodyBytes = 1 << 20
)

// IsRetryableStatusCode checks if an HTTP status code means the provider may answer later
// Retryable codes: 408 (Timeout), 429 (Rate Limit), 5xx (Server errors)
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// ParseRetryAfter extracts the retry-after header value from a response
// Returns 0 if the header is not present or cannot be parsed
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// getJSON performs a rate-limited GET and decodes the JSON body into result.
// Transport failures and retryable statuses wrap ErrUnavailable, 404 wraps ErrNotFound.
func getJSON(ctx context.Context, httpClient *http.Client, limiter *RateLimiter, name, url string, headers map[string]string, result interface{}) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait cancelled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s request failed: %v", ErrUnavailable, name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %s failed to read response body: %v", ErrUnavailable, name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if retryAfter := ParseRetryAfter(resp); retryAfter > 0 {
				log.Printf("[GEOCODE] %s rate limited, Retry-After: %v", name, retryAfter)
			}
			if limiter != nil {
				limiter.SetBackoffMultiplier(2.0)
			}
			return fmt.Errorf("%w: %s status %d", ErrUnavailable, name, resp.StatusCode)
		case IsRetryableStatusCode(resp.StatusCode):
			return fmt.Errorf("%w: %s status %d", ErrUnavailable, name, resp.StatusCode)
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s status 404", ErrNotFound, name)
		default:
			return fmt.Errorf("%s API error (status %d): %s", name, resp.StatusCode, truncate(string(body), 200))
		}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%s failed to decode response: %w", name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
