// Package client talks to the geocoder HTTP API and waits for queued jobs to finish.
package client

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

	"github.com/sahilchouksey/geocoder/model"
)

var (
	ErrJobNotFound = errors.New("geocode job not found or expired")
	ErrTimeout     = errors.New("timed out waiting for geocode job")
	ErrJobFailed   = errors.New("geocode job failed")
)

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// IsGeocodeFailed reports whether err means no provider could locate the input
func IsGeocodeFailed(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "GEOCODE_FAILED"
}

// LookupResult is the body of a synchronous lookup
type LookupResult struct {
	Kind   model.Kind          `json:"kind"`
	Input  model.Input         `json:"input"`
	Result model.GeocodeResult `json:"result"`
	Source model.JobSource     `json:"source"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

type geocodeRequest struct {
	Kind       model.Kind `json:"kind"`
	PostalCode string     `json:"postal_code,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lng        *float64   `json:"lng,omitempty"`
}

func newGeocodeRequest(kind model.Kind, in model.Input) geocodeRequest {
	req := geocodeRequest{Kind: kind, PostalCode: in.PostalCode}
	if in.Coords != nil {
		lat, lng := in.Coords.Lat, in.Coords.Lng
		req.Lat, req.Lng = &lat, &lng
	}
	return req
}

// HTTPClient calls the /api/v1/geocode endpoints
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the API at baseURL (e.g. http://localhost:8080)
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit creates or joins a job
func (c *HTTPClient) Submit(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeJob, error) {
	var job model.GeocodeJob
	if err := c.do(ctx, http.MethodPost, "/api/v1/geocode/jobs", newGeocodeRequest(kind, in), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetStatus reads a job record. Unknown or expired jobs return ErrJobNotFound.
func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (*model.GeocodeJob, error) {
	var job model.GeocodeJob
	err := c.do(ctx, http.MethodGet, "/api/v1/geocode/jobs/"+url.PathEscape(jobID), nil, &job)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Lookup resolves synchronously without creating a job
func (c *HTTPClient) Lookup(ctx context.Context, kind model.Kind, in model.Input) (*LookupResult, error) {
	var res LookupResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/geocode/lookup", newGeocodeRequest(kind, in), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Invalidate drops the cache entry and in-flight marker for the input
func (c *HTTPClient) Invalidate(ctx context.Context, kind model.Kind, in model.Input) error {
	return c.do(ctx, http.MethodPost, "/api/v1/geocode/invalidate", newGeocodeRequest(kind, in), nil)
}

// Failures lists recent failed jobs from the audit log
func (c *HTTPClient) Failures(ctx context.Context, limit int) ([]model.GeocodeJobLog, error) {
	var out struct {
		Failures []model.GeocodeJobLog `json:"failures"`
	}
	path := "/api/v1/geocode/failures?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Failures, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Code: "INVALID_RESPONSE", Message: string(raw)}
	}

	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}
