package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	address string
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) ForwardToCoords(context.Context, string) (model.Coordinates, error) {
	s.calls++
	return model.Coordinates{Lat: 1, Lng: 2}, s.err
}

func (s *stubProvider) ForwardToRegion(context.Context, string) (string, error) {
	s.calls++
	return "", s.err
}

func (s *stubProvider) ReverseToRegion(context.Context, float64, float64) (string, error) {
	s.calls++
	return "", s.err
}

func (s *stubProvider) ReverseToAddress(context.Context, float64, float64) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.address, nil
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveProviderRequest(provider, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, provider+":"+outcome)
}

func TestChainFallsBackToSecondary(t *testing.T) {
	primary := &stubProvider{name: "primary", err: fmt.Errorf("%w: 503", ErrUnavailable)}
	secondary := &stubProvider{name: "secondary", address: "350 5th Ave, New York, NY"}
	obs := &recordingObserver{}
	chain := NewChain(obs, primary, secondary)

	var addr string
	attempt, err := chain.Do(context.Background(), func(p Provider) (err error) {
		addr, err = p.ReverseToAddress(context.Background(), 40.7484, -73.9857)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "350 5th Ave, New York, NY", addr)
	assert.Equal(t, "secondary", attempt.Provider)
	assert.Equal(t, []string{"primary", "secondary"}, attempt.Tried)
	assert.Equal(t, []string{"primary:unavailable", "secondary:success"}, obs.calls)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	primary := &stubProvider{name: "primary", address: "somewhere"}
	secondary := &stubProvider{name: "secondary", address: "elsewhere"}
	chain := NewChain(nil, primary, nil, secondary)
	assert.Equal(t, []string{"primary", "secondary"}, chain.Providers())

	var addr string
	attempt, err := chain.Do(context.Background(), func(p Provider) (err error) {
		addr, err = p.ReverseToAddress(context.Background(), 1, 2)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "somewhere", addr)
	assert.Equal(t, []string{"primary"}, attempt.Tried)
	assert.Equal(t, 0, secondary.calls)
}

func TestChainErrorClassification(t *testing.T) {
	notFound := fmt.Errorf("%w: nothing", ErrNotFound)
	unavailable := fmt.Errorf("%w: down", ErrUnavailable)
	other := errors.New("request denied")

	tests := []struct {
		name      string
		errs      []error
		wantIs    error
		wantNotIs []error
		wantTried int
	}{
		{name: "all not found", errs: []error{notFound, notFound}, wantIs: ErrNotFound, wantNotIs: []error{ErrUnavailable}, wantTried: 2},
		{name: "one unavailable", errs: []error{notFound, unavailable}, wantIs: ErrUnavailable, wantNotIs: []error{ErrNotFound}, wantTried: 2},
		{name: "unclassified", errs: []error{other, notFound}, wantNotIs: []error{ErrNotFound, ErrUnavailable}, wantTried: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var providers []Provider
			for i, e := range tt.errs {
				providers = append(providers, &stubProvider{name: fmt.Sprintf("p%d", i), err: e})
			}
			chain := NewChain(nil, providers...)

			attempt, err := chain.Do(context.Background(), func(p Provider) error {
				_, err := p.ReverseToRegion(context.Background(), 0, 0)
				return err
			})
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			for _, notIs := range tt.wantNotIs {
				assert.False(t, errors.Is(err, notIs), "unexpected %v in %v", notIs, err)
			}
			assert.Len(t, attempt.Tried, tt.wantTried)
			assert.Empty(t, attempt.Provider)
		})
	}
}

func TestChainWithoutProviders(t *testing.T) {
	chain := NewChain(nil)
	assert.Empty(t, chain.Providers())

	attempt, err := chain.Do(context.Background(), func(p Provider) error {
		_, err := p.ForwardToCoords(context.Background(), "10001")
		return err
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, attempt.Tried)
}

func fastLimiter() *RateLimiterConfig {
	return &RateLimiterConfig{MaxTokens: 100, RefillRate: 100}
}

func TestPrimaryClientForward(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocode/json", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "postal_code:10001|country:US", r.URL.Query().Get("components"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"status": "OK",
			"results": [{
				"formatted_address": "New York, NY 10001, USA",
				"address_components": [
					{"long_name": "10001", "short_name": "10001", "types": ["postal_code"]},
					{"long_name": "New York", "short_name": "New York", "types": ["locality", "political"]},
					{"long_name": "New York", "short_name": "NY", "types": ["administrative_area_level_1", "political"]}
				],
				"geometry": {"location": {"lat": 40.7484, "lng": -73.9967}}
			}]
		}`)
	}))
	defer server.Close()

	c := NewPrimaryClient(PrimaryConfig{APIKey: "test-key", BaseURL: server.URL, Country: "us", RateLimiterConfig: fastLimiter()})
	require.NotNil(t, c)

	coords, err := c.ForwardToCoords(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, model.Coordinates{Lat: 40.7484, Lng: -73.9967}, coords)

	city, err := c.ForwardToRegion(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, "New York", city)
}

func TestPrimaryClientReverse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "40.7484,-73.9857", r.URL.Query().Get("latlng"))
		fmt.Fprint(w, `{
			"status": "OK",
			"results": [{
				"formatted_address": "20 W 34th St, New York, NY 10001, USA",
				"address_components": [
					{"long_name": "10001", "short_name": "10001", "types": ["postal_code"]}
				]
			}]
		}`)
	}))
	defer server.Close()

	c := NewPrimaryClient(PrimaryConfig{APIKey: "k", BaseURL: server.URL, RateLimiterConfig: fastLimiter()})

	addr, err := c.ReverseToAddress(context.Background(), 40.7484, -73.9857)
	require.NoError(t, err)
	assert.Contains(t, addr, "New York")

	region, err := c.ReverseToRegion(context.Background(), 40.7484, -73.9857)
	require.NoError(t, err)
	assert.Equal(t, "10001", region)
}

func TestPrimaryClientStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "zero results", status: 200, body: `{"status":"ZERO_RESULTS","results":[]}`, want: ErrNotFound},
		{name: "ok but empty", status: 200, body: `{"status":"OK","results":[]}`, want: ErrNotFound},
		{name: "over query limit", status: 200, body: `{"status":"OVER_QUERY_LIMIT"}`, want: ErrUnavailable},
		{name: "server error", status: 502, body: `bad gateway`, want: ErrUnavailable},
		{name: "rate limited", status: 429, body: `slow down`, want: ErrUnavailable},
		{name: "not found", status: 404, body: `nope`, want: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			c := NewPrimaryClient(PrimaryConfig{APIKey: "k", BaseURL: server.URL, RateLimiterConfig: fastLimiter()})
			_, err := c.ReverseToAddress(context.Background(), 1, 2)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPrimaryClientRequestDeniedIsUnclassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"REQUEST_DENIED","error_message":"invalid key"}`)
	}))
	defer server.Close()

	c := NewPrimaryClient(PrimaryConfig{APIKey: "k", BaseURL: server.URL, RateLimiterConfig: fastLimiter()})
	_, err := c.ForwardToCoords(context.Background(), "10001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
	assert.Equal(t, OutcomeError, Outcome(err))
}

func TestPrimaryClientSlowsDownOn429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewPrimaryClient(PrimaryConfig{APIKey: "k", BaseURL: server.URL, RateLimiterConfig: fastLimiter()})
	before := c.GetRateLimiter().RefillRate()

	_, err := c.ForwardToCoords(context.Background(), "10001")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, c.GetRateLimiter().RefillRate(), before)

	c.GetRateLimiter().ResetToDefaults()
	assert.Equal(t, before, c.GetRateLimiter().RefillRate())
}

func TestNewPrimaryClientWithoutKey(t *testing.T) {
	assert.Nil(t, NewPrimaryClient(PrimaryConfig{}))
}

func TestSecondaryClientForward(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "10001", r.URL.Query().Get("postalcode"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, `[{"lat":"40.7506","lon":"-73.9972","display_name":"New York, 10001, United States","address":{"city":"New York","postcode":"10001"}}]`)
	}))
	defer server.Close()

	c := NewSecondaryClient(SecondaryConfig{BaseURL: server.URL, UserAgent: "test-agent", RateLimiterConfig: fastLimiter()})

	coords, err := c.ForwardToCoords(context.Background(), "10001")
	require.NoError(t, err)
	assert.InDelta(t, 40.7506, coords.Lat, 1e-9)
	assert.InDelta(t, -73.9972, coords.Lng, 1e-9)

	city, err := c.ForwardToRegion(context.Background(), "10001")
	require.NoError(t, err)
	assert.Equal(t, "New York", city)
}

func TestSecondaryClientEmptySearchIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	c := NewSecondaryClient(SecondaryConfig{BaseURL: server.URL, RateLimiterConfig: fastLimiter()})
	_, err := c.ForwardToCoords(context.Background(), "00000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSecondaryClientReverse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reverse", r.URL.Path)
		if r.URL.Query().Get("lat") == "0" {
			fmt.Fprint(w, `{"error":"Unable to geocode"}`)
			return
		}
		fmt.Fprint(w, `{"display_name":"Empire State Building, 350, 5th Avenue, New York, 10118, United States","address":{"ISO3166-2-lvl4":"US-NY"}}`)
	}))
	defer server.Close()

	c := NewSecondaryClient(SecondaryConfig{BaseURL: server.URL, RateLimiterConfig: fastLimiter()})

	addr, err := c.ReverseToAddress(context.Background(), 40.7484, -73.9857)
	require.NoError(t, err)
	assert.Contains(t, addr, "New York")

	region, err := c.ReverseToRegion(context.Background(), 40.7484, -73.9857)
	require.NoError(t, err)
	assert.Equal(t, "US-NY", region)

	_, err = c.ReverseToAddress(context.Background(), 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRateLimiterTryAcquire(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{MaxTokens: 2, RefillRate: 0.001})
	assert.True(t, r.TryAcquire())
	assert.True(t, r.TryAcquire())
	assert.False(t, r.TryAcquire())
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	r := NewRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 0.001})
	require.True(t, r.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), ParseRetryAfter(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, ParseRetryAfter(resp))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(nil))
}

func TestBuildProviderOrder(t *testing.T) {
	cfg := config.DefaultPipelineConfig()

	chain, primary := Build(&config.EnviornmentVariable{}, cfg, nil)
	assert.Nil(t, primary)
	assert.Equal(t, []string{"secondary"}, chain.Providers())

	chain, primary = Build(&config.EnviornmentVariable{GEOCODE_PRIMARY_API_KEY: "test-key"}, cfg, nil)
	require.NotNil(t, primary)
	assert.Equal(t, []string{"primary", "secondary"}, chain.Providers())
}
