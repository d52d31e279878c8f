package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sahilchouksey/geocoder/model"
)

// PrimaryBaseURL is the keyed geocoding API
const PrimaryBaseURL = "https://maps.googleapis.com/maps/api"

// PrimaryClient talks to a keyed, quota-limited geocoding API
type PrimaryClient struct {
	apiKey      string
	baseURL     string
	country     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// PrimaryConfig holds configuration for the primary client
type PrimaryConfig struct {
	APIKey            string
	BaseURL           string
	Country           string
	Timeout           time.Duration
	RateLimiterConfig *RateLimiterConfig // Optional rate limiter config
}

// NewPrimaryClient creates the keyed client. Returns nil when no API key is set.
func NewPrimaryClient(config PrimaryConfig) *PrimaryClient {
	if config.APIKey == "" {
		return nil
	}
	if config.BaseURL == "" {
		config.BaseURL = PrimaryBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	rateLimiterConfig := DefaultRateLimiterConfig()
	if config.RateLimiterConfig != nil {
		rateLimiterConfig = *config.RateLimiterConfig
	}

	return &PrimaryClient{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		country:     strings.ToUpper(config.Country),
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(rateLimiterConfig),
	}
}

// GetRateLimiter returns the rate limiter instance
func (c *PrimaryClient) GetRateLimiter() *RateLimiter {
	return c.rateLimiter
}

// Name implements Provider
func (c *PrimaryClient) Name() string {
	return "primary"
}

type primaryResponse struct {
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message"`
	Results      []primaryResult `json:"results"`
}

type primaryResult struct {
	FormattedAddress  string `json:"formatted_address"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// component returns the first address component carrying typ
func (r primaryResult) component(typ string, short bool) string {
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			if t == typ {
				if short {
					return c.ShortName
				}
				return c.LongName
			}
		}
	}
	return ""
}

func (c *PrimaryClient) forward(ctx context.Context, postalCode string) (primaryResult, error) {
	q := url.Values{}
	components := "postal_code:" + postalCode
	if c.country != "" {
		components += "|country:" + c.country
	}
	q.Set("components", components)
	q.Set("key", c.apiKey)
	return c.geocode(ctx, q)
}

func (c *PrimaryClient) reverse(ctx context.Context, lat, lng float64) (primaryResult, error) {
	q := url.Values{}
	q.Set("latlng", strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("key", c.apiKey)
	return c.geocode(ctx, q)
}

func (c *PrimaryClient) geocode(ctx context.Context, q url.Values) (primaryResult, error) {
	var resp primaryResponse
	if err := getJSON(ctx, c.httpClient, c.rateLimiter, c.Name(), c.baseURL+"/geocode/json?"+q.Encode(), nil, &resp); err != nil {
		return primaryResult{}, err
	}

	switch resp.Status {
	case "OK":
		if len(resp.Results) == 0 {
			return primaryResult{}, fmt.Errorf("%w: primary returned no results", ErrNotFound)
		}
		return resp.Results[0], nil
	case "ZERO_RESULTS":
		return primaryResult{}, fmt.Errorf("%w: primary returned ZERO_RESULTS", ErrNotFound)
	case "OVER_QUERY_LIMIT":
		c.rateLimiter.SetBackoffMultiplier(2.0)
		return primaryResult{}, fmt.Errorf("%w: primary over query limit", ErrUnavailable)
	case "UNKNOWN_ERROR":
		return primaryResult{}, fmt.Errorf("%w: primary unknown error", ErrUnavailable)
	default:
		return primaryResult{}, fmt.Errorf("primary API error %s: %s", resp.Status, resp.ErrorMessage)
	}
}

// ForwardToCoords resolves a postal code to its centroid
func (c *PrimaryClient) ForwardToCoords(ctx context.Context, postalCode string) (model.Coordinates, error) {
	r, err := c.forward(ctx, postalCode)
	if err != nil {
		return model.Coordinates{}, err
	}
	loc := r.Geometry.Location
	if loc.Lat == 0 && loc.Lng == 0 {
		return model.Coordinates{}, fmt.Errorf("%w: primary returned no geometry", ErrNotFound)
	}
	return model.Coordinates{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// ForwardToRegion resolves a postal code to its city name
func (c *PrimaryClient) ForwardToRegion(ctx context.Context, postalCode string) (string, error) {
	r, err := c.forward(ctx, postalCode)
	if err != nil {
		return "", err
	}
	for _, typ := range []string{"locality", "postal_town", "sublocality", "administrative_area_level_2"} {
		if name := r.component(typ, false); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: primary returned no locality for %s", ErrNotFound, postalCode)
}

// ReverseToRegion resolves coordinates to a postal code, or the state code when none exists
func (c *PrimaryClient) ReverseToRegion(ctx context.Context, lat, lng float64) (string, error) {
	r, err := c.reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if code := r.component("postal_code", true); code != "" {
		return code, nil
	}
	if code := r.component("administrative_area_level_1", true); code != "" {
		return code, nil
	}
	return "", fmt.Errorf("%w: primary returned no region", ErrNotFound)
}

// ReverseToAddress resolves coordinates to a formatted address
func (c *PrimaryClient) ReverseToAddress(ctx context.Context, lat, lng float64) (string, error) {
	r, err := c.reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if r.FormattedAddress == "" {
		return "", fmt.Errorf("%w: primary returned no address", ErrNotFound)
	}
	return r.FormattedAddress, nil
}
