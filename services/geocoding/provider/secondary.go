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

const (
	// SecondaryBaseURL is the free OpenStreetMap geocoder
	SecondaryBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent identifies us to the free geocoder, which rejects anonymous clients
	DefaultUserAgent = "geocoder/1.0"
)

// SecondaryClient talks to a free, keyless geocoding API
type SecondaryClient struct {
	baseURL     string
	userAgent   string
	country     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// SecondaryConfig holds configuration for the secondary client
type SecondaryConfig struct {
	BaseURL   string
	UserAgent string
	Country   string
	Timeout   time.Duration

	RateLimiterConfig *RateLimiterConfig // Optional, defaults to one request per second
}

// NewSecondaryClient creates the free-tier client
func NewSecondaryClient(config SecondaryConfig) *SecondaryClient {
	if config.BaseURL == "" {
		config.BaseURL = SecondaryBaseURL
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	// public usage policy: at most one request per second
	rateLimiterConfig := RateLimiterConfig{MaxTokens: 1, RefillRate: 1}
	if config.RateLimiterConfig != nil {
		rateLimiterConfig = *config.RateLimiterConfig
	}

	return &SecondaryClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		userAgent:   config.UserAgent,
		country:     strings.ToLower(config.Country),
		httpClient:  &http.Client{Timeout: config.Timeout},
		rateLimiter: NewRateLimiter(rateLimiterConfig),
	}
}

// Name implements Provider
func (c *SecondaryClient) Name() string {
	return "secondary"
}

type secondaryPlace struct {
	Lat         string           `json:"lat"`
	Lon         string           `json:"lon"`
	DisplayName string           `json:"display_name"`
	Address     secondaryAddress `json:"address"`
	Error       string           `json:"error"`
}

type secondaryAddress struct {
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	Hamlet   string `json:"hamlet"`
	Postcode string `json:"postcode"`
	State    string `json:"state"`
	ISO31662 string `json:"ISO3166-2-lvl4"`
}

func (a secondaryAddress) locality() string {
	for _, name := range []string{a.City, a.Town, a.Village, a.Hamlet} {
		if name != "" {
			return name
		}
	}
	return ""
}

func (c *SecondaryClient) headers() map[string]string {
	return map[string]string{"User-Agent": c.userAgent}
}

func (c *SecondaryClient) search(ctx context.Context, postalCode string) (secondaryPlace, error) {
	q := url.Values{}
	q.Set("postalcode", postalCode)
	if c.country != "" {
		q.Set("countrycodes", c.country)
	}
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")
	q.Set("limit", "1")

	var places []secondaryPlace
	if err := getJSON(ctx, c.httpClient, c.rateLimiter, c.Name(), c.baseURL+"/search?"+q.Encode(), c.headers(), &places); err != nil {
		return secondaryPlace{}, err
	}
	if len(places) == 0 {
		return secondaryPlace{}, fmt.Errorf("%w: secondary returned no places for %s", ErrNotFound, postalCode)
	}
	return places[0], nil
}

func (c *SecondaryClient) reverse(ctx context.Context, lat, lng float64) (secondaryPlace, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("format", "jsonv2")
	q.Set("addressdetails", "1")

	var place secondaryPlace
	if err := getJSON(ctx, c.httpClient, c.rateLimiter, c.Name(), c.baseURL+"/reverse?"+q.Encode(), c.headers(), &place); err != nil {
		return secondaryPlace{}, err
	}
	if place.Error != "" {
		return secondaryPlace{}, fmt.Errorf("%w: secondary: %s", ErrNotFound, place.Error)
	}
	return place, nil
}

// ForwardToCoords resolves a postal code to coordinates
func (c *SecondaryClient) ForwardToCoords(ctx context.Context, postalCode string) (model.Coordinates, error) {
	place, err := c.search(ctx, postalCode)
	if err != nil {
		return model.Coordinates{}, err
	}
	lat, latErr := strconv.ParseFloat(place.Lat, 64)
	lng, lngErr := strconv.ParseFloat(place.Lon, 64)
	if latErr != nil || lngErr != nil {
		return model.Coordinates{}, fmt.Errorf("secondary returned malformed coordinates %q,%q", place.Lat, place.Lon)
	}
	return model.Coordinates{Lat: lat, Lng: lng}, nil
}

// ForwardToRegion resolves a postal code to its city name
func (c *SecondaryClient) ForwardToRegion(ctx context.Context, postalCode string) (string, error) {
	place, err := c.search(ctx, postalCode)
	if err != nil {
		return "", err
	}
	if name := place.Address.locality(); name != "" {
		return name, nil
	}
	return "", fmt.Errorf("%w: secondary returned no locality for %s", ErrNotFound, postalCode)
}

// ReverseToRegion resolves coordinates to a postal code, or the ISO 3166-2 subdivision
func (c *SecondaryClient) ReverseToRegion(ctx context.Context, lat, lng float64) (string, error) {
	place, err := c.reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if place.Address.Postcode != "" {
		return place.Address.Postcode, nil
	}
	if place.Address.ISO31662 != "" {
		return place.Address.ISO31662, nil
	}
	return "", fmt.Errorf("%w: secondary returned no region", ErrNotFound)
}

// ReverseToAddress resolves coordinates to a formatted address
func (c *SecondaryClient) ReverseToAddress(ctx context.Context, lat, lng float64) (string, error) {
	place, err := c.reverse(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	if place.DisplayName == "" {
		return "", fmt.Errorf("%w: secondary returned no address", ErrNotFound)
	}
	return place.DisplayName, nil
}
