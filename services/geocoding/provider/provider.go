package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/sahilchouksey/geocoder/model"
)

var (
	// ErrNotFound means the provider answered but the input has no location
	ErrNotFound = errors.New("location not found")
	// ErrUnavailable is a transient upstream failure worth retrying
	ErrUnavailable = errors.New("geocode provider unavailable")
)

// Provider is a single upstream geocoding service
type Provider interface {
	Name() string
	ForwardToCoords(ctx context.Context, postalCode string) (model.Coordinates, error)
	ForwardToRegion(ctx context.Context, postalCode string) (string, error)
	ReverseToRegion(ctx context.Context, lat, lng float64) (string, error)
	ReverseToAddress(ctx context.Context, lat, lng float64) (string, error)
}

// Observer receives one call per provider request
type Observer interface {
	ObserveProviderRequest(provider, outcome string)
}

// Outcome labels reported to the Observer
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Outcome classifies err into one of the Outcome labels
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

// Chain tries providers in priority order until one answers
type Chain struct {
	providers []Provider
	observer  Observer
}

// NewChain builds a chain; nil providers are skipped so an unconfigured primary drops out
func NewChain(observer Observer, providers ...Provider) *Chain {
	c := &Chain{observer: observer}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Providers returns the names in priority order
func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Attempt is the outcome of one Chain.Do call
type Attempt struct {
	Provider string   // provider that answered, empty on failure
	Tried    []string // providers called, in order
}

// Do runs fn against each provider until one succeeds.
// When every provider fails the error wraps ErrUnavailable if any of them was unavailable,
// ErrNotFound if all of them said not found.
func (c *Chain) Do(ctx context.Context, fn func(p Provider) error) (Attempt, error) {
	var attempt Attempt
	if len(c.providers) == 0 {
		return attempt, fmt.Errorf("%w: no providers configured", ErrUnavailable)
	}

	var failures []string
	allNotFound := true
	anyUnavailable := false

	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		attempt.Tried = append(attempt.Tried, p.Name())
		err := fn(p)
		if c.observer != nil {
			c.observer.ObserveProviderRequest(p.Name(), Outcome(err))
		}
		if err == nil {
			attempt.Provider = p.Name()
			return attempt, nil
		}

		log.Printf("[GEOCODE] Provider %s failed: %v", p.Name(), err)
		failures = append(failures, fmt.Sprintf("%s: %v", p.Name(), err))
		if !errors.Is(err, ErrNotFound) {
			allNotFound = false
		}
		if errors.Is(err, ErrUnavailable) {
			anyUnavailable = true
		}
	}

	summary := strings.Join(failures, "; ")
	switch {
	case allNotFound:
		return attempt, fmt.Errorf("%w (%s)", ErrNotFound, summary)
	case anyUnavailable:
		return attempt, fmt.Errorf("%w (%s)", ErrUnavailable, summary)
	default:
		return attempt, fmt.Errorf("all providers failed (%s)", summary)
	}
}
