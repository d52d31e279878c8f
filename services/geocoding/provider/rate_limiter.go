package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter for provider requests
// This keeps the keyed provider under its quota and slows down after a 429
type RateLimiter struct {
	mu sync.Mutex

	config RateLimiterConfig

	tokens         float64       // Current number of tokens
	maxTokens      float64       // Maximum tokens (bucket size)
	refillRate     float64       // Tokens added per second
	lastRefillTime time.Time     // Last time tokens were refilled
	minInterval    time.Duration // Minimum interval between requests
}

// RateLimiterConfig holds configuration for the rate limiter
type RateLimiterConfig struct {
	MaxTokens   float64       // Max burst capacity (default: 5)
	RefillRate  float64       // Tokens per second (default: 1)
	MinInterval time.Duration // Minimum time between requests (default: 100ms)
}

// DefaultRateLimiterConfig returns defaults sized for a free-tier geocoding key
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:   5,
		RefillRate:  1,
		MinInterval: 100 * time.Millisecond,
	}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1
	}
	if config.RefillRate <= 0 {
		config.RefillRate = 1
	}
	return &RateLimiter{
		config:         config,
		tokens:         config.MaxTokens,
		maxTokens:      config.MaxTokens,
		refillRate:     config.RefillRate,
		lastRefillTime: time.Now(),
		minInterval:    config.MinInterval,
	}
}

// Wait blocks until a token is available
// Returns an error if the context is cancelled
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refillTokens()

		if r.tokens >= 1 {
			r.tokens--
			minInterval := r.minInterval
			r.mu.Unlock()

			if minInterval <= 0 {
				return ctx.Err()
			}
			// Enforce minimum interval between requests
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(minInterval):
				return nil
			}
		}

		waitTime := time.Duration(float64(time.Second) / r.refillRate)
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// refillTokens adds tokens based on elapsed time (must be called with lock held)
func (r *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefillTime).Seconds()
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
	r.lastRefillTime = now
}

// TryAcquire attempts to acquire a token without blocking
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// AvailableTokens returns the current number of available tokens
func (r *RateLimiter) AvailableTokens() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillTokens()
	return r.tokens
}

// SetBackoffMultiplier temporarily reduces the rate limit
// Call with multiplier > 1 after a 429 to slow down
func (r *RateLimiter) SetBackoffMultiplier(multiplier float64) {
	if multiplier <= 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = r.refillRate / multiplier
	r.minInterval = time.Duration(float64(r.minInterval) * multiplier)
}

// ResetToDefaults restores the configured rate
func (r *RateLimiter) ResetToDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refillRate = r.config.RefillRate
	r.minInterval = r.config.MinInterval
}

// RefillRate returns the current tokens-per-second rate
func (r *RateLimiter) RefillRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refillRate
}
