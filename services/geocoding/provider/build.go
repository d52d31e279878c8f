package provider

import (
	"log"
	"strings"

	"github.com/sahilchouksey/geocoder/config"
)

// Build assembles the primary -> secondary chain from env and pipeline settings.
// The returned primary client is nil when no API key is configured.
func Build(env *config.EnviornmentVariable, cfg config.PipelineConfig, observer Observer) (*Chain, *PrimaryClient) {
	primary := NewPrimaryClient(PrimaryConfig{
		APIKey:  env.GEOCODE_PRIMARY_API_KEY,
		BaseURL: env.GEOCODE_PRIMARY_BASE_URL,
		Country: cfg.Provider.Country,
		Timeout: cfg.Provider.Timeout,
		RateLimiterConfig: &RateLimiterConfig{
			MaxTokens:   cfg.Provider.RateLimitBurst,
			RefillRate:  cfg.Provider.RateLimitPerSec,
			MinInterval: cfg.Provider.RateLimitMinWait,
		},
	})

	secondary := NewSecondaryClient(SecondaryConfig{
		BaseURL:   env.GEOCODE_SECONDARY_BASE_URL,
		UserAgent: env.GEOCODE_USER_AGENT,
		Country:   cfg.Provider.Country,
		Timeout:   cfg.Provider.Timeout,
	})

	var chain *Chain
	if primary == nil {
		log.Println("[GEOCODE] GEOCODE_PRIMARY_API_KEY not set, using secondary provider only")
		chain = NewChain(observer, secondary)
	} else {
		chain = NewChain(observer, primary, secondary)
	}
	log.Printf("[GEOCODE] Provider order: %s", strings.Join(chain.Providers(), " -> "))
	return chain, primary
}
