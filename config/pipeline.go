package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the geocoding pipeline tunables.
// Loaded from the YAML file named by GEOCODER_CONFIG; missing fields keep their defaults.
type PipelineConfig struct {
	Cache struct {
		JobTTL    time.Duration `yaml:"job_ttl"`
		ResultTTL time.Duration `yaml:"result_ttl"`
		MarkerTTL time.Duration `yaml:"marker_ttl"`
	} `yaml:"cache"`

	Broker struct {
		Exchange         string        `yaml:"exchange"`
		RequestQueue     string        `yaml:"request_queue"`
		RoutingKey       string        `yaml:"routing_key"`
		FailedQueue      string        `yaml:"failed_queue"`
		DeadLetterExch   string        `yaml:"dead_letter_exchange"`
		MessageTTL       time.Duration `yaml:"message_ttl"`
		Prefetch         int           `yaml:"prefetch"`
		ReconnectInitial time.Duration `yaml:"reconnect_initial"`
		ReconnectMax     time.Duration `yaml:"reconnect_max"`
		PublishTimeout   time.Duration `yaml:"publish_timeout"`
	} `yaml:"broker"`

	Worker struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
		LookupTimeout  time.Duration `yaml:"lookup_timeout"`
	} `yaml:"worker"`

	Poller struct {
		BaseInterval  time.Duration `yaml:"base_interval"`
		MaxInterval   time.Duration `yaml:"max_interval"`
		Multiplier    float64       `yaml:"multiplier"`
		Window        time.Duration `yaml:"window"`
		QueuedBailout time.Duration `yaml:"queued_bailout"`
	} `yaml:"poller"`

	Provider struct {
		Timeout          time.Duration `yaml:"timeout"`
		RateLimitBurst   float64       `yaml:"rate_limit_burst"`
		RateLimitPerSec  float64       `yaml:"rate_limit_per_sec"`
		RateLimitMinWait time.Duration `yaml:"rate_limit_min_interval"`
		Country          string        `yaml:"country"`
	} `yaml:"provider"`

	Cron struct {
		JobLogRetention time.Duration `yaml:"job_log_retention"`
	} `yaml:"cron"`
}

// DefaultPipelineConfig returns the production defaults
func DefaultPipelineConfig() PipelineConfig {
	var cfg PipelineConfig

	cfg.Cache.JobTTL = 15 * time.Minute
	cfg.Cache.ResultTTL = 24 * time.Hour
	cfg.Cache.MarkerTTL = 5 * time.Minute

	cfg.Broker.Exchange = "geocoding"
	cfg.Broker.RequestQueue = "geocoding.requests"
	cfg.Broker.RoutingKey = "geocoding.request"
	cfg.Broker.FailedQueue = "geocoding.failed"
	cfg.Broker.DeadLetterExch = "geocoding.dlx"
	cfg.Broker.MessageTTL = 5 * time.Minute
	cfg.Broker.Prefetch = 1
	cfg.Broker.ReconnectInitial = 1 * time.Second
	cfg.Broker.ReconnectMax = 30 * time.Second
	cfg.Broker.PublishTimeout = 2 * time.Second

	cfg.Worker.MaxAttempts = 3
	cfg.Worker.RetryBaseDelay = 1 * time.Second
	cfg.Worker.LookupTimeout = 15 * time.Second

	cfg.Poller.BaseInterval = 500 * time.Millisecond
	cfg.Poller.MaxInterval = 2 * time.Second
	cfg.Poller.Multiplier = 2
	cfg.Poller.Window = 30 * time.Second
	cfg.Poller.QueuedBailout = 9 * time.Second

	cfg.Provider.Timeout = 10 * time.Second
	cfg.Provider.RateLimitBurst = 5
	cfg.Provider.RateLimitPerSec = 1
	cfg.Provider.RateLimitMinWait = 100 * time.Millisecond
	cfg.Provider.Country = "us"

	cfg.Cron.JobLogRetention = 30 * 24 * time.Hour

	return cfg
}

// LoadPipelineConfig reads the YAML file at path over the defaults.
// An empty path returns the defaults.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with
func (c PipelineConfig) Validate() error {
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1")
	}
	if c.Cache.MarkerTTL <= 0 || c.Cache.JobTTL <= 0 || c.Cache.ResultTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Poller.Multiplier < 1 {
		return fmt.Errorf("poller.multiplier must be >= 1")
	}
	if c.Poller.BaseInterval <= 0 || c.Poller.MaxInterval < c.Poller.BaseInterval {
		return fmt.Errorf("poller intervals must satisfy 0 < base_interval <= max_interval")
	}
	return nil
}
