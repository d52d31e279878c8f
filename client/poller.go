package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/utils/backoff"
)

// API is the subset of the geocoder API the poller drives
type API interface {
	Submit(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeJob, error)
	GetStatus(ctx context.Context, jobID string) (*model.GeocodeJob, error)
	Lookup(ctx context.Context, kind model.Kind, in model.Input) (*LookupResult, error)
}

// PollerConfig controls the polling schedule
type PollerConfig struct {
	BaseInterval time.Duration
	MaxInterval  time.Duration
	Multiplier   float64
	// Window bounds the total wait for a terminal status
	Window time.Duration
	// QueuedBailout is how long a job may sit in queued before the worker tier is presumed down
	QueuedBailout time.Duration
	// FallbackOnTimeout resolves synchronously instead of returning ErrTimeout
	FallbackOnTimeout bool

	Sleep backoff.SleepFunc
	Now   func() time.Time
}

// PollerConfigFrom copies the poller section of the pipeline config
func PollerConfigFrom(cfg config.PipelineConfig) PollerConfig {
	return PollerConfig{
		BaseInterval:  cfg.Poller.BaseInterval,
		MaxInterval:   cfg.Poller.MaxInterval,
		Multiplier:    cfg.Poller.Multiplier,
		Window:        cfg.Poller.Window,
		QueuedBailout: cfg.Poller.QueuedBailout,
	}
}

// Outcome is a resolved geocode, whether it came from the job or a direct lookup
type Outcome struct {
	JobID    string
	Result   model.GeocodeResult
	Source   model.JobSource
	FellBack bool
}

// Poller submits jobs and waits for them to reach a terminal status
type Poller struct {
	api API
	cfg PollerConfig
}

// NewPoller creates a poller. Zero config fields take the pipeline defaults.
func NewPoller(api API, cfg PollerConfig) *Poller {
	defaults := PollerConfigFrom(config.DefaultPipelineConfig())
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = defaults.BaseInterval
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = defaults.Multiplier
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.QueuedBailout <= 0 {
		cfg.QueuedBailout = defaults.QueuedBailout
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Poller{api: api, cfg: cfg}
}

// Geocode submits (kind, in) and waits for the outcome
func (p *Poller) Geocode(ctx context.Context, kind model.Kind, in model.Input) (*Outcome, error) {
	job, err := p.api.Submit(ctx, kind, in)
	if err != nil {
		return nil, err
	}
	return p.Await(ctx, job)
}

// Await polls job until it completes or fails. A job stuck in queued past QueuedBailout,
// or whose record has expired, is resolved with a direct lookup instead.
// Returns ErrJobFailed for failed jobs and ErrTimeout when the window runs out.
func (p *Poller) Await(ctx context.Context, job *model.GeocodeJob) (*Outcome, error) {
	start := p.cfg.Now()
	bailoutAt := start.Add(p.cfg.QueuedBailout)
	deadline := start.Add(p.cfg.Window)
	progressed := job.Status != model.JobStatusQueued

	current := job
	for attempt := 1; ; attempt++ {
		switch current.Status {
		case model.JobStatusCompleted:
			if current.Result == nil {
				return nil, fmt.Errorf("%w: job %s completed without a result", ErrJobFailed, current.JobID)
			}
			return &Outcome{JobID: current.JobID, Result: *current.Result, Source: current.Source}, nil
		case model.JobStatusFailed:
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, current.Error)
		}

		now := p.cfg.Now()
		if !progressed && !now.Before(bailoutAt) {
			log.Printf("[POLLER] Job %s still queued after %s, resolving directly", job.JobID, now.Sub(start))
			return p.fallback(ctx, job)
		}
		if !now.Before(deadline) {
			if p.cfg.FallbackOnTimeout {
				log.Printf("[POLLER] Job %s timed out after %s, resolving directly", job.JobID, p.cfg.Window)
				return p.fallback(ctx, job)
			}
			return nil, fmt.Errorf("%w: job %s after %s", ErrTimeout, job.JobID, p.cfg.Window)
		}

		delay := backoff.Geometric(p.cfg.BaseInterval, p.cfg.MaxInterval, p.cfg.Multiplier, attempt)
		next := deadline
		if !progressed && bailoutAt.Before(next) {
			next = bailoutAt
		}
		if remaining := next.Sub(now); delay > remaining {
			delay = remaining
		}

		if err := p.cfg.Sleep(ctx, delay); err != nil {
			return nil, err
		}

		status, err := p.api.GetStatus(ctx, job.JobID)
		if errors.Is(err, ErrJobNotFound) {
			log.Printf("[POLLER] Job %s record expired, resolving directly", job.JobID)
			return p.fallback(ctx, job)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[POLLER] Status check for job %s failed: %v", job.JobID, err)
			continue
		}

		current = status
		if current.Status != model.JobStatusQueued {
			progressed = true
		}
	}
}

func (p *Poller) fallback(ctx context.Context, job *model.GeocodeJob) (*Outcome, error) {
	res, err := p.api.Lookup(ctx, job.Kind, job.Input)
	if err != nil {
		if IsGeocodeFailed(err) {
			return nil, fmt.Errorf("%w: %v", ErrJobFailed, err)
		}
		return nil, err
	}
	return &Outcome{JobID: job.JobID, Result: res.Result, Source: res.Source, FellBack: true}, nil
}
