package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/utils/cache"
)

// CoordinatorConfig wires the coordinator's collaborators. Publisher, Recorder and
// Metrics are optional; without a Publisher every miss is resolved synchronously.
type CoordinatorConfig struct {
	Store         *Store
	Resolver      *Resolver
	Publisher     Publisher
	Recorder      JobRecorder
	Metrics       Metrics
	LookupTimeout time.Duration
}

// Coordinator is the producer side of the pipeline. It runs inline in request handlers.
type Coordinator struct {
	store         *Store
	resolver      *Resolver
	publisher     Publisher
	recorder      JobRecorder
	metrics       Metrics
	lookupTimeout time.Duration
	now           func() time.Time
}

// NewCoordinator creates a job coordinator
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 15 * time.Second
	}
	return &Coordinator{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		publisher:     cfg.Publisher,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		lookupTimeout: cfg.LookupTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) newJob(kind model.Kind, in model.Input) *model.GeocodeJob {
	return &model.GeocodeJob{
		JobID:    uuid.NewString(),
		Kind:     kind,
		Input:    in,
		Status:   model.JobStatusQueued,
		QueuedAt: c.now(),
	}
}

// Submit returns a completed job from cache, the in-flight job for the same input,
// a freshly queued job, or a job resolved synchronously when the broker is down.
// The only error is ErrInvalidInput.
func (c *Coordinator) Submit(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeJob, error) {
	if err := in.Validate(kind); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key := CacheKey(kind, in)

	// a lost marker race can leave nothing to join; one more pass re-reads the cache
	for pass := 0; pass < 2; pass++ {
		job, done := c.submitOnce(ctx, kind, in, key)
		if done {
			return job, nil
		}
	}

	log.Printf("[GEOCODE] Marker for %s kept changing, resolving directly", key)
	return c.resolveDirect(ctx, c.newJob(kind, in), key, false), nil
}

func (c *Coordinator) submitOnce(ctx context.Context, kind model.Kind, in model.Input, key string) (*model.GeocodeJob, bool) {
	entry, err := c.store.GetEntry(ctx, key)
	switch {
	case err == nil:
		job := c.newJob(kind, in)
		complete(job, model.JobSourceCache, entry.Result, job.QueuedAt)
		if err := c.store.PutJob(ctx, job); err != nil {
			log.Printf("[GEOCODE] Failed to write cached job %s: %v", job.JobID, err)
		}
		c.metrics.RecordSubmission(PathCache)
		c.metrics.RecordJobCompleted(model.JobSourceCache, 0)
		return job, true
	case cache.IsUnavailable(err):
		log.Printf("[GEOCODE] Cache unavailable, resolving %s directly: %v", key, err)
		return c.resolveDirect(ctx, c.newJob(kind, in), key, false), true
	case !errors.Is(err, cache.ErrNotFound):
		log.Printf("[GEOCODE] Ignoring unreadable cache entry %s: %v", key, err)
	}

	job := c.newJob(kind, in)
	claimed, err := c.store.ClaimMarker(ctx, key, job.JobID)
	if err != nil {
		log.Printf("[GEOCODE] Marker claim failed, resolving %s directly: %v", key, err)
		return c.resolveDirect(ctx, job, key, false), true
	}
	if !claimed {
		return c.joinInFlight(ctx, kind, in, key)
	}

	if c.publisher == nil {
		return c.resolveDirect(ctx, job, key, true), true
	}

	// the Queued record goes in before the message so a fast worker is never overwritten
	if err := c.store.PutJob(ctx, job); err != nil {
		log.Printf("[GEOCODE] Failed to write job %s, resolving directly: %v", job.JobID, err)
		return c.resolveDirect(ctx, job, key, true), true
	}

	body, err := json.Marshal(model.GeocodeJobMessage{
		JobID:    job.JobID,
		Kind:     kind,
		Input:    in,
		CacheKey: key,
		QueuedAt: job.QueuedAt,
	})
	if err != nil {
		return c.resolveDirect(ctx, job, key, true), true
	}

	if err := c.publisher.Publish(ctx, job.JobID, body); err != nil {
		c.metrics.RecordPublishFailure()
		log.Printf("[GEOCODE] Publish failed for job %s, resolving directly: %v", job.JobID, err)
		return c.resolveDirect(ctx, job, key, true), true
	}

	c.metrics.RecordSubmission(PathQueued)
	log.Printf("[GEOCODE] Queued job %s kind=%s input=%s", job.JobID, kind, in)
	return job, true
}

// joinInFlight returns the job currently holding the marker for key
func (c *Coordinator) joinInFlight(ctx context.Context, kind model.Kind, in model.Input, key string) (*model.GeocodeJob, bool) {
	existingID, err := c.store.GetMarker(ctx, key)
	if err != nil {
		if cache.IsUnavailable(err) {
			return c.resolveDirect(ctx, c.newJob(kind, in), key, false), true
		}
		// released between our claim and this read
		return nil, false
	}

	job, err := c.store.GetJob(ctx, existingID)
	switch {
	case err == nil:
	case errors.Is(err, ErrJobNotFound):
		// the owner has claimed the marker but not written its record yet
		job = &model.GeocodeJob{
			JobID:    existingID,
			Kind:     kind,
			Input:    in,
			Status:   model.JobStatusQueued,
			QueuedAt: c.now(),
		}
	default:
		log.Printf("[GEOCODE] Failed to read in-flight job %s: %v", existingID, err)
		return c.resolveDirect(ctx, c.newJob(kind, in), key, false), true
	}

	c.metrics.RecordSubmission(PathMultiplexed)
	log.Printf("[GEOCODE] Joined in-flight job %s for %s", existingID, key)
	return job, true
}

// resolveDirect runs the provider chain in-process and writes the outcome.
// The caller gets a terminal job and never learns why the broker path was skipped.
func (c *Coordinator) resolveDirect(ctx context.Context, job *model.GeocodeJob, key string, ownsMarker bool) *model.GeocodeJob {
	c.metrics.RecordSubmission(PathDirect)

	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	started := c.now()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &started
	job.Attempts = 1

	res, err := c.resolver.Resolve(lookupCtx, job.Kind, job.Input)
	finished := c.now()
	if err != nil {
		fail(job, model.JobSourceDirect, failureMessage(job.Input, 1, err), finished)
		c.metrics.RecordJobFailed(model.JobSourceDirect, finished.Sub(job.QueuedAt))
		log.Printf("[GEOCODE] Direct lookup failed for job %s: %v", job.JobID, err)
	} else {
		complete(job, model.JobSourceDirect, res.Result, finished)
		c.metrics.RecordJobCompleted(model.JobSourceDirect, finished.Sub(job.QueuedAt))
		entry := model.GeocodeCacheEntry{Kind: job.Kind, Result: res.Result, WrittenAt: finished}
		if err := c.store.PutEntry(ctx, key, entry); err != nil {
			log.Printf("[GEOCODE] Failed to cache result for %s: %v", key, err)
		}
	}

	if err := c.store.PutJob(ctx, job); err != nil && !cache.IsUnavailable(err) {
		log.Printf("[GEOCODE] Failed to write job %s: %v", job.JobID, err)
	}
	if ownsMarker {
		if _, err := c.store.ReleaseMarker(ctx, key, job.JobID); err != nil {
			log.Printf("[GEOCODE] Failed to release marker %s: %v", key, err)
		}
	}
	if c.recorder != nil {
		if err := c.recorder.RecordJobOutcome(ctx, job, key, res.Tried); err != nil {
			log.Printf("[GEOCODE] Failed to record job %s: %v", job.JobID, err)
		}
	}
	return job
}

// GetStatus returns the job record for jobID
func (c *Coordinator) GetStatus(ctx context.Context, jobID string) (*model.GeocodeJob, error) {
	if jobID == "" {
		return nil, ErrJobNotFound
	}
	return c.store.GetJob(ctx, jobID)
}

// Invalidate drops the cache entry and any in-flight marker so the next submit re-resolves
func (c *Coordinator) Invalidate(ctx context.Context, kind model.Kind, in model.Input) error {
	if err := in.Validate(kind); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key := CacheKey(kind, in)
	if err := c.store.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	log.Printf("[GEOCODE] Invalidated %s", key)
	return nil
}

// Lookup resolves synchronously without creating a job: cache first, then the provider chain
func (c *Coordinator) Lookup(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeResult, model.JobSource, error) {
	if err := in.Validate(kind); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key := CacheKey(kind, in)

	entry, err := c.store.GetEntry(ctx, key)
	if err == nil {
		return &entry.Result, model.JobSourceCache, nil
	}
	if cache.IsUnavailable(err) {
		log.Printf("[GEOCODE] Cache unavailable during lookup of %s: %v", key, err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	res, err := c.resolver.Resolve(lookupCtx, kind, in)
	if err != nil {
		return nil, "", err
	}

	entry = &model.GeocodeCacheEntry{Kind: kind, Result: res.Result, WrittenAt: c.now()}
	if err := c.store.PutEntry(ctx, key, *entry); err != nil {
		log.Printf("[GEOCODE] Failed to cache result for %s: %v", key, err)
	}
	return &res.Result, model.JobSourceDirect, nil
}
