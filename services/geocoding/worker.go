package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/services/broker"
	"github.com/sahilchouksey/geocoder/services/geocoding/provider"
	"github.com/sahilchouksey/geocoder/utils/backoff"
)

// Consumer delivers queued job messages to a handler
type Consumer interface {
	Consume(ctx context.Context, consumerTag string, handler broker.Handler) error
}

// WorkerConfig wires the worker's collaborators. DeadLetters, Recorder and Metrics are optional.
type WorkerConfig struct {
	Store         *Store
	Resolver      *Resolver
	DeadLetters   DeadLetterPublisher
	Recorder      JobRecorder
	Metrics       Metrics
	MaxAttempts   int
	RetryBase     time.Duration
	LookupTimeout time.Duration
	// Sleep waits between attempts; defaults to backoff.Sleep
	Sleep backoff.SleepFunc
}

// Worker consumes geocoding.requests and resolves one job at a time
type Worker struct {
	store         *Store
	resolver      *Resolver
	deadLetters   DeadLetterPublisher
	recorder      JobRecorder
	metrics       Metrics
	maxAttempts   int
	retryBase     time.Duration
	lookupTimeout time.Duration
	sleep         backoff.SleepFunc
	now           func() time.Time
}

// NewWorker creates a worker
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 15 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.Sleep
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	return &Worker{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		deadLetters:   cfg.DeadLetters,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		maxAttempts:   cfg.MaxAttempts,
		retryBase:     cfg.RetryBase,
		lookupTimeout: cfg.LookupTimeout,
		sleep:         cfg.Sleep,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes until ctx is cancelled
func (w *Worker) Run(ctx context.Context, consumer Consumer, consumerTag string) error {
	log.Printf("[WORKER] Starting consumer %s (max_attempts=%d, retry_base=%s)", consumerTag, w.maxAttempts, w.retryBase)
	err := consumer.Consume(ctx, consumerTag, w.HandleMessage)
	log.Printf("[WORKER] Consumer %s stopped", consumerTag)
	return err
}

// HandleMessage processes one delivery and tells the broker how to settle it
func (w *Worker) HandleMessage(ctx context.Context, body []byte, redelivered bool) broker.Disposition {
	var msg model.GeocodeJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Printf("[WORKER] Rejecting malformed message: %v", err)
		return broker.Reject
	}
	if msg.JobID == "" {
		log.Println("[WORKER] Rejecting message without job_id")
		return broker.Reject
	}
	if err := msg.Input.Validate(msg.Kind); err != nil {
		log.Printf("[WORKER] Rejecting job %s: %v", msg.JobID, err)
		return broker.Reject
	}

	key := CacheKey(msg.Kind, msg.Input)
	job := w.loadJob(ctx, msg)
	if job.Status.IsTerminal() {
		log.Printf("[WORKER] Job %s already %s, acking redelivery=%v", job.JobID, job.Status, redelivered)
		w.releaseMarker(ctx, key, job.JobID)
		return broker.Ack
	}

	started := w.now()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &started
	if err := w.store.PutJob(ctx, job); err != nil {
		log.Printf("[WORKER] Failed to mark job %s processing: %v", job.JobID, err)
	}

	res, attempts, err := w.resolveWithRetry(ctx, job)
	job.Attempts = attempts
	if err != nil && ctx.Err() != nil {
		// shutting down: leave the job for the next consumer
		log.Printf("[WORKER] Job %s interrupted after %d attempt(s), requeueing", job.JobID, attempts)
		return broker.Requeue
	}

	finished := w.now()
	if err == nil {
		w.succeed(ctx, job, key, res, finished)
		return broker.Ack
	}

	reason := failureMessage(job.Input, attempts, err)
	fail(job, model.JobSourceWorker, reason, finished)
	if err := w.store.PutJob(ctx, job); err != nil {
		log.Printf("[WORKER] Failed to write failed job %s: %v", job.JobID, err)
	}
	w.releaseMarker(ctx, key, job.JobID)
	w.record(ctx, job, key, res.Tried)
	w.metrics.RecordJobFailed(model.JobSourceWorker, finished.Sub(job.QueuedAt))
	log.Printf("[WORKER] Job %s failed after %d attempt(s): %v", job.JobID, attempts, err)

	if w.deadLetters != nil {
		if err := w.deadLetters.PublishFailed(ctx, job.JobID, body, reason); err != nil {
			log.Printf("[WORKER] Failed to dead-letter job %s: %v", job.JobID, err)
		}
	}
	return broker.Ack
}

func (w *Worker) succeed(ctx context.Context, job *model.GeocodeJob, key string, res Resolution, at time.Time) {
	entry := model.GeocodeCacheEntry{Kind: job.Kind, Result: res.Result, WrittenAt: at}
	if err := w.store.PutEntry(ctx, key, entry); err != nil {
		log.Printf("[WORKER] Failed to cache result for %s: %v", key, err)
	}

	complete(job, model.JobSourceWorker, res.Result, at)
	if err := w.store.PutJob(ctx, job); err != nil {
		log.Printf("[WORKER] Failed to write completed job %s: %v", job.JobID, err)
	}
	w.releaseMarker(ctx, key, job.JobID)
	w.record(ctx, job, key, res.Tried)
	w.metrics.RecordJobCompleted(model.JobSourceWorker, at.Sub(job.QueuedAt))
	log.Printf("[WORKER] Job %s completed via %s in %d attempt(s)", job.JobID, res.Result.Provider, job.Attempts)
}

// loadJob returns the stored record, or rebuilds it from the message when it has expired
func (w *Worker) loadJob(ctx context.Context, msg model.GeocodeJobMessage) *model.GeocodeJob {
	job, err := w.store.GetJob(ctx, msg.JobID)
	if err == nil {
		return job
	}
	if !errors.Is(err, ErrJobNotFound) {
		log.Printf("[WORKER] Failed to load job %s: %v", msg.JobID, err)
	}
	return &model.GeocodeJob{
		JobID:    msg.JobID,
		Kind:     msg.Kind,
		Input:    msg.Input,
		Status:   model.JobStatusQueued,
		QueuedAt: msg.QueuedAt,
	}
}

// resolveWithRetry makes up to maxAttempts passes through the provider chain, sleeping
// retryBase * 2^(n-1) after failed attempt n. Not-found answers are final.
func (w *Worker) resolveWithRetry(ctx context.Context, job *model.GeocodeJob) (Resolution, int, error) {
	var (
		res   Resolution
		err   error
		tried []string
	)

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lookupCtx, cancel := context.WithTimeout(ctx, w.lookupTimeout)
		res, err = w.resolver.Resolve(lookupCtx, job.Kind, job.Input)
		cancel()

		tried = append(tried, res.Tried...)
		w.metrics.RecordWorkerAttempt(provider.Outcome(err))
		if err == nil {
			res.Tried = tried
			return res, attempt, nil
		}
		if errors.Is(err, provider.ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, model.ErrUnknownKind) {
			return Resolution{Tried: tried}, attempt, err
		}
		if ctx.Err() != nil {
			return Resolution{Tried: tried}, attempt, err
		}

		if attempt < w.maxAttempts {
			delay := backoff.Exponential(w.retryBase, 0, attempt)
			log.Printf("[WORKER] Job %s attempt %d/%d failed, retrying in %s: %v", job.JobID, attempt, w.maxAttempts, delay, err)
			if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
				return Resolution{Tried: tried}, attempt, err
			}
		} else {
			return Resolution{Tried: tried}, attempt, err
		}
	}
	return Resolution{Tried: tried}, w.maxAttempts, err
}

func (w *Worker) releaseMarker(ctx context.Context, key, jobID string) {
	released, err := w.store.ReleaseMarker(ctx, key, jobID)
	if err != nil {
		log.Printf("[WORKER] Failed to release marker %s: %v", key, err)
		return
	}
	if !released {
		log.Printf("[WORKER] Marker %s no longer held by job %s", key, jobID)
	}
}

func (w *Worker) record(ctx context.Context, job *model.GeocodeJob, key string, tried []string) {
	if w.recorder == nil {
		return
	}
	if err := w.recorder.RecordJobOutcome(ctx, job, key, tried); err != nil {
		log.Printf("[WORKER] Failed to record job %s: %v", job.JobID, err)
	}
}
