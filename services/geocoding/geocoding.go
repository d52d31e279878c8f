// Package geocoding implements the asynchronous geocoding pipeline: the job coordinator
// that runs inside API requests and the worker that consumes queued jobs.
package geocoding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/services/geocoding/provider"
)

var (
	ErrJobNotFound  = errors.New("geocode job not found")
	ErrInvalidInput = errors.New("invalid geocode input")
)

// Publisher enqueues job messages
type Publisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// DeadLetterPublisher receives jobs that exhausted their retries
type DeadLetterPublisher interface {
	PublishFailed(ctx context.Context, messageID string, body []byte, reason string) error
}

// JobRecorder persists terminal job outcomes for operators
type JobRecorder interface {
	RecordJobOutcome(ctx context.Context, job *model.GeocodeJob, cacheKey string, providersTried []string) error
}

// Metrics receives pipeline events
type Metrics interface {
	RecordSubmission(path string)
	RecordPublishFailure()
	RecordWorkerAttempt(outcome string)
	RecordJobCompleted(source model.JobSource, latency time.Duration)
	RecordJobFailed(source model.JobSource, latency time.Duration)
}

// Submission paths reported to Metrics
const (
	PathCache       = "cache"
	PathMultiplexed = "multiplexed"
	PathQueued      = "queued"
	PathDirect      = "direct"
)

type noopMetrics struct{}

func (noopMetrics) RecordSubmission(string) {}
func (noopMetrics) RecordPublishFailure() {}
func (noopMetrics) RecordWorkerAttempt(string) {}
func (noopMetrics) RecordJobCompleted(model.JobSource, time.Duration) {}
func (noopMetrics) RecordJobFailed(model.JobSource, time.Duration) {}

// failureMessage is the user-facing error stored on a failed job
func failureMessage(in model.Input, attempts int, err error) string {
	if errors.Is(err, provider.ErrNotFound) {
		return fmt.Sprintf("could not determine location for %s", in.String())
	}
	if attempts > 1 {
		return fmt.Sprintf("geocoding failed after %d attempts: %v", attempts, err)
	}
	return fmt.Sprintf("geocoding failed: %v", err)
}

// complete moves job to Completed with result
func complete(job *model.GeocodeJob, source model.JobSource, result model.GeocodeResult, at time.Time) {
	job.Status = model.JobStatusCompleted
	job.Source = source
	job.Result = &result
	job.Error = ""
	job.CompletedAt = &at
}

// fail moves job to Failed with msg
func fail(job *model.GeocodeJob, source model.JobSource, msg string, at time.Time) {
	job.Status = model.JobStatusFailed
	job.Source = source
	job.Result = nil
	job.Error = msg
	job.CompletedAt = &at
}
