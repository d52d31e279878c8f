package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sahilchouksey/geocoder/model"
)

const (
	jobCountInflight      = "count_inflight_markers"
	jobInspectDeadLetters = "inspect_dead_letters"
	jobResetRateLimits    = "reset_provider_rate_limits"
	jobPruneJobLogs       = "prune_job_logs"
)

// CountInflightMarkers samples how many jobs currently hold an in-flight marker
func (m *CronManager) CountInflightMarkers() {
	if m.deps.Cache == nil {
		return
	}
	m.logJobStart(jobCountInflight)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	keys, err := m.deps.Cache.KeysMatching(ctx, fmt.Sprintf(model.RedisKeyGeocodeInFlight, "*"))
	if err != nil {
		m.logJobError(jobCountInflight, fmt.Errorf("failed to scan markers: %w", err))
		return
	}

	if m.deps.Gauges != nil {
		m.deps.Gauges.SetInflightMarkers(len(keys))
	}
	m.logJobComplete(jobCountInflight, fmt.Sprintf("%d in-flight markers", len(keys)))
}

// InspectDeadLetters samples the depth of geocoding.failed
func (m *CronManager) InspectDeadLetters() {
	if m.deps.DeadLetters == nil {
		return
	}
	m.logJobStart(jobInspectDeadLetters)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	depth, err := m.deps.DeadLetters.FailedQueueDepth(ctx)
	if err != nil {
		m.logJobError(jobInspectDeadLetters, fmt.Errorf("failed to inspect dead letters: %w", err))
		return
	}

	if m.deps.Gauges != nil {
		m.deps.Gauges.SetDeadLetterDepth(depth)
	}
	m.logJobComplete(jobInspectDeadLetters, fmt.Sprintf("%d dead-lettered jobs", depth))
}

// ResetProviderRateLimits clears backoff applied after HTTP 429 responses
func (m *CronManager) ResetProviderRateLimits() {
	if len(m.deps.RateLimiters) == 0 {
		return
	}
	m.logJobStart(jobResetRateLimits)

	for _, limiter := range m.deps.RateLimiters {
		limiter.ResetToDefaults()
	}

	m.logJobComplete(jobResetRateLimits, fmt.Sprintf("Reset %d rate limiters", len(m.deps.RateLimiters)))
}

// PruneJobLogs deletes audit rows past the retention window
func (m *CronManager) PruneJobLogs() {
	if m.deps.JobLogs == nil {
		return
	}
	m.logJobStart(jobPruneJobLogs)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := m.deps.JobLogs.PruneJobLogs(ctx, m.deps.Retention)
	if err != nil {
		m.logJobError(jobPruneJobLogs, fmt.Errorf("failed to prune job logs: %w", err))
		return
	}

	m.logJobComplete(jobPruneJobLogs, fmt.Sprintf("Deleted %d job logs older than %s", deleted, m.deps.Retention))
}
