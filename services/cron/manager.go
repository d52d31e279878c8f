package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/geocoder/model"
	"gorm.io/gorm"
)

// KeyScanner lists cache keys matching a glob pattern
type KeyScanner interface {
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
}

// DeadLetterInspector reports the depth of the failed-jobs queue
type DeadLetterInspector interface {
	FailedQueueDepth(ctx context.Context) (int, error)
}

// RateLimitResetter restores a provider's default request rate
type RateLimitResetter interface {
	ResetToDefaults()
}

// JobLogPruner removes old audit rows
type JobLogPruner interface {
	PruneJobLogs(ctx context.Context, retention time.Duration) (int64, error)
}

// Gauges receives the values sampled by the maintenance jobs
type Gauges interface {
	SetInflightMarkers(n int)
	SetDeadLetterDepth(n int)
}

// Deps holds what the maintenance jobs operate on. Nil members disable their job.
type Deps struct {
	Cache        KeyScanner
	DeadLetters  DeadLetterInspector
	RateLimiters []RateLimitResetter
	JobLogs      JobLogPruner
	Gauges       Gauges
	Retention    time.Duration
	// DB records each run in cron_job_logs when set
	DB *gorm.DB
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron *cron.Cron
	deps Deps
}

// NewCronManager creates a new cron manager
func NewCronManager(deps Deps) *CronManager {
	if deps.Retention <= 0 {
		deps.Retention = 30 * 24 * time.Hour
	}

	// Create cron with seconds precision
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron: c,
		deps: deps,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops all cron jobs
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	schedule := []struct {
		spec string
		name string
		run  func()
	}{
		// 1. Every minute: sample live in-flight markers
		{"0 * * * * *", jobCountInflight, m.CountInflightMarkers},
		// 2. Every 5 minutes: inspect geocoding.failed
		{"0 */5 * * * *", jobInspectDeadLetters, m.InspectDeadLetters},
		// 3. Every hour: undo any 429 slowdown on the providers
		{"0 0 * * * *", jobResetRateLimits, m.ResetProviderRateLimits},
		// 4. Daily at 2 AM: prune old audit rows
		{"0 0 2 * * *", jobPruneJobLogs, m.PruneJobLogs},
	}

	for _, job := range schedule {
		if _, err := m.cron.AddFunc(job.spec, job.run); err != nil {
			return err
		}
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	if m.deps.DB == nil {
		return
	}
	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
		Metadata:  []byte("{}"),
	}
	m.deps.DB.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	if m.deps.DB == nil {
		return
	}
	m.deps.DB.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	if m.deps.DB == nil {
		return
	}
	m.deps.DB.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
