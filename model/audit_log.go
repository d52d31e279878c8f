package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GeocodeJobLog is the durable audit row written when a geocode job reaches a terminal status
type GeocodeJobLog struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	JobID          string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"job_id"`
	Kind           string         `gorm:"type:varchar(32);not null;index" json:"kind"`
	CacheKey       string         `gorm:"type:varchar(255);not null;index" json:"cache_key"`
	Status         string         `gorm:"type:varchar(20);not null;index" json:"status"`
	Source         string         `gorm:"type:varchar(20)" json:"source"`
	Result         datatypes.JSON `gorm:"type:jsonb" json:"result,omitempty"`
	ErrorMsg       string         `gorm:"type:text" json:"error_msg,omitempty"`
	Attempts       int            `json:"attempts"`
	ProvidersTried pq.StringArray `gorm:"type:text[]" json:"providers_tried"`
	QueuedAt       time.Time      `json:"queued_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
	DurationMs     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GeocodeJobLog
func (GeocodeJobLog) TableName() string {
	return "geocode_job_logs"
}

// CronJobLog represents execution logs for maintenance cron jobs
type CronJobLog struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	JobName     string         `gorm:"type:varchar(100);not null;index" json:"job_name"`
	Status      string         `gorm:"type:varchar(20);not null" json:"status"` // running, completed, failed
	StartedAt   time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Duration    int            `json:"duration_ms"`
	Message     string         `gorm:"type:text" json:"message"`
	ErrorMsg    string         `gorm:"type:text" json:"error_msg"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for CronJobLog
func (CronJobLog) TableName() string {
	return "cron_job_logs"
}
