package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/model"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GORMStore is the Postgres-backed job outcome audit store
type GORMStore struct {
	db *gorm.DB
}

// StartGORM initializes a GORM connection to PostgreSQL
func StartGORM(env *config.EnviornmentVariable) (*GORMStore, error) {
	// Build DSN (Data Source Name)
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		env.DB_HOST,
		env.DB_USER_NAME,
		env.DB_PASSWORD,
		env.DB_NAME,
		env.DB_PORT,
		env.DB_SSL_MODE,
	)

	gormLogger := logger.Default.LogMode(logger.Info)
	if env.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		log.Println("Unable to connect to PostgreSQL with GORM:", err)
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Audit writes are small and infrequent
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("Successfully connected to PostgreSQL Database with GORM.")

	return &GORMStore{db: db}, nil
}

// NewGORMStore wraps an existing connection
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}

// Init runs the AutoMigrate to create/update tables
func (s *GORMStore) Init() error {
	log.Println("Running GORM AutoMigrate for audit models...")

	err := s.db.AutoMigrate(
		&model.GeocodeJobLog{},
		&model.CronJobLog{},
	)
	if err != nil {
		log.Println("Error running AutoMigrate:", err)
		return err
	}

	log.Println("GORM AutoMigrate completed successfully!")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	log.Println("Closing GORM PostgreSQL connection...")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	return s.Ping(context.Background())
}

// Ping checks the connection within ctx
func (s *GORMStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// RecordJobOutcome upserts the audit row for a terminal job
func (s *GORMStore) RecordJobOutcome(ctx context.Context, job *model.GeocodeJob, cacheKey string, providersTried []string) error {
	row, err := jobLogFrom(job, cacheKey, providersTried)
	if err != nil {
		return err
	}

	// Redelivered jobs overwrite the earlier row
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "source", "result", "error_msg", "attempts",
			"providers_tried", "completed_at", "duration_ms", "updated_at",
		}),
	}).Create(&row).Error
}

// ListRecentFailures returns the newest failed jobs first
func (s *GORMStore) ListRecentFailures(ctx context.Context, limit int) ([]model.GeocodeJobLog, error) {
	var logs []model.GeocodeJobLog
	err := s.db.WithContext(ctx).
		Where("status = ?", string(model.JobStatusFailed)).
		Order("completed_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// PruneJobLogs deletes audit rows older than retention and returns how many were removed
func (s *GORMStore) PruneJobLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&model.GeocodeJobLog{})
	return result.RowsAffected, result.Error
}

func jobLogFrom(job *model.GeocodeJob, cacheKey string, providersTried []string) (model.GeocodeJobLog, error) {
	row := model.GeocodeJobLog{
		JobID:          job.JobID,
		Kind:           string(job.Kind),
		CacheKey:       cacheKey,
		Status:         string(job.Status),
		Source:         string(job.Source),
		ErrorMsg:       job.Error,
		Attempts:       job.Attempts,
		ProvidersTried: pq.StringArray(providersTried),
		QueuedAt:       job.QueuedAt,
		CompletedAt:    job.CompletedAt,
	}
	if row.ProvidersTried == nil {
		row.ProvidersTried = pq.StringArray{}
	}

	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return row, fmt.Errorf("failed to encode result for job %s: %w", job.JobID, err)
		}
		row.Result = datatypes.JSON(raw)
	}

	if job.CompletedAt != nil && !job.QueuedAt.IsZero() {
		row.DurationMs = job.CompletedAt.Sub(job.QueuedAt).Milliseconds()
	}
	return row, nil
}
