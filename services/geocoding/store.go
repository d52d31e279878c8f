package geocoding

import (
	"context"
	"errors"
	"time"

	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/utils/cache"
)

// Cache is the subset of the Redis cache the pipeline uses
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	DeleteIfEquals(ctx context.Context, key, value string) (bool, error)
}

// Store reads and writes job records, cache entries and in-flight markers
type Store struct {
	cache     Cache
	jobTTL    time.Duration
	resultTTL time.Duration
	markerTTL time.Duration
}

// NewStore creates a store using the pipeline TTLs
func NewStore(c Cache, cfg config.PipelineConfig) *Store {
	return &Store{
		cache:     c,
		jobTTL:    cfg.Cache.JobTTL,
		resultTTL: cfg.Cache.ResultTTL,
		markerTTL: cfg.Cache.MarkerTTL,
	}
}

// GetEntry returns the cached result for a normalized key, or cache.ErrNotFound
func (s *Store) GetEntry(ctx context.Context, cacheKey string) (*model.GeocodeCacheEntry, error) {
	var entry model.GeocodeCacheEntry
	if err := s.cache.GetJSON(ctx, resultKey(cacheKey), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutEntry stores a successful result for the result TTL
func (s *Store) PutEntry(ctx context.Context, cacheKey string, entry model.GeocodeCacheEntry) error {
	return s.cache.SetJSON(ctx, resultKey(cacheKey), entry, s.resultTTL)
}

// GetJob returns a job record, or ErrJobNotFound once it has expired
func (s *Store) GetJob(ctx context.Context, jobID string) (*model.GeocodeJob, error) {
	var job model.GeocodeJob
	if err := s.cache.GetJSON(ctx, jobKey(jobID), &job); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// PutJob writes the job record; every write restarts the job TTL
func (s *Store) PutJob(ctx context.Context, job *model.GeocodeJob) error {
	return s.cache.SetJSON(ctx, jobKey(job.JobID), job, s.jobTTL)
}

// ClaimMarker atomically creates the in-flight marker. False means another job holds it.
func (s *Store) ClaimMarker(ctx context.Context, cacheKey, jobID string) (bool, error) {
	return s.cache.SetNX(ctx, markerKey(cacheKey), jobID, s.markerTTL)
}

// GetMarker returns the jobId holding the marker, or cache.ErrNotFound
func (s *Store) GetMarker(ctx context.Context, cacheKey string) (string, error) {
	return s.cache.Get(ctx, markerKey(cacheKey))
}

// ReleaseMarker deletes the marker only while it still belongs to jobID
func (s *Store) ReleaseMarker(ctx context.Context, cacheKey, jobID string) (bool, error) {
	return s.cache.DeleteIfEquals(ctx, markerKey(cacheKey), jobID)
}

// Invalidate removes the cache entry and any marker for the key
func (s *Store) Invalidate(ctx context.Context, cacheKey string) error {
	return s.cache.Delete(ctx, resultKey(cacheKey), markerKey(cacheKey))
}
