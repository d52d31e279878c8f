package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind identifies what a geocoding job resolves
type Kind string

const (
	KindForwardCity      Kind = "forward_city"       // postal code -> city / place name
	KindForwardCoords    Kind = "forward_coords"     // postal code -> lat/lng
	KindReverseToRegion  Kind = "reverse_to_region"  // lat/lng -> postal / region code
	KindReverseToAddress Kind = "reverse_to_address" // lat/lng -> formatted address
)

// Kinds lists every supported kind in a stable order
var Kinds = []Kind{KindForwardCity, KindForwardCoords, KindReverseToRegion, KindReverseToAddress}

var ErrUnknownKind = errors.New("unknown geocode kind")

// ParseKind converts a request string into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IsForward reports whether the kind takes a postal code as input
func (k Kind) IsForward() bool {
	return k == KindForwardCity || k == KindForwardCoords
}

// JobStatus represents the lifecycle state of a geocode job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobSource records which path produced a job's outcome
type JobSource string

const (
	JobSourceCache  JobSource = "cache"
	JobSourceWorker JobSource = "worker"
	JobSourceDirect JobSource = "direct"
)

// Coordinates is a latitude/longitude pair in decimal degrees
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Input is either a postal code (forward kinds) or coordinates (reverse kinds)
type Input struct {
	PostalCode string       `json:"postal_code,omitempty"`
	Coords     *Coordinates `json:"coords,omitempty"`
}

// PostalInput builds a forward input
func PostalInput(postalCode string) Input {
	return Input{PostalCode: postalCode}
}

// CoordsInput builds a reverse input
func CoordsInput(lat, lng float64) Input {
	return Input{Coords: &Coordinates{Lat: lat, Lng: lng}}
}

// Validate checks the input matches the shape the kind expects
func (in Input) Validate(kind Kind) error {
	switch kind {
	case KindForwardCity, KindForwardCoords:
		if in.PostalCode == "" {
			return errors.New("postal_code is required for forward lookups")
		}
		if len(in.PostalCode) > 16 {
			return errors.New("postal_code must be at most 16 characters")
		}
		return nil
	case KindReverseToRegion, KindReverseToAddress:
		if in.Coords == nil {
			return errors.New("lat and lng are required for reverse lookups")
		}
		if !finite(in.Coords.Lat) || !finite(in.Coords.Lng) {
			return errors.New("lat and lng must be finite numbers")
		}
		if in.Coords.Lat < -90 || in.Coords.Lat > 90 {
			return errors.New("lat must be between -90 and 90")
		}
		if in.Coords.Lng < -180 || in.Coords.Lng > 180 {
			return errors.New("lng must be between -180 and 180")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// String renders the input for logs
func (in Input) String() string {
	if in.Coords != nil {
		return fmt.Sprintf("%.6f,%.6f", in.Coords.Lat, in.Coords.Lng)
	}
	return in.PostalCode
}

// GeocodeResult holds the resolved value. Only the field matching the job kind is set.
type GeocodeResult struct {
	City             string       `json:"city,omitempty"`
	Coords           *Coordinates `json:"coords,omitempty"`
	RegionCode       string       `json:"region_code,omitempty"`
	FormattedAddress string       `json:"formatted_address,omitempty"`
	Provider         string       `json:"provider,omitempty"`
}

// GeocodeJob is the transient job record stored in Redis
type GeocodeJob struct {
	JobID    string         `json:"job_id"`
	Kind     Kind           `json:"kind"`
	Input    Input          `json:"input"`
	Status   JobStatus      `json:"status"`
	Source   JobSource      `json:"source,omitempty"`
	Result   *GeocodeResult `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Attempts int            `json:"attempts,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GeocodeCacheEntry is the long-lived mapping from normalized input to result
type GeocodeCacheEntry struct {
	Kind      Kind          `json:"kind"`
	Result    GeocodeResult `json:"result"`
	WrittenAt time.Time     `json:"written_at"`
}

// GeocodeJobMessage is the broker payload for geocoding.requests
type GeocodeJobMessage struct {
	JobID    string    `json:"job_id"`
	Kind     Kind      `json:"kind"`
	Input    Input     `json:"input"`
	CacheKey string    `json:"cache_key"`
	QueuedAt time.Time `json:"queued_at"`
}

// Redis key patterns for the geocoding pipeline
const (
	// RedisKeyGeocodeJob stores the transient job record as JSON
	// Usage: fmt.Sprintf(RedisKeyGeocodeJob, jobID)
	RedisKeyGeocodeJob = "geocode:job:%s"

	// RedisKeyGeocodeResult stores the permanent mapping for a normalized key
	// Usage: fmt.Sprintf(RedisKeyGeocodeResult, cacheKey)
	RedisKeyGeocodeResult = "geocode:result:%s"

	// RedisKeyGeocodeInFlight maps a normalized key to the jobId processing it
	// Usage: fmt.Sprintf(RedisKeyGeocodeInFlight, cacheKey)
	RedisKeyGeocodeInFlight = "geocode:inflight:%s"
)
