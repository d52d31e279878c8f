package geocoding

import (
	"fmt"
	"math"
	"strconv"

	"github.com/sahilchouksey/geocoder/model"
)

// CoordinatePrecision is the number of decimal places kept in cache keys (~11 m)
const CoordinatePrecision = 4

var precisionScale = math.Pow10(CoordinatePrecision)

// NormalizeCoordinate rounds v to CoordinatePrecision decimal places
func NormalizeCoordinate(v float64) float64 {
	r := math.Round(v*precisionScale) / precisionScale
	if r == 0 {
		// fold -0 into 0 so both render the same
		return 0
	}
	return r
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(NormalizeCoordinate(v), 'f', CoordinatePrecision, 64)
}

// CacheKey returns the normalized key shared by the cache entry and in-flight marker.
// Postal codes are used exactly as provided; coordinates are rounded.
func CacheKey(kind model.Kind, in model.Input) string {
	if kind.IsForward() || in.Coords == nil {
		return fmt.Sprintf("%s:%s", kind, in.PostalCode)
	}
	return fmt.Sprintf("%s:%s:%s", kind, formatCoordinate(in.Coords.Lat), formatCoordinate(in.Coords.Lng))
}

func resultKey(cacheKey string) string {
	return fmt.Sprintf(model.RedisKeyGeocodeResult, cacheKey)
}

func markerKey(cacheKey string) string {
	return fmt.Sprintf(model.RedisKeyGeocodeInFlight, cacheKey)
}

func jobKey(jobID string) string {
	return fmt.Sprintf(model.RedisKeyGeocodeJob, jobID)
}
