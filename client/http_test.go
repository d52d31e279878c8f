package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestHTTPClientSubmit(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/geocode/jobs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"job_id": "job-1", "status": "queued", "kind": "reverse_to_region"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second)
	job, err := c.Submit(context.Background(), model.KindReverseToRegion, model.CoordsInput(34.0901, -118.4065))
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.JobID)
	assert.Equal(t, model.JobStatusQueued, job.Status)
	assert.Equal(t, "reverse_to_region", got["kind"])
	assert.Equal(t, 34.0901, got["lat"])
	assert.NotContains(t, got, "postal_code")
}

func TestHTTPClientGetStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/geocode/jobs/missing", r.URL.Path)
		writeEnvelope(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   map[string]interface{}{"code": "NOT_FOUND", "message": "Job not found or expired"},
		})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHTTPClientLookupGeocodeFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"success": false,
			"error":   map[string]interface{}{"code": "GEOCODE_FAILED", "message": "Could not determine location for 00000"},
		})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).Lookup(context.Background(), model.KindForwardCity, model.PostalInput("00000"))
	require.Error(t, err)
	assert.True(t, IsGeocodeFailed(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
}

func TestHTTPClientLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/geocode/lookup", r.URL.Path)
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"kind":   "forward_coords",
				"input":  map[string]interface{}{"postal_code": "10001"},
				"result": map[string]interface{}{"coords": map[string]interface{}{"lat": 40.7506, "lng": -73.9972}},
				"source": "cache",
			},
		})
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, time.Second).Lookup(context.Background(), model.KindForwardCoords, model.PostalInput("10001"))
	require.NoError(t, err)

	require.NotNil(t, res.Result.Coords)
	assert.Equal(t, 40.7506, res.Result.Coords.Lat)
	assert.Equal(t, model.JobSourceCache, res.Source)
}

func TestHTTPClientFailuresAndInvalidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/geocode/failures":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			writeEnvelope(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"data": map[string]interface{}{
					"failures": []map[string]interface{}{{"job_id": "job-9", "status": "failed"}},
					"limit":    5,
				},
			})
		case "/api/v1/geocode/invalidate":
			writeEnvelope(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Cache entry invalidated"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)

	failures, err := c.Failures(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "job-9", failures[0].JobID)

	assert.NoError(t, c.Invalidate(context.Background(), model.KindForwardCity, model.PostalInput("90210")))
}

func TestHTTPClientNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).GetStatus(context.Background(), "job-1")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "INVALID_RESPONSE", apiErr.Code)
}
