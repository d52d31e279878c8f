package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollector(reg)
	require.NotNil(t, collector)

	// vectors only show up once a label set is used
	collector.RecordSubmission("queued")
	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRecordSubmission(t *testing.T) {
	c := NewCollector(nil)

	c.RecordSubmission("cache")
	c.RecordSubmission("cache")
	c.RecordSubmission("queued")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.submissions.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.submissions.WithLabelValues("queued")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.submissions.WithLabelValues("direct")))
}

func TestRecordJobOutcomes(t *testing.T) {
	c := NewCollector(nil)

	c.RecordJobCompleted(model.JobSourceWorker, 1500*time.Millisecond)
	c.RecordJobCompleted(model.JobSourceDirect, 200*time.Millisecond)
	c.RecordJobFailed(model.JobSourceWorker, 3*time.Second)
	c.RecordWorkerAttempt("unavailable")
	c.RecordPublishFailure()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsCompleted.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.jobsFailed.WithLabelValues("worker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workerAttempts.WithLabelValues("unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(c.jobLatency))
}

func TestProviderRequests(t *testing.T) {
	c := NewCollector(nil)

	c.ObserveProviderRequest("primary", "unavailable")
	c.ObserveProviderRequest("secondary", "success")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerCalls.WithLabelValues("primary", "unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.providerCalls.WithLabelValues("secondary", "success")))
}

func TestGauges(t *testing.T) {
	c := NewCollector(nil)

	c.SetInflightMarkers(7)
	c.SetDeadLetterDepth(3)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.inflightMarkers))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.deadLetterDepth))

	c.SetInflightMarkers(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.inflightMarkers))
}

func TestHandlerServesMetrics(t *testing.T) {
	c := NewCollector(nil)
	c.RecordSubmission("direct")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `geocoder_submissions_total{path="direct"} 1`), body)
	assert.Contains(t, body, "geocoder_dead_letter_depth 0")
}
