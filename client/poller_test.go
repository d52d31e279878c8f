package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) total() time.Duration {
	var sum time.Duration
	for _, d := range c.sleeps {
		sum += d
	}
	return sum
}

type fakeAPI struct {
	submitted *model.GeocodeJob
	statuses  []*model.GeocodeJob
	statusErr error
	lookup    *LookupResult
	lookupErr error

	statusCalls int
	lookupCalls int
}

func (a *fakeAPI) Submit(context.Context, model.Kind, model.Input) (*model.GeocodeJob, error) {
	return a.submitted, nil
}

func (a *fakeAPI) GetStatus(context.Context, string) (*model.GeocodeJob, error) {
	a.statusCalls++
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	idx := a.statusCalls - 1
	if idx >= len(a.statuses) {
		idx = len(a.statuses) - 1
	}
	return a.statuses[idx], nil
}

func (a *fakeAPI) Lookup(context.Context, model.Kind, model.Input) (*LookupResult, error) {
	a.lookupCalls++
	if a.lookupErr != nil {
		return nil, a.lookupErr
	}
	return a.lookup, nil
}

func job(status model.JobStatus) *model.GeocodeJob {
	j := &model.GeocodeJob{
		JobID:  "job-1",
		Kind:   model.KindReverseToAddress,
		Input:  model.CoordsInput(40.7484, -73.9857),
		Status: status,
	}
	if status == model.JobStatusCompleted {
		j.Source = model.JobSourceWorker
		j.Result = &model.GeocodeResult{FormattedAddress: "350 5th Ave, New York, NY 10118, USA"}
	}
	if status == model.JobStatusFailed {
		j.Error = "could not determine location for 40.748400,-73.985700"
	}
	return j
}

func newTestPoller(api API, clock *fakeClock, mutate ...func(*PollerConfig)) *Poller {
	cfg := PollerConfig{Sleep: clock.Sleep, Now: clock.Now}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewPoller(api, cfg)
}

func TestAwaitTerminalJobReturnsImmediately(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{}

	out, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusCompleted))
	require.NoError(t, err)

	assert.Contains(t, out.Result.FormattedAddress, "New York")
	assert.False(t, out.FellBack)
	assert.Zero(t, api.statusCalls)
	assert.Empty(t, clock.sleeps)
}

func TestAwaitPollsWithGeometricBackoff(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{statuses: []*model.GeocodeJob{
		job(model.JobStatusQueued),
		job(model.JobStatusProcessing),
		job(model.JobStatusProcessing),
		job(model.JobStatusCompleted),
	}}

	out, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))
	require.NoError(t, err)

	assert.Equal(t, model.JobSourceWorker, out.Source)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Zero(t, api.lookupCalls)
}

func TestAwaitBailsOutWhenStuckInQueued(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{
		statuses: []*model.GeocodeJob{job(model.JobStatusQueued)},
		lookup: &LookupResult{
			Result: model.GeocodeResult{FormattedAddress: "New York, NY"},
			Source: model.JobSourceDirect,
		},
	}

	out, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))
	require.NoError(t, err)

	assert.True(t, out.FellBack)
	assert.Equal(t, model.JobSourceDirect, out.Source)
	assert.Equal(t, 1, api.lookupCalls)
	assert.Equal(t, 9*time.Second, clock.total())
}

func TestAwaitProcessingDisarmsBailout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{statuses: []*model.GeocodeJob{job(model.JobStatusProcessing)}}

	_, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Zero(t, api.lookupCalls)
	assert.Equal(t, 30*time.Second, clock.total())
	for _, d := range clock.sleeps {
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestAwaitFallbackOnTimeout(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{
		statuses: []*model.GeocodeJob{job(model.JobStatusProcessing)},
		lookup:   &LookupResult{Result: model.GeocodeResult{City: "New York"}, Source: model.JobSourceCache},
	}

	out, err := newTestPoller(api, clock, func(c *PollerConfig) {
		c.FallbackOnTimeout = true
		c.Window = 5 * time.Second
	}).Await(context.Background(), job(model.JobStatusProcessing))
	require.NoError(t, err)

	assert.True(t, out.FellBack)
	assert.Equal(t, 5*time.Second, clock.total())
}

func TestAwaitFailedJob(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{statuses: []*model.GeocodeJob{job(model.JobStatusFailed)}}

	_, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))

	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "could not determine location")
}

func TestAwaitExpiredJobFallsBack(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{
		statusErr: ErrJobNotFound,
		lookup:    &LookupResult{Result: model.GeocodeResult{RegionCode: "10118"}, Source: model.JobSourceDirect},
	}

	out, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))
	require.NoError(t, err)

	assert.True(t, out.FellBack)
	assert.Equal(t, "10118", out.Result.RegionCode)
	assert.Equal(t, 1, api.statusCalls)
}

func TestAwaitTransientStatusErrorsKeepPolling(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{statusErr: errors.New("connection refused")}

	_, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusProcessing))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, api.statusCalls, 1)
}

func TestFallbackNotFoundIsJobFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{
		statusErr: ErrJobNotFound,
		lookupErr: &APIError{StatusCode: http.StatusUnprocessableEntity, Code: "GEOCODE_FAILED", Message: "Could not determine location"},
	}

	_, err := newTestPoller(api, clock).Await(context.Background(), job(model.JobStatusQueued))

	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestAwaitHonoursContextCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{statuses: []*model.GeocodeJob{job(model.JobStatusQueued)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPoller(api, clock).Await(ctx, job(model.JobStatusQueued))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeocodeSubmitsThenAwaits(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	api := &fakeAPI{
		submitted: job(model.JobStatusQueued),
		statuses:  []*model.GeocodeJob{job(model.JobStatusCompleted)},
	}

	out, err := newTestPoller(api, clock).Geocode(context.Background(), model.KindReverseToAddress, model.CoordsInput(40.7484, -73.9857))
	require.NoError(t, err)

	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, 1, api.statusCalls)
}
