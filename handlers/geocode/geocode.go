package geocode

import (
	"bufio"
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/geocoder/model"
	"github.com/sahilchouksey/geocoder/services/geocoding"
	"github.com/sahilchouksey/geocoder/services/geocoding/provider"
	"github.com/sahilchouksey/geocoder/utils/cache"
	"github.com/sahilchouksey/geocoder/utils/response"
	"github.com/sahilchouksey/geocoder/utils/sse"
	"github.com/sahilchouksey/geocoder/utils/validation"
)

// Pipeline is the job coordinator as seen by the HTTP layer
type Pipeline interface {
	Submit(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeJob, error)
	GetStatus(ctx context.Context, jobID string) (*model.GeocodeJob, error)
	Invalidate(ctx context.Context, kind model.Kind, in model.Input) error
	Lookup(ctx context.Context, kind model.Kind, in model.Input) (*model.GeocodeResult, model.JobSource, error)
}

// FailureLister reads recent failed jobs from the audit log
type FailureLister interface {
	ListRecentFailures(ctx context.Context, limit int) ([]model.GeocodeJobLog, error)
}

// GeocodeHandler handles geocoding API endpoints
type GeocodeHandler struct {
	pipeline     Pipeline
	failures     FailureLister
	validator    *validation.Validator
	pollInterval time.Duration
	streamWindow time.Duration
}

// NewGeocodeHandler creates a new geocode handler. failures may be nil when no database is configured.
func NewGeocodeHandler(pipeline Pipeline, failures FailureLister, pollInterval, streamWindow time.Duration) *GeocodeHandler {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if streamWindow <= 0 {
		streamWindow = 30 * time.Second
	}
	return &GeocodeHandler{
		pipeline:     pipeline,
		failures:     failures,
		validator:    validation.NewValidator(),
		pollInterval: pollInterval,
		streamWindow: streamWindow,
	}
}

// GeocodeRequest is the body of submit, lookup and invalidate
type GeocodeRequest struct {
	Kind       string   `json:"kind" validate:"required,geocode_kind"`
	PostalCode string   `json:"postal_code" validate:"omitempty,max=16"`
	Lat        *float64 `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lng        *float64 `json:"lng" validate:"omitempty,gte=-180,lte=180"`
}

// parseRequest validates the body and converts it to a kind and input
func (h *GeocodeHandler) parseRequest(c *fiber.Ctx) (model.Kind, model.Input, error) {
	var req GeocodeRequest
	if err := c.BodyParser(&req); err != nil {
		return "", model.Input{}, errors.New("invalid request body")
	}
	req.PostalCode = validation.StripNullBytes(req.PostalCode)

	if err := h.validator.ValidateStruct(req); err != nil {
		return "", model.Input{}, errors.New(validation.Describe(err))
	}

	kind, err := model.ParseKind(req.Kind)
	if err != nil {
		return "", model.Input{}, err
	}

	var in model.Input
	if kind.IsForward() {
		in = model.PostalInput(req.PostalCode)
	} else if req.Lat != nil && req.Lng != nil {
		in = model.CoordsInput(*req.Lat, *req.Lng)
	}

	if err := in.Validate(kind); err != nil {
		return "", model.Input{}, err
	}
	return kind, in, nil
}

// SubmitJob handles POST /api/v1/geocode/jobs
// Returns 200 with a terminal job or 202 with a queued one
func (h *GeocodeHandler) SubmitJob(c *fiber.Ctx) error {
	kind, in, err := h.parseRequest(c)
	if err != nil {
		return response.ValidationError(c, err)
	}

	job, err := h.pipeline.Submit(c.UserContext(), kind, in)
	if err != nil {
		if errors.Is(err, geocoding.ErrInvalidInput) {
			return response.ValidationError(c, err)
		}
		return response.InternalServerError(c, "Failed to submit geocode job")
	}

	if job.Status.IsTerminal() {
		return response.Success(c, job)
	}
	return response.Accepted(c, "Geocode job queued", job)
}

// GetJob handles GET /api/v1/geocode/jobs/:job_id
func (h *GeocodeHandler) GetJob(c *fiber.Ctx) error {
	job, err := h.pipeline.GetStatus(c.UserContext(), c.Params("job_id"))
	if err != nil {
		return h.statusError(c, err)
	}
	return response.Success(c, job)
}

func (h *GeocodeHandler) statusError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, geocoding.ErrJobNotFound):
		return response.NotFound(c, "Job not found or expired")
	case cache.IsUnavailable(err):
		return response.ServiceUnavailable(c, "Job status temporarily unavailable")
	default:
		return response.InternalServerError(c, "Failed to read job status")
	}
}

// StreamJob handles GET /api/v1/geocode/jobs/:job_id/stream
// Emits a progress event on each status change and exactly one complete or error event
func (h *GeocodeHandler) StreamJob(c *fiber.Ctx) error {
	jobID := c.Params("job_id")

	job, err := h.pipeline.GetStatus(c.UserContext(), jobID)
	if err != nil {
		return h.statusError(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The Fiber context is not valid inside the stream writer
		ctx, cancel := context.WithTimeout(context.Background(), h.streamWindow)
		defer cancel()

		if err := sse.SendJob(w, job); err != nil {
			return
		}
		last := job.Status

		ticker := time.NewTicker(h.pollInterval)
		defer ticker.Stop()

		for !last.IsTerminal() {
			select {
			case <-ctx.Done():
				sse.SendError(w, errors.New("timed out waiting for job "+jobID))
				return
			case <-ticker.C:
			}

			current, err := h.pipeline.GetStatus(ctx, jobID)
			if err != nil {
				if cache.IsUnavailable(err) {
					continue
				}
				sse.SendError(w, err)
				return
			}
			if current.Status == last {
				continue
			}
			if err := sse.SendJob(w, current); err != nil {
				log.Printf("[GEOCODE] Stream for job %s closed: %v", jobID, err)
				return
			}
			last = current.Status
		}
	})

	return nil
}

// Lookup handles POST /api/v1/geocode/lookup
// Resolves synchronously without creating a job
func (h *GeocodeHandler) Lookup(c *fiber.Ctx) error {
	kind, in, err := h.parseRequest(c)
	if err != nil {
		return response.ValidationError(c, err)
	}

	result, source, err := h.pipeline.Lookup(c.UserContext(), kind, in)
	if err != nil {
		switch {
		case errors.Is(err, geocoding.ErrInvalidInput):
			return response.ValidationError(c, err)
		case errors.Is(err, provider.ErrNotFound):
			return response.GeocodeFailed(c, "Could not determine location for "+in.String())
		default:
			log.Printf("[GEOCODE] Lookup failed for %s: %v", in, err)
			return response.ServiceUnavailable(c, "Geocoding providers unavailable")
		}
	}

	return response.Success(c, fiber.Map{
		"kind":   kind,
		"input":  in,
		"result": result,
		"source": source,
	})
}

// Invalidate handles POST /api/v1/geocode/invalidate
func (h *GeocodeHandler) Invalidate(c *fiber.Ctx) error {
	kind, in, err := h.parseRequest(c)
	if err != nil {
		return response.ValidationError(c, err)
	}

	if err := h.pipeline.Invalidate(c.UserContext(), kind, in); err != nil {
		if cache.IsUnavailable(err) {
			return response.ServiceUnavailable(c, "Cache unavailable")
		}
		return response.InternalServerError(c, "Failed to invalidate cache entry")
	}

	return response.SuccessWithMessage(c, "Cache entry invalidated", fiber.Map{
		"kind":  kind,
		"input": in,
	})
}

// ListFailures handles GET /api/v1/geocode/failures?limit=
func (h *GeocodeHandler) ListFailures(c *fiber.Ctx) error {
	if h.failures == nil {
		return response.ServiceUnavailable(c, "Job audit log not configured")
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	failures, err := h.failures.ListRecentFailures(c.UserContext(), limit)
	if err != nil {
		return response.InternalServerError(c, "Failed to fetch failed jobs")
	}

	return response.Success(c, fiber.Map{
		"failures": failures,
		"limit":    limit,
	})
}
