package router

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sahilchouksey/geocoder/handlers"
	geocode_handlers "github.com/sahilchouksey/geocoder/handlers/geocode"
	"github.com/sahilchouksey/geocoder/utils/middleware"
)

// Routes holds the handlers mounted by SetupRoutes
type Routes struct {
	Geocode  *geocode_handlers.GeocodeHandler
	Health   *handlers.HealthHandler
	Metrics  http.Handler
	Security middleware.SecurityConfig
}

// SetupRoutes attaches middleware and all API routes
func SetupRoutes(app *fiber.App, r Routes) {
	middleware.SetupSecurity(app, r.Security)

	app.Get("/ping", r.Health.HandleCheckHealth)
	if r.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(r.Metrics))
	}

	// API v1 routes
	api := app.Group("/api/v1")

	// Geocoding routes
	geocode := api.Group("/geocode")
	geocode.Post("/jobs", r.Geocode.SubmitJob)
	geocode.Get("/jobs/:job_id", r.Geocode.GetJob)
	geocode.Get("/jobs/:job_id/stream", r.Geocode.StreamJob)
	geocode.Post("/lookup", r.Geocode.Lookup)
	geocode.Post("/invalidate", r.Geocode.Invalidate)
	geocode.Get("/failures", r.Geocode.ListFailures)
}
