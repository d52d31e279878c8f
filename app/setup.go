package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sahilchouksey/geocoder/api"
	"github.com/sahilchouksey/geocoder/handlers"
	geocode_handlers "github.com/sahilchouksey/geocoder/handlers/geocode"
	"github.com/sahilchouksey/geocoder/router"
	"github.com/sahilchouksey/geocoder/services/cron"
	"github.com/sahilchouksey/geocoder/services/geocoding"
	"github.com/sahilchouksey/geocoder/utils/middleware"
)

// SetupAndRunServer runs the API host process until SIGINT or SIGTERM
func SetupAndRunServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := Bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	coordinator := geocoding.NewCoordinator(geocoding.CoordinatorConfig{
		Store:         rt.Store,
		Resolver:      rt.Resolver,
		Publisher:     rt.Broker,
		Recorder:      rt.Recorder(),
		Metrics:       rt.Metrics,
		LookupTimeout: rt.Pipeline.Worker.LookupTimeout,
	})

	// Initialize Cron Manager (only if enabled via environment variable)
	var cronManager *cron.CronManager
	if rt.Env.CRON_ENABLED {
		cronManager = cron.NewCronManager(rt.cronDeps())
		if err := cronManager.Start(); err != nil {
			log.Printf("Warning: Failed to start cron jobs: %v", err)
			cronManager = nil
		}
	}
	defer func() {
		if cronManager != nil {
			cronManager.Stop()
		}
	}()

	var failures geocode_handlers.FailureLister
	var database handlers.Pinger
	if rt.DB != nil {
		failures = rt.DB
		database = rt.DB
	}

	server := api.NewAPIServer(fmt.Sprintf(":%d", rt.Env.PORT))
	router.SetupRoutes(server.GetEngine(), router.Routes{
		Geocode: geocode_handlers.NewGeocodeHandler(coordinator, failures,
			rt.Pipeline.Poller.BaseInterval, rt.Pipeline.Poller.Window),
		Health:  handlers.NewHealthHandler(rt.Cache, rt.Broker, database),
		Metrics: rt.Metrics.Handler(),
		Security: middleware.SecurityConfig{
			AllowedOrigins:    rt.Env.ALLOWED_ORIGINS,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (rt *Runtime) cronDeps() cron.Deps {
	deps := cron.Deps{
		Cache:       rt.Cache,
		DeadLetters: rt.Broker,
		Gauges:      rt.Metrics,
		Retention:   rt.Pipeline.Cron.JobLogRetention,
	}
	if rt.Primary != nil {
		deps.RateLimiters = append(deps.RateLimiters, rt.Primary.GetRateLimiter())
	}
	if rt.DB != nil {
		deps.JobLogs = rt.DB
		deps.DB = rt.DB.GetDB()
	}
	return deps
}
