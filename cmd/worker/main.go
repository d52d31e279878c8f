package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/sahilchouksey/geocoder/app"
	"github.com/sahilchouksey/geocoder/services/geocoding"
)

// Worker process: consumes geocoding.requests until SIGINT or SIGTERM.
// Set WORKER_METRICS_ADDR (e.g. ":9091") to expose /metrics.
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	worker := geocoding.NewWorker(geocoding.WorkerConfig{
		Store:         rt.Store,
		Resolver:      rt.Resolver,
		DeadLetters:   rt.Broker,
		Recorder:      rt.Recorder(),
		Metrics:       rt.Metrics,
		MaxAttempts:   rt.Pipeline.Worker.MaxAttempts,
		RetryBase:     rt.Pipeline.Worker.RetryBaseDelay,
		LookupTimeout: rt.Pipeline.Worker.LookupTimeout,
	})

	if addr := os.Getenv("WORKER_METRICS_ADDR"); addr != "" {
		metricsApp := fiber.New(fiber.Config{AppName: "geocoder-worker", DisableStartupMessage: true})
		metricsApp.Get("/metrics", adaptor.HTTPHandler(rt.Metrics.Handler()))
		go func() {
			log.Printf("[WORKER] Serving metrics on %s", addr)
			if err := metricsApp.Listen(addr); err != nil {
				log.Printf("[WORKER] Metrics server stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsApp.ShutdownWithContext(shutdownCtx)
		}()
	}

	hostname, _ := os.Hostname()
	tag := fmt.Sprintf("geocoder-worker-%s-%d", hostname, os.Getpid())

	if err := worker.Run(ctx, rt.Broker, tag); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
