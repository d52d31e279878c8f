package app

import (
	"context"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sahilchouksey/geocoder/config"
	"github.com/sahilchouksey/geocoder/database"
	"github.com/sahilchouksey/geocoder/services/broker"
	"github.com/sahilchouksey/geocoder/services/geocoding"
	"github.com/sahilchouksey/geocoder/services/geocoding/provider"
	"github.com/sahilchouksey/geocoder/services/metrics"
	"github.com/sahilchouksey/geocoder/utils/cache"
)

// Runtime holds the infrastructure shared by the API process and the worker
type Runtime struct {
	Env      *config.EnviornmentVariable
	Pipeline config.PipelineConfig
	Cache    *cache.RedisCache
	Broker   *broker.RabbitBroker
	Chain    *provider.Chain
	Primary  *provider.PrimaryClient
	Metrics  *metrics.Collector
	// DB is nil when no audit database is configured
	DB *database.GORMStore

	Store    *geocoding.Store
	Resolver *geocoding.Resolver
}

// Bootstrap loads configuration and connects to Redis, RabbitMQ and the optional audit database.
// Redis and RabbitMQ outages are tolerated; the pipeline runs degraded until they return.
func Bootstrap(ctx context.Context) (*Runtime, error) {
	if err := config.LoadENV(); err != nil {
		return nil, err
	}

	env, err := config.Get()
	if err != nil {
		return nil, err
	}

	pipeline, err := config.LoadPipelineConfig(env.GEOCODER_CONFIG)
	if err != nil {
		return nil, err
	}

	redisCache, err := cache.NewRedisCache(env.REDIS_URL)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Env:      env,
		Pipeline: pipeline,
		Cache:    redisCache,
		Metrics:  metrics.NewCollector(prometheus.NewRegistry()),
	}

	rt.Broker = broker.NewRabbitBroker(broker.ConfigFrom(env.RABBITMQ_URL, pipeline))
	rt.Broker.Start(ctx)

	rt.Chain, rt.Primary = provider.Build(env, pipeline, rt.Metrics)

	if env.DatabaseConfigured() {
		store, err := database.StartGORM(env)
		if err != nil {
			log.Printf("Warning: audit database unavailable, job outcomes will not be recorded: %v", err)
		} else if err := store.Init(); err != nil {
			log.Printf("Warning: failed to migrate audit tables: %v", err)
			store.Close()
		} else {
			rt.DB = store
		}
	}

	rt.Store = geocoding.NewStore(redisCache, pipeline)
	rt.Resolver = geocoding.NewResolver(rt.Chain)

	return rt, nil
}

// Recorder returns the audit store as a JobRecorder, or nil without a database
func (rt *Runtime) Recorder() geocoding.JobRecorder {
	if rt.DB == nil {
		return nil
	}
	return rt.DB
}

// Close releases every connection
func (rt *Runtime) Close() {
	if rt.Broker != nil {
		rt.Broker.Close()
	}
	if rt.Cache != nil {
		rt.Cache.Close()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}
