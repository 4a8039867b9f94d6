package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/orderdesk/internal/config"
	"github.com/noah-isme/orderdesk/internal/fetcher"
	"github.com/noah-isme/orderdesk/internal/obs"
	"github.com/noah-isme/orderdesk/internal/order"
	"github.com/noah-isme/orderdesk/internal/ratelimit"
	"github.com/noah-isme/orderdesk/internal/resilience"
)

// Dependencies enumerates the services shared by the HTTP layer.
type Dependencies struct {
	Config          *config.Config
	Logger          zerolog.Logger
	Redis           *redis.Client
	Validator       *validator.Validate
	Limiter         *limiter.Limiter
	MetricsRegistry *prometheus.Registry
	HTTPMetrics     *obs.HTTPMetrics
	Breaker         *resilience.Breaker
	Fetcher         *fetcher.Client
	Forms           *order.Registry
}

// Build wires every dependency from cfg. The returned cleanup closes what
// Build opened. A nil reg registers metrics on the default registerer.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry) (*Dependencies, func(), error) {
	deps := &Dependencies{
		Config:          cfg,
		Logger:          logger,
		Validator:       validator.New(validator.WithRequiredStructEnabled()),
		MetricsRegistry: reg,
	}
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if reg != nil {
		registerer = reg
	}
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, registerer)
	deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, nil, registerer)

	cleanup := func() {}
	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, detail cache and shared rate limits disabled")
		} else {
			deps.Redis = rdb
			cleanup = func() {
				if err := rdb.Close(); err != nil {
					logger.Error().Err(err).Msg("close redis")
				}
			}
		}
	}

	lim, err := ratelimit.New(cfg.RateLimit, deps.Redis)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Limiter = lim

	deps.Breaker = resilience.NewBreaker(5, 0.5, 30*time.Second).
		WithTarget("details").
		WithLogger(logger.With().Str("component", "breaker").Logger())

	fetcherLogger := logger
	client, err := fetcher.New(fetcher.Config{
		Endpoint: cfg.DetailsEndpointURL,
		QueryKey: cfg.DetailsQueryKey,
		HTTP: resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     deps.Breaker,
			Target:      "details",
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: cfg.DetailsMaxAttempts,
			Jitter:      0.2,
			Timeout:     cfg.DetailsTimeout,
		},
		Cache:  fetcher.NewCache(deps.Redis, cfg.DetailsCacheTTL),
		Logger: &fetcherLogger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Fetcher = client

	formsLogger := logger.With().Str("component", "forms").Logger()
	deps.Forms = order.NewRegistry(order.RegistryConfig{
		Fetcher: client,
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  &formsLogger,
	})
	return deps, cleanup, nil
}

// NewRedis parses url, instruments the client and checks connectivity.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(rdb); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("instrument redis metrics: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
