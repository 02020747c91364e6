// Package bootstrap wires configuration into the running conditions
// pipeline. Both binaries build their components here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/airquality/waqi"
	"github.com/pollenindex/pollenindex/internal/api/handler"
	"github.com/pollenindex/pollenindex/internal/api/middleware"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/config"
	"github.com/pollenindex/pollenindex/internal/database"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/geolocation/nominatim"
	"github.com/pollenindex/pollenindex/internal/metrics"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/pollen/socialpollen"
	"github.com/pollenindex/pollenindex/internal/provider"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
	"github.com/pollenindex/pollenindex/internal/worker"
)

// NewLogger builds the process logger. LOG_FORMAT=console gives
// human-readable output for local runs.
func NewLogger(cfg config.Config, serviceName, version string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(cfg.LogLevel).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", version).
		Logger()
}

// Components is the assembled pipeline.
type Components struct {
	Config config.Config
	Logger zerolog.Logger

	Registry     *resilience.Registry
	Metrics      *metrics.Collector
	FeatureFlags *featureflags.Service
	HealthChecks []handler.HealthChecker

	Store       *conditions.Store
	Coordinator *conditions.Coordinator

	// Feed is nil when a fixed device location is configured.
	Feed       *geolocation.FeedService
	Tracker    *worker.Tracker
	Dispatcher *worker.Dispatcher

	pool *pgxpool.Pool
}

// New builds every component. Close must be called when done.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{
		Config:   cfg,
		Logger:   logger,
		Registry: resilience.NewRegistry(),
		Metrics:  metrics.New(),
	}

	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating provider metrics: %w", err)
	}
	observer := provider.Observers{c.Metrics, providerMetrics, c.Registry}

	if err := c.initFeatureFlags(ctx); err != nil {
		return nil, err
	}

	pollenClient := socialpollen.NewClient(socialpollen.ClientConfig{
		BaseURL:    cfg.Providers.SocialPollenBaseURL,
		HTTPClient: c.singleAttemptClient(socialpollen.ProviderName),
		Observer:   observer,
		Logger:     logger.With().Str("component", "socialpollen").Logger(),
	})
	waqiClient := waqi.NewClient(waqi.ClientConfig{
		Token:      cfg.Providers.WAQIToken,
		BaseURL:    cfg.Providers.WAQIBaseURL,
		HTTPClient: c.singleAttemptClient(waqi.ProviderName),
		Observer:   observer,
		Logger:     logger.With().Str("component", "waqi").Logger(),
	})

	var geocoder geolocation.Geocoder
	if cfg.Providers.GeocoderEnabled {
		geocoder = nominatim.NewClient(nominatim.ClientConfig{
			BaseURL:   cfg.Providers.NominatimBaseURL,
			UserAgent: cfg.Providers.NominatimUserAgent,
			Language:  cfg.Providers.NominatimLanguage,
			Registry:  c.Registry,
			Observer:  observer,
			Logger:    logger.With().Str("component", "nominatim").Logger(),
		})
	}

	c.Store = conditions.NewStore()
	c.Coordinator = conditions.NewCoordinator(conditions.Config{
		Pollen: pollen.NewService(pollen.ServiceConfig{
			Provider:     pollenClient,
			FeatureFlags: c.FeatureFlags,
			Logger:       logger,
		}),
		AirQuality: airquality.NewService(airquality.ServiceConfig{
			Provider:     waqiClient,
			FeatureFlags: c.FeatureFlags,
			Logger:       logger,
		}),
		Geocoder:     geocoder,
		FeatureFlags: c.FeatureFlags,
		Store:        c.Store,
		Recorder:     c.Metrics,
		Logger:       logger.With().Str("component", "coordinator").Logger(),
		FetchTimeout: cfg.Providers.FetchTimeout,
		TimeZone:     cfg.Providers.TimeZone,
	})

	var service geolocation.Service
	if cfg.Location.Default != nil {
		service = geolocation.NewStaticService(*cfg.Location.Default)
	} else {
		c.Feed = geolocation.NewFeedService(cfg.Location.InitialAuthorization)
		service = c.Feed
		c.Dispatcher = worker.NewDispatcher(worker.DispatcherConfig{
			Feed:     c.Feed,
			Manual:   c.Coordinator,
			Recorder: c.Metrics,
			Logger:   logger.With().Str("component", "dispatcher").Logger(),
		})
	}

	c.Tracker = worker.NewTracker(worker.TrackerOptions{
		Coordinator: c.Coordinator,
		Locator: geolocation.NewProvider(geolocation.ProviderConfig{
			Service: service,
			Logger:  logger,
		}),
		Config: worker.TrackerConfig{
			MinInterval:  cfg.Tracker.MinInterval,
			RetryInitial: cfg.Tracker.RetryInitial,
			RetryMax:     cfg.Tracker.RetryMax,
		},
		Logger: logger.With().Str("component", "tracker").Logger(),
	})

	return c, nil
}

func (c *Components) singleAttemptClient(name string) *resilience.Client {
	rcfg := resilience.SingleAttemptClientConfig(name)
	rcfg.Timeout = c.Config.Providers.FetchTimeout
	rcfg.Registry = c.Registry
	return resilience.NewClient(rcfg)
}

func (c *Components) initFeatureFlags(ctx context.Context) error {
	var repo featureflags.Repository = featureflags.NewInMemoryRepository()

	if c.Config.Flags.Store == config.FlagStorePostgres {
		pool, err := database.Connect(ctx, c.Config.Database)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pgRepo := featureflags.NewPostgresRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("preparing feature flag schema: %w", err)
		}

		c.pool = pool
		c.HealthChecks = append(c.HealthChecks, database.NewHealthCheck(pool, database.DefaultPingTimeout))
		repo = pgRepo

		c.Logger.Info().
			Str("host", c.Config.Database.Host).
			Int("port", c.Config.Database.Port).
			Str("database", c.Config.Database.Database).
			Msg("database connected")
	}

	c.FeatureFlags = featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     c.Logger.With().Str("component", "featureflags").Logger(),
		CacheTTL:   c.Config.Flags.CacheTTL,
	})
	return nil
}

// RunLocation drives device-originated cycles until ctx ends. With a fixed
// location it runs a single cycle. With a subscription configured it
// follows the Pub/Sub feed. Otherwise it returns at once and locations
// arrive only through manual selection.
func (c *Components) RunLocation(ctx context.Context) error {
	if c.Feed == nil {
		if _, err := c.Tracker.RunOnce(ctx); err != nil {
			return fmt.Errorf("locating fixed device: %w", err)
		}
		return nil
	}

	if !c.Config.PubSub.Enabled() {
		c.Logger.Info().Msg("no location feed configured, manual selection only")
		return nil
	}

	sub, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        c.Config.PubSub.ProjectID,
		SubscriptionName: c.Config.PubSub.Subscription,
		Handler:          c.Dispatcher,
		Receive:          worker.ReceiveConfig{MaxOutstandingMessages: c.Config.PubSub.MaxOutstanding},
		Logger:           c.Logger.With().Str("component", "pubsub").Logger(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sub.Close(); cerr != nil {
			c.Logger.Warn().Err(cerr).Msg("closing pubsub client")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- c.Tracker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		errs <- sub.Start(ctx)
	}()

	// Either side failing stops the other.
	err = <-errs
	cancel()
	wg.Wait()
	close(errs)
	for e := range errs {
		err = errors.Join(err, e)
	}
	return err
}

// Close waits for in-flight fetches and releases resources.
func (c *Components) Close() {
	c.Coordinator.Wait()
	c.Store.Close()
	if c.pool != nil {
		c.pool.Close()
	}
}
