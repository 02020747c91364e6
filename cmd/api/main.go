// Package main provides the entrypoint for the pollen index API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/api"
	"github.com/pollenindex/pollenindex/internal/api/middleware"
	"github.com/pollenindex/pollenindex/internal/auth"
	"github.com/pollenindex/pollenindex/internal/bootstrap"
	"github.com/pollenindex/pollenindex/internal/config"
	"github.com/pollenindex/pollenindex/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pollenindex-api"

	mintToken := flag.String("mint-token", "", "print an admin bearer token for the given subject and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := bootstrap.NewLogger(cfg, serviceName, Version)

	jwtService := newJWTService(cfg, log)
	if *mintToken != "" {
		token, expiresAt, err := jwtService.GenerateAdminToken(*mintToken)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mint admin token")
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.Format(time.RFC3339))
		return
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting pollen index API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	components, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build pipeline")
		os.Exit(1)
	}
	defer components.Close()
	log.Info().
		Str("flag_store", cfg.Flags.Store).
		Bool("geocoder", cfg.Providers.GeocoderEnabled).
		Bool("location_feed", cfg.PubSub.Enabled()).
		Msg("conditions pipeline initialized")

	router := api.NewRouter(api.RouterConfig{
		Version:            Version,
		BuildTime:          BuildTime,
		Logger:             log,
		ServiceName:        serviceName,
		Metrics:            httpMetrics,
		Prometheus:         components.Metrics.Handler(),
		Tokens:             jwtService,
		FeatureFlagService: components.FeatureFlags,
		Store:              components.Store,
		Coordinator:        components.Coordinator,
		Streams:            components.Metrics,
		Registry:           components.Registry,
		HealthChecks:       components.HealthChecks,
		AdUnitID:           cfg.AdUnitID,
		RequireTLS:         cfg.RequireTLS,
		Heartbeat:          cfg.StreamHeartbeat,
	})

	// Event streams clear their own write deadline.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	locationCtx, stopLocation := context.WithCancel(ctx)
	locationDone := make(chan struct{})
	go func() {
		defer close(locationDone)
		if err := components.RunLocation(locationCtx); err != nil {
			log.Error().Err(err).Msg("location source stopped")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stopLocation()
	<-locationDone

	// Store.Close ends open event streams; Shutdown does not wait for them otherwise.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.RegisterOnShutdown(components.Store.Close)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newJWTService(cfg config.Config, log zerolog.Logger) *auth.JWTService {
	key := cfg.Auth.SigningKey
	if key == "" {
		if cfg.IsProduction() {
			log.Fatal().Msg("JWT_SIGNING_KEY is required in production")
		}
		key = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	return auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		Expiry:     cfg.Auth.Expiry,
	})
}
