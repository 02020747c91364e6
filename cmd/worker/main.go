// Package main runs the headless location feed worker: it follows the
// device through Pub/Sub and logs every conditions update.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/bootstrap"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/config"
	"github.com/pollenindex/pollenindex/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pollenindex-worker"

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	log := bootstrap.NewLogger(cfg, serviceName, Version)
	log.Info().Str("build_time", BuildTime).Msg("starting location feed worker")

	if !cfg.PubSub.Enabled() && cfg.Location.Default == nil {
		log.Fatal().Msg("worker needs PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION, or DEFAULT_LAT and DEFAULT_LON")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	components, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to build pipeline")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer components.Close()

	go logStates(components.Store, log)

	// Worker also exposes health endpoints for Cloud Run
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      healthMux(components),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- components.RunLocation(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down worker")
		cancel()
		if err := <-done; err != nil {
			log.Error().Err(err).Msg("location feed stopped with error")
		}
	case err := <-done:
		switch {
		case err != nil:
			log.Error().Err(err).Msg("location feed stopped")
		case cfg.PubSub.Enabled():
			log.Warn().Msg("location feed ended")
		default:
			// A fixed location runs a single cycle; keep serving until told to stop.
			<-quit
		}
		log.Info().Msg("shutting down worker")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func healthMux(c *bootstrap.Components) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		status := http.StatusOK
		for _, hc := range c.HealthChecks {
			if err := hc.Check(r.Context()); err != nil {
				checks[hc.Name()] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[hc.Name()] = "ok"
		}
		writeJSON(w, status, map[string]interface{}{"checks": checks})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		st := c.Store.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"version":    st.Version,
			"generation": st.Generation,
			"location":   st.Location != nil,
			"pollen":     st.Pollen.Status,
			"airQuality": st.AirQuality.Status,
			"tracker":    c.Tracker.MetricsSnapshot(),
			"providers":  c.Registry.GetAllHealth(),
		})
	})

	mux.Handle("/metrics", c.Metrics.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// logStates logs each published state until the store closes.
func logStates(store *conditions.Store, log zerolog.Logger) {
	states, cancel := store.Subscribe()
	defer cancel()

	for st := range states {
		if st.Location == nil {
			continue
		}
		ev := log.Info().
			Uint64("state_version", st.Version).
			Uint64("generation", st.Generation).
			Str("coordinate", st.Location.Coordinate.String()).
			Str("place", st.PlaceLabel()).
			Str("pollen_status", string(st.Pollen.Status)).
			Str("air_quality_status", string(st.AirQuality.Status))
		if st.Pollen.Day != nil {
			ev = ev.Str("pollen_level", string(st.Pollen.Day.Level)).Bool("pollen_stale", st.Pollen.Stale)
		}
		if st.AirQuality.Reading != nil {
			ev = ev.Str("air_quality", st.AirQuality.Reading.Classification().Label)
		}
		if st.LocationErr != nil {
			ev = ev.AnErr("location_error", st.LocationErr)
		}
		ev.Msg("conditions updated")
	}
}
