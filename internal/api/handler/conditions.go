// Package handler provides HTTP handlers for the pollen index API.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/api/models"
	"github.com/pollenindex/pollenindex/internal/api/response"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// DefaultHeartbeatInterval keeps idle event streams open through proxies.
const DefaultHeartbeatInterval = 15 * time.Second

// StateSource exposes the conditions store.
type StateSource interface {
	Snapshot() conditions.State
	Subscribe() (<-chan conditions.State, func())
}

// CycleStarter starts location cycles.
type CycleStarter interface {
	SelectLocation(ctx context.Context, coord geo.Coordinate, place *geolocation.Placename) (uint64, error)
	Refresh(ctx context.Context) (uint64, error)
}

// StreamObserver is told when event streams open and close (optional).
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

// ConditionsHandlerConfig holds configuration for the conditions handler.
type ConditionsHandlerConfig struct {
	Store       StateSource
	Coordinator CycleStarter
	Streams     StreamObserver
	Logger      zerolog.Logger

	// Heartbeat overrides DefaultHeartbeatInterval when positive.
	Heartbeat time.Duration
}

// ConditionsHandler serves the current readings, the event stream and
// the location and refresh commands.
type ConditionsHandler struct {
	store       StateSource
	coordinator CycleStarter
	streams     StreamObserver
	logger      zerolog.Logger
	heartbeat   time.Duration
}

// NewConditionsHandler creates a new ConditionsHandler.
func NewConditionsHandler(cfg ConditionsHandlerConfig) *ConditionsHandler {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &ConditionsHandler{
		store:       cfg.Store,
		coordinator: cfg.Coordinator,
		streams:     cfg.Streams,
		logger:      cfg.Logger,
		heartbeat:   heartbeat,
	}
}

// GetConditions handles GET /v1/conditions - the current state.
func (h *ConditionsHandler) GetConditions(w http.ResponseWriter, r *http.Request) {
	st := h.store.Snapshot()
	w.Header().Set("ETag", etag(st.Version))
	response.JSON(w, r, http.StatusOK, models.NewConditions(st))
}

// StreamEvents handles GET /v1/conditions/events - a Server-Sent Events
// stream that starts with the current state and then sends every change.
// Slow clients skip intermediate states but never receive them out of order.
func (h *ConditionsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server-wide write timeout would cut long-lived streams.
	_ = rc.SetWriteDeadline(time.Time{})

	states, cancel := h.store.Subscribe()
	defer cancel()

	if h.streams != nil {
		h.streams.StreamOpened()
		defer h.streams.StreamClosed()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn().Err(err).Msg("event stream not flushable")
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-states:
			if !ok {
				// Store closed; let the client reconnect elsewhere.
				return
			}
			if err := writeEvent(w, st); err != nil {
				h.logger.Debug().Err(err).Msg("event stream write failed")
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// SetLocation handles PUT /v1/location - select a location manually.
func (h *ConditionsHandler) SetLocation(w http.ResponseWriter, r *http.Request) {
	var req models.LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "validation error", errs)
		return
	}

	coord := geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}

	var place *geolocation.Placename
	if name := strings.TrimSpace(req.PlaceName); name != "" {
		place = &geolocation.Placename{Name: name}
	}

	gen, err := h.coordinator.SelectLocation(r.Context(), coord, place)
	if err != nil {
		h.writeCycleError(w, r, err)
		return
	}

	h.logger.Info().
		Uint64("generation", gen).
		Str("coordinate", coord.String()).
		Msg("manual location selected")

	response.Accepted(w, r, "/v1/conditions", models.CycleAccepted{Generation: gen})
}

// Refresh handles POST /v1/conditions/refresh - re-run the current location.
func (h *ConditionsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	gen, err := h.coordinator.Refresh(r.Context())
	if err != nil {
		h.writeCycleError(w, r, err)
		return
	}
	response.Accepted(w, r, "/v1/conditions", models.CycleAccepted{Generation: gen})
}

func (h *ConditionsHandler) writeCycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, conditions.ErrNoLocation):
		response.Conflict(w, r, "no location has been selected yet")
	case errors.Is(err, geo.ErrInvalidCoordinates):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, conditions.ErrStoreClosed):
		response.ServiceUnavailable(w, r, "shutting down")
	default:
		h.logger.Error().Err(err).Msg("failed to start location cycle")
		response.InternalError(w, r, "failed to start location cycle")
	}
}

func writeEvent(w http.ResponseWriter, st conditions.State) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\nevent: conditions\ndata: ", st.Version)
	if err := json.NewEncoder(&buf).Encode(models.NewConditions(st)); err != nil {
		return fmt.Errorf("encoding conditions event: %w", err)
	}
	// Encode ends with one newline; the blank line terminates the event.
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}

func etag(version uint64) string {
	return fmt.Sprintf(`W/"%d"`, version)
}
