package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pollenindex/pollenindex/internal/api/models"
	"github.com/pollenindex/pollenindex/internal/api/response"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/provider/resilience"
)

// HealthChecker is a dependency that must be reachable for readiness.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// StoreStatus exposes the conditions store to the status endpoint.
type StoreStatus interface {
	Snapshot() conditions.State
	SubscriberCount() int
}

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version      string
	BuildTime    string
	Registry     *resilience.Registry
	Store        StoreStatus
	FeatureFlags *featureflags.Service
	Checks       []HealthChecker
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	registry  *resilience.Registry
	store     StoreStatus
	flags     *featureflags.Service
	checks    []HealthChecker
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		registry:  cfg.Registry,
		store:     cfg.Store,
		flags:     cfg.FeatureFlags,
		checks:    cfg.Checks,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
// Returns 503 when any registered dependency check fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.runChecks(r.Context())

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}
	details := make(map[string]interface{}, len(subsystems))
	for _, s := range subsystems {
		details[s.Name] = s.Status
		if s.Status != models.HealthStatusOK {
			health.Status = models.HealthStatusFail
		}
	}
	if len(details) > 0 {
		health.Details = details
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(time.Now()),
		Subsystems: h.runChecks(ctx),
		Providers:  h.providerStatuses(),
	}

	for _, s := range status.Subsystems {
		if s.Status != models.HealthStatusOK {
			status.Status = models.HealthStatusFail
		}
	}
	for _, p := range status.Providers {
		if p.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
			status.Status = models.HealthStatusDegraded
		}
	}

	if h.flags != nil {
		for _, f := range h.flags.List(ctx) {
			if f.BoolValue(false) {
				status.ActiveDegradationFlags = append(status.ActiveDegradationFlags, f.Key)
			}
		}
	}

	if h.store != nil {
		st := h.store.Snapshot()
		status.Stream = &models.StreamStatus{
			Version:     st.Version,
			Generation:  st.Generation,
			Subscribers: h.store.SubscriberCount(),
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, 0, len(h.checks))
	for _, c := range h.checks {
		s := models.SubsystemStatus{Name: c.Name(), Status: models.HealthStatusOK}
		if err := c.Check(ctx); err != nil {
			msg := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &msg
		}
		out = append(out, s)
	}
	return out
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	if h.registry == nil {
		return []models.ProviderStatus{}
	}

	all := h.registry.GetAllHealth()
	out := make([]models.ProviderStatus, 0, len(all))
	for _, ph := range all {
		ps := models.ProviderStatus{
			Provider:     ph.Name,
			Status:       providerHealthStatus(ph),
			CircuitState: ph.CircuitState.String(),
			Requests:     ph.Counts.Requests,
			Failures:     ph.Counts.ConsecutiveFailures,
			Trips:        ph.Trips,
		}
		if ph.LastTripAt != nil {
			ts := models.Timestamp(*ph.LastTripAt)
			ps.LastTripAt = &ts
		}
		if ph.LastSuccessAt != nil {
			ts := models.Timestamp(*ph.LastSuccessAt)
			ps.LastSuccessAt = &ts
		}
		if ph.LastFailureAt != nil {
			ts := models.Timestamp(*ph.LastFailureAt)
			ps.LastFailureAt = &ts
		}
		if ph.LastError != "" {
			msg := ph.LastError
			ps.Message = &msg
		}
		out = append(out, ps)
	}
	return out
}

func providerHealthStatus(ph *resilience.ProviderHealth) models.HealthStatus {
	switch ph.CircuitState {
	case gobreaker.StateOpen:
		return models.HealthStatusFail
	case gobreaker.StateHalfOpen:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
