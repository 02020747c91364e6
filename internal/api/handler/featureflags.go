package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pollenindex/pollenindex/internal/api/middleware"
	"github.com/pollenindex/pollenindex/internal/api/response"
	"github.com/pollenindex/pollenindex/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags - list all feature flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags - update feature flags.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var req featureflags.FlagUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if err := h.service.Apply(r.Context(), req); err != nil {
		if errors.Is(err, featureflags.ErrNoUpdates) || errors.Is(err, featureflags.ErrInvalidUpdate) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Msg("failed to apply feature flag updates")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	keys := make([]string, len(req.Updates))
	for i, u := range req.Updates {
		keys[i] = u.Key
	}
	h.logger.Info().
		Str("admin", middleware.GetAdminID(r.Context())).
		Strs("keys", keys).
		Str("reason", req.Reason).
		Msg("feature flags updated")

	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate - invalidate flag cache.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}

// ResetFeatureFlag handles DELETE /v1/admin/feature-flags/{key} - drop an override.
func (h *FeatureFlagsHandler) ResetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.service.Reset(r.Context(), key); err != nil {
		if errors.Is(err, featureflags.ErrUnknownFlag) {
			response.NotFound(w, r, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("flag", key).Msg("failed to reset feature flag")
		response.InternalError(w, r, "failed to reset feature flag")
		return
	}

	h.logger.Info().
		Str("admin", middleware.GetAdminID(r.Context())).
		Str("flag", key).
		Msg("feature flag reset")

	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}
