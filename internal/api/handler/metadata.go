package handler

import (
	"net/http"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/api/models"
	"github.com/pollenindex/pollenindex/internal/api/response"
	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/featureflags"
	"github.com/pollenindex/pollenindex/internal/pollen"
	"github.com/pollenindex/pollenindex/internal/provider"
)

// MetadataHandler handles metadata endpoints.
type MetadataHandler struct {
	adUnitID string
	flags    *featureflags.Service
}

// NewMetadataHandler creates a new MetadataHandler. adUnitID may be empty.
func NewMetadataHandler(adUnitID string, flags *featureflags.Service) *MetadataHandler {
	return &MetadataHandler{adUnitID: adUnitID, flags: flags}
}

// GetEnums handles GET /v1/metadata/enums - get enum values used by the API.
func (h *MetadataHandler) GetEnums(w http.ResponseWriter, r *http.Request) {
	levels := pollen.AllLevels()
	enums := models.Enums{
		PollenLevels: make([]models.PollenLevel, len(levels)),
		SlotStatuses: []string{
			string(conditions.StatusAbsent),
			string(conditions.StatusReady),
			string(conditions.StatusFailed),
			string(conditions.StatusDisabled),
		},
		FetchErrorKind: []string{
			string(provider.KindNetwork),
			string(provider.KindDecode),
		},
	}

	for i, l := range levels {
		enums.PollenLevels[i] = models.PollenLevel{Level: string(l), Color: string(l.Color())}
	}

	for _, b := range airquality.Bands() {
		band := models.AQIBand{Min: b.Min, Category: b.Category, Band: string(b.Band)}
		if b.Max >= 0 {
			upper := b.Max
			band.Max = &upper
		}
		enums.AQIBands = append(enums.AQIBands, band)
	}

	if !h.flags.IsAdsDisabled(r.Context()) {
		enums.AdUnitID = h.adUnitID
	}

	response.JSON(w, r, http.StatusOK, enums)
}
