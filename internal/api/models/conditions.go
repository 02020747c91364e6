package models

import (
	"errors"

	"github.com/pollenindex/pollenindex/internal/conditions"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/provider"
)

// ErrorInfo is the client-facing form of a slot or location failure.
type ErrorInfo struct {
	// Kind is NETWORK, DECODE, PERMISSION_DENIED or LOCATION_UNAVAILABLE.
	Kind     string `json:"kind,omitempty"`
	Provider string `json:"provider,omitempty"`
	Message  string `json:"message"`
}

// Location error kinds.
const (
	ErrorKindPermissionDenied    = "PERMISSION_DENIED"
	ErrorKindLocationUnavailable = "LOCATION_UNAVAILABLE"
)

// Location is the coordinate the readings were fetched for.
type Location struct {
	Point      Point                  `json:"point"`
	Source     string                 `json:"source"`
	PlaceName  string                 `json:"placeName,omitempty"`
	Place      *geolocation.Placename `json:"place,omitempty"`
	PlaceError *ErrorInfo             `json:"placeError,omitempty"`
	UpdatedAt  Timestamp              `json:"updatedAt"`
}

// PollenSlot is the pollen reading shown to the user.
type PollenSlot struct {
	Status string `json:"status"`

	// Pending is true while a newer location cycle has not produced a result yet.
	Pending bool `json:"pending"`

	// Stale is true when no forecast day matched today.
	Stale bool `json:"stale,omitempty"`

	Date      string     `json:"date,omitempty"`
	Weather   *string    `json:"weather,omitempty"`
	Level     string     `json:"level,omitempty"`
	Color     string     `json:"color,omitempty"`
	Point     *Point     `json:"point,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	UpdatedAt *Timestamp `json:"updatedAt,omitempty"`
}

// AirQualitySlot is the air-quality reading shown to the user.
type AirQualitySlot struct {
	Status    string     `json:"status"`
	Pending   bool       `json:"pending"`
	AQI       *int       `json:"aqi,omitempty"`
	Category  string     `json:"category,omitempty"`
	Label     string     `json:"label,omitempty"`
	Band      string     `json:"band,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	Point     *Point     `json:"point,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	UpdatedAt *Timestamp `json:"updatedAt,omitempty"`
}

// Conditions is the response body of GET /v1/conditions and each SSE event.
type Conditions struct {
	Version       uint64         `json:"version"`
	Generation    uint64         `json:"generation"`
	Location      *Location      `json:"location,omitempty"`
	LocationError *ErrorInfo     `json:"locationError,omitempty"`
	Pollen        PollenSlot     `json:"pollen"`
	AirQuality    AirQualitySlot `json:"airQuality"`
}

// NewConditions converts a store snapshot into its API form.
func NewConditions(st conditions.State) Conditions {
	out := Conditions{
		Version:       st.Version,
		Generation:    st.Generation,
		LocationError: NewErrorInfo(st.LocationErr),
		Pollen:        newPollenSlot(st),
		AirQuality:    newAirQualitySlot(st),
	}

	if loc := st.Location; loc != nil {
		out.Location = &Location{
			Point:      Point{Lat: loc.Coordinate.Lat, Lon: loc.Coordinate.Lon},
			Source:     string(loc.Source),
			PlaceName:  st.PlaceLabel(),
			Place:      loc.Place,
			PlaceError: NewErrorInfo(loc.PlaceErr),
			UpdatedAt:  Timestamp(loc.UpdatedAt),
		}
	}

	return out
}

func newPollenSlot(st conditions.State) PollenSlot {
	s := st.Pollen
	out := PollenSlot{
		Status:    string(s.Status),
		Pending:   st.PollenPending(),
		Stale:     s.Stale,
		Error:     NewErrorInfo(s.Err),
		UpdatedAt: timestampPtr(s.UpdatedAt),
	}
	if s.Status != conditions.StatusAbsent {
		out.Point = &Point{Lat: s.Coordinate.Lat, Lon: s.Coordinate.Lon}
	}
	if s.Day != nil {
		out.Date = s.Day.Date
		out.Weather = s.Day.Weather
		out.Level = string(s.Day.Level)
		out.Color = string(s.Day.Level.Color())
	}
	return out
}

func newAirQualitySlot(st conditions.State) AirQualitySlot {
	s := st.AirQuality
	out := AirQualitySlot{
		Status:    string(s.Status),
		Pending:   st.AirQualityPending(),
		Error:     NewErrorInfo(s.Err),
		UpdatedAt: timestampPtr(s.UpdatedAt),
	}
	if s.Status != conditions.StatusAbsent {
		out.Point = &Point{Lat: s.Coordinate.Lat, Lon: s.Coordinate.Lon}
	}
	if r := s.Reading; r != nil {
		c := r.Classification()
		aqi := r.AQI
		out.AQI = &aqi
		out.Category = c.Category
		out.Label = c.Label
		out.Band = string(c.Band)
		out.Provider = r.Provider
	}
	return out
}

// NewErrorInfo maps a domain error to its API form. Returns nil for nil.
func NewErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if fe, ok := provider.AsFetchError(err); ok {
		return &ErrorInfo{Kind: string(fe.Kind), Provider: fe.Provider, Message: fe.Message}
	}
	switch {
	case errors.Is(err, geolocation.ErrPermissionDenied):
		return &ErrorInfo{Kind: ErrorKindPermissionDenied, Message: err.Error()}
	case errors.Is(err, geolocation.ErrLocationUnavailable):
		return &ErrorInfo{Kind: ErrorKindLocationUnavailable, Message: err.Error()}
	}
	return &ErrorInfo{Message: err.Error()}
}
