package models

import (
	"math"
	"strings"
)

// maxPlaceNameLength bounds the caller-supplied label.
const maxPlaceNameLength = 200

// LocationRequest is the body of PUT /v1/location.
type LocationRequest struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	PlaceName string   `json:"placeName,omitempty"`
}

// Validate returns field errors for missing or out-of-range values.
func (r *LocationRequest) Validate() []FieldError {
	var errs []FieldError

	switch {
	case r.Lat == nil:
		errs = append(errs, FieldError{Field: "lat", Message: "lat is required", Code: "REQUIRED"})
	case math.IsNaN(*r.Lat) || *r.Lat < -90 || *r.Lat > 90:
		errs = append(errs, FieldError{Field: "lat", Message: "lat must be between -90 and 90", Code: "OUT_OF_RANGE"})
	}

	switch {
	case r.Lon == nil:
		errs = append(errs, FieldError{Field: "lon", Message: "lon is required", Code: "REQUIRED"})
	case math.IsNaN(*r.Lon) || *r.Lon < -180 || *r.Lon > 180:
		errs = append(errs, FieldError{Field: "lon", Message: "lon must be between -180 and 180", Code: "OUT_OF_RANGE"})
	}

	if len(strings.TrimSpace(r.PlaceName)) > maxPlaceNameLength {
		errs = append(errs, FieldError{Field: "placeName", Message: "placeName is too long", Code: "TOO_LONG"})
	}

	return errs
}

// CycleAccepted is returned with 202 when a location cycle has started.
type CycleAccepted struct {
	Generation uint64 `json:"generation"`
}
