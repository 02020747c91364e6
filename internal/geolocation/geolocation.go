// Package geolocation turns a device location service into a single
// coordinate per cycle, and names coordinates via reverse geocoding.
package geolocation

import (
	"context"
	"errors"
	"strings"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// Geolocation errors.
var (
	// ErrPermissionDenied halts the pipeline; no provider is called.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrLocationUnavailable means no fix could be obtained this cycle.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrPlacenameNotFound is returned when a coordinate has no known place.
	ErrPlacenameNotFound = errors.New("no place name for coordinate")
)

// Authorization is the device location permission state.
type Authorization string

const (
	AuthorizationNotDetermined Authorization = "NOT_DETERMINED"
	AuthorizationDenied        Authorization = "DENIED"
	AuthorizationRestricted    Authorization = "RESTRICTED"
	AuthorizationGranted       Authorization = "GRANTED"
)

// ParseAuthorization maps a status string to an Authorization.
func ParseAuthorization(s string) (Authorization, bool) {
	switch a := Authorization(strings.ToUpper(s)); a {
	case AuthorizationNotDetermined, AuthorizationDenied, AuthorizationRestricted, AuthorizationGranted:
		return a, true
	default:
		return "", false
	}
}

// Allowed reports whether fixes may be requested.
func (a Authorization) Allowed() bool {
	return a == AuthorizationGranted
}

// Service is the device location collaborator.
type Service interface {
	// AuthorizationStatus returns the current permission state.
	AuthorizationStatus() Authorization

	// RequestPermission prompts for permission and returns the resulting state.
	RequestPermission(ctx context.Context) (Authorization, error)

	// StartUpdates begins delivering fixes or errors to the callbacks.
	StartUpdates(onFix func(geo.Coordinate), onError func(error)) error

	// StopUpdates stops delivery. Safe to call more than once.
	StopUpdates()
}

// Placename is a human-readable description of a coordinate.
type Placename struct {
	Name        string `json:"name,omitempty"`
	Locality    string `json:"locality,omitempty"`
	Region      string `json:"region,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Label is the short string shown next to the readings.
func (p Placename) Label() string {
	primary := p.Locality
	if primary == "" {
		primary = p.Name
	}
	switch {
	case primary != "" && p.Country != "":
		return primary + ", " + p.Country
	case primary != "":
		return primary
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.Country
	}
}

// IsZero reports whether no field is set.
func (p Placename) IsZero() bool {
	return p == Placename{}
}

// Geocoder resolves a coordinate to a place name.
type Geocoder interface {
	CoordinateToPlacename(ctx context.Context, coord geo.Coordinate) (Placename, error)
}
