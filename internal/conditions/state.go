// Package conditions coordinates location changes with the pollen and
// air-quality fetches and holds the resulting state.
package conditions

import (
	"errors"
	"time"

	"github.com/pollenindex/pollenindex/internal/airquality"
	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
	"github.com/pollenindex/pollenindex/internal/pollen"
)

// Conditions errors.
var (
	ErrNoLocation  = errors.New("no location selected")
	ErrStoreClosed = errors.New("conditions store closed")
)

// SlotStatus is the state of one reading slot.
type SlotStatus string

const (
	StatusAbsent   SlotStatus = "ABSENT"
	StatusReady    SlotStatus = "READY"
	StatusFailed   SlotStatus = "FAILED"
	StatusDisabled SlotStatus = "DISABLED"
)

// LocationSource says where a location came from.
type LocationSource string

const (
	SourceSensor LocationSource = "sensor"
	SourceManual LocationSource = "manual"
)

// Location is the coordinate the current cycle is for.
type Location struct {
	Coordinate geo.Coordinate
	Source     LocationSource

	// Place is nil until supplied by the caller or resolved by the geocoder.
	Place    *geolocation.Placename
	PlaceErr error

	UpdatedAt time.Time
}

// PollenSlot holds the selected forecast day for a generation.
type PollenSlot struct {
	Status SlotStatus
	Day    *pollen.DayForecast

	// Stale is set when no forecast day matched today and the first was used.
	Stale bool

	Err        error
	Coordinate geo.Coordinate
	Generation uint64
	UpdatedAt  time.Time
}

// AirQualitySlot holds the current reading for a generation.
type AirQualitySlot struct {
	Status     SlotStatus
	Reading    *airquality.Reading
	Err        error
	Coordinate geo.Coordinate
	Generation uint64
	UpdatedAt  time.Time
}

// State is an immutable snapshot. Values it points to are never modified;
// every change replaces a slot or the location wholesale.
type State struct {
	// Version increases by one with every published change.
	Version uint64

	// Generation identifies the current location cycle.
	Generation uint64

	Location    *Location
	LocationErr error

	Pollen     PollenSlot
	AirQuality AirQualitySlot
}

// NewState returns the initial state with both slots absent.
func NewState() State {
	return State{
		Pollen:     PollenSlot{Status: StatusAbsent},
		AirQuality: AirQualitySlot{Status: StatusAbsent},
	}
}

// PollenPending reports whether the pollen slot belongs to an older cycle.
func (s State) PollenPending() bool {
	return s.Location != nil && s.Pollen.Generation != s.Generation
}

// AirQualityPending reports whether the air-quality slot belongs to an older cycle.
func (s State) AirQualityPending() bool {
	return s.Location != nil && s.AirQuality.Generation != s.Generation
}

// PlaceLabel is the display name of the current location, if known.
func (s State) PlaceLabel() string {
	if s.Location == nil || s.Location.Place == nil {
		return ""
	}
	return s.Location.Place.Label()
}
