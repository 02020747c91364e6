// Package geo provides the coordinate type shared by the location, pollen
// and air quality packages.
package geo

import (
	"errors"
	"fmt"
)

// ErrInvalidCoordinates is returned when a coordinate is outside the valid range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NewCoordinate returns a validated coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate checks that the coordinate is within [-90,90] x [-180,180].
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: lat=%f lon=%f", ErrInvalidCoordinates, c.Lat, c.Lon)
	}
	return nil
}

// String formats the coordinate with six decimals.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}
