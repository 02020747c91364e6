// Package pollen holds the pollen forecast model and the day selection logic.
package pollen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pollenindex/pollenindex/internal/geo"
)

// Pollen errors.
var (
	ErrEmptyForecast  = errors.New("pollen forecast has no days")
	ErrUnknownLevel   = errors.New("unknown pollen level")
	ErrPollenDisabled = errors.New("pollen disabled by feature flag")
)

// Level is the categorical pollen concentration reported by the forecast API.
type Level string

const (
	LevelLow      Level = "Low"
	LevelModerate Level = "Moderate"
	LevelHigh     Level = "High"
	LevelVeryHigh Level = "Very High"
)

// AllLevels returns the levels from lowest to highest.
func AllLevels() []Level {
	return []Level{LevelLow, LevelModerate, LevelHigh, LevelVeryHigh}
}

// ParseLevel maps the API text to a Level.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelLow, LevelModerate, LevelHigh, LevelVeryHigh:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// UnmarshalJSON rejects values outside the four known levels.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("pollen level: %w", err)
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Color is the display tint for a level, from calm to alarming.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorOrange Color = "orange"
	ColorRed    Color = "red"
)

// Color returns the display tint for the level.
func (l Level) Color() Color {
	switch l {
	case LevelLow:
		return ColorGreen
	case LevelModerate:
		return ColorYellow
	case LevelHigh:
		return ColorOrange
	default:
		return ColorRed
	}
}

// DayForecast is one day of the pollen forecast.
type DayForecast struct {
	// Date as sent by the provider, e.g. "2024-05-01T00:00:00+0000".
	Date string

	// Weather is a short weather summary, nil when the provider sends null.
	Weather *string

	// Level is the forecast pollen count.
	Level Level
}

// Forecast is a multi-day pollen forecast in provider order.
type Forecast struct {
	Days      []DayForecast
	Provider  string
	FetchedAt time.Time
}

// Provider fetches a pollen forecast for a coordinate.
type Provider interface {
	// GetForecast performs a single request; an empty forecast is an error.
	GetForecast(ctx context.Context, coord geo.Coordinate) (*Forecast, error)

	// Name returns the provider name for logging.
	Name() string
}
