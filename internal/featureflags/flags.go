// Package featureflags provides runtime switches for the conditions pipeline.
package featureflags

import (
	"time"
)

// Well-known feature flag keys.
const (
	// FlagDisablePollen skips the pollen forecast fetch; the slot reports DISABLED.
	FlagDisablePollen = "disable_pollen"

	// FlagDisableAirQuality skips the air-quality fetch; the slot reports DISABLED.
	FlagDisableAirQuality = "disable_air_quality"

	// FlagDisableReverseGeocode skips place-name lookup for sensor fixes.
	FlagDisableReverseGeocode = "disable_reverse_geocode"

	// FlagDisableAds hides the ad unit identifier from the metadata endpoint.
	FlagDisableAds = "disable_ads"
)

// Flag represents a feature flag with its current value.
type Flag struct {
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// FlagList represents a list of feature flags.
type FlagList struct {
	Items []Flag `json:"items"`
}

// FlagUpdate represents a single flag update request.
type FlagUpdate struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// FlagUpdateRequest represents a request to update feature flags.
type FlagUpdateRequest struct {
	Updates []FlagUpdate `json:"updates"`
	Reason  string       `json:"reason"`
}

// BoolValue returns the flag value as a boolean.
// Returns the default value if the flag is nil or not a boolean.
func (f *Flag) BoolValue(defaultValue bool) bool {
	if f == nil {
		return defaultValue
	}
	switch v := f.Value.(type) {
	case bool:
		return v
	case float64:
		// JSON numbers
		return v != 0
	case string:
		return v == "true" || v == "1"
	default:
		return defaultValue
	}
}

// StringValue returns the flag value as a string.
func (f *Flag) StringValue(defaultValue string) string {
	if f == nil {
		return defaultValue
	}
	if v, ok := f.Value.(string); ok {
		return v
	}
	return defaultValue
}

// KnownKeys lists the flags the service understands, in display order.
func KnownKeys() []string {
	return []string{
		FlagDisablePollen,
		FlagDisableAirQuality,
		FlagDisableReverseGeocode,
		FlagDisableAds,
	}
}

// DefaultFlags returns the default feature flags. Everything is enabled.
func DefaultFlags() map[string]*Flag {
	now := time.Now()
	flags := make(map[string]*Flag, len(KnownKeys()))
	for _, key := range KnownKeys() {
		flags[key] = &Flag{Key: key, Value: false, UpdatedAt: now}
	}
	return flags
}
