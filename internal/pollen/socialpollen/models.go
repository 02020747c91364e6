package socialpollen

import "github.com/pollenindex/pollenindex/internal/pollen"

// API response types.

type forecastResponse struct {
	Forecast []forecastDay `json:"forecast"`
}

type forecastDay struct {
	Weather     *string      `json:"weather"`
	PollenCount pollen.Level `json:"pollen_count"`
	Date        string       `json:"date"`
}
