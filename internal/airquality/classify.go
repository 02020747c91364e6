package airquality

import "fmt"

// Band is the display color of an AQI category.
type Band string

const (
	BandGreen  Band = "green"
	BandYellow Band = "yellow"
	BandOrange Band = "orange"
	BandRed    Band = "red"
	BandPurple Band = "purple"
	BandMaroon Band = "maroon"
)

// Category names.
const (
	CategoryGood               = "Good"
	CategoryModerate           = "Moderate"
	CategoryUnhealthySensitive = "Unhealthy for Sensitive Groups"
	CategoryUnhealthy          = "Unhealthy"
	CategoryVeryUnhealthy      = "Very Unhealthy"
	CategoryHazardous          = "Hazardous"
)

// Classification is the result of Classify.
type Classification struct {
	// Category is the bare category name, e.g. "Moderate".
	Category string

	// Label embeds the value, e.g. "Moderate (75)".
	Label string

	Band Band
}

// BandRange describes one row of the AQI table. Max is -1 for the open top band.
type BandRange struct {
	Min      int
	Max      int
	Category string
	Band     Band
}

var bands = []BandRange{
	{0, 50, CategoryGood, BandGreen},
	{51, 100, CategoryModerate, BandYellow},
	{101, 150, CategoryUnhealthySensitive, BandOrange},
	{151, 200, CategoryUnhealthy, BandRed},
	{201, 300, CategoryVeryUnhealthy, BandPurple},
	{301, -1, CategoryHazardous, BandMaroon},
}

// Bands returns the AQI table from best to worst.
func Bands() []BandRange {
	out := make([]BandRange, len(bands))
	copy(out, bands)
	return out
}

// Classify maps an AQI to its category. Every integer is classified;
// negative values fall into the hazardous band.
func Classify(aqi int) Classification {
	b := bands[len(bands)-1]
	if aqi >= 0 {
		for _, r := range bands[:len(bands)-1] {
			if aqi <= r.Max {
				b = r
				break
			}
		}
	}

	return Classification{
		Category: b.Category,
		Label:    fmt.Sprintf("%s (%d)", b.Category, aqi),
		Band:     b.Band,
	}
}
