package models

// PollenLevel describes one pollen level and its display color.
type PollenLevel struct {
	Level string `json:"level"`
	Color string `json:"color"`
}

// AQIBand describes one row of the AQI table. Max is omitted for the open top band.
type AQIBand struct {
	Min      int    `json:"min"`
	Max      *int   `json:"max,omitempty"`
	Category string `json:"category"`
	Band     string `json:"band"`
}

// Enums represents the enum values used by the API.
type Enums struct {
	PollenLevels   []PollenLevel `json:"pollenLevels"`
	AQIBands       []AQIBand     `json:"aqiBands"`
	SlotStatuses   []string      `json:"slotStatuses"`
	FetchErrorKind []string      `json:"fetchErrorKinds"`

	// AdUnitID is omitted when ads are disabled or not configured.
	AdUnitID string `json:"adUnitId,omitempty"`
}
