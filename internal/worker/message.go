package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pollenindex/pollenindex/internal/geo"
	"github.com/pollenindex/pollenindex/internal/geolocation"
)

// MessageType identifies a location feed message.
type MessageType string

const (
	// MessageFix carries a sensor coordinate.
	MessageFix MessageType = "fix"

	// MessagePermission carries a location permission change.
	MessagePermission MessageType = "permission"

	// MessageManual carries a user-picked location with an optional place name.
	MessageManual MessageType = "manual"

	// MessageError reports a sensor failure.
	MessageError MessageType = "error"
)

// Handling errors. Both are acknowledged so the message is not redelivered.
var (
	// ErrMalformedMessage means the payload can never be handled.
	ErrMalformedMessage = errors.New("malformed location message")

	// ErrStaleMessage means a newer message of the same kind was already applied.
	ErrStaleMessage = errors.New("stale location message")
)

// maxPlaceNameLength matches the HTTP API limit.
const maxPlaceNameLength = 200

// Message is the JSON payload published to the location feed topic.
type Message struct {
	Type      MessageType `json:"type"`
	Lat       *float64    `json:"lat,omitempty"`
	Lon       *float64    `json:"lon,omitempty"`
	Status    string      `json:"status,omitempty"`
	PlaceName string      `json:"placeName,omitempty"`
	Error     string      `json:"error,omitempty"`

	// Timestamp is when the device produced the event (optional).
	// The Pub/Sub publish time is used when it is missing.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// DecodeMessage parses and validates a payload. Every failure wraps
// ErrMalformedMessage.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch m.Type {
	case MessageFix, MessageManual:
		if _, err := m.Coordinate(); err != nil {
			return Message{}, err
		}
		if len(strings.TrimSpace(m.PlaceName)) > maxPlaceNameLength {
			return Message{}, fmt.Errorf("%w: placeName longer than %d characters", ErrMalformedMessage, maxPlaceNameLength)
		}
	case MessagePermission:
		if _, ok := geolocation.ParseAuthorization(m.Status); !ok {
			return Message{}, fmt.Errorf("%w: unknown permission status %q", ErrMalformedMessage, m.Status)
		}
	case MessageError:
	case "":
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}

	return m, nil
}

// Coordinate returns the validated coordinate of a fix or manual message.
func (m Message) Coordinate() (geo.Coordinate, error) {
	if m.Lat == nil || m.Lon == nil {
		return geo.Coordinate{}, fmt.Errorf("%w: lat and lon are required", ErrMalformedMessage)
	}
	c, err := geo.NewCoordinate(*m.Lat, *m.Lon)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return c, nil
}

// Authorization returns the permission status of a permission message.
func (m Message) Authorization() geolocation.Authorization {
	a, _ := geolocation.ParseAuthorization(m.Status)
	return a
}

// Place returns the manual place name, or nil to have it geocoded.
func (m Message) Place() *geolocation.Placename {
	name := strings.TrimSpace(m.PlaceName)
	if name == "" {
		return nil
	}
	return &geolocation.Placename{Name: name}
}

// SensorError returns the reported failure of an error message.
func (m Message) SensorError() error {
	if m.Error == "" {
		return geolocation.ErrLocationUnavailable
	}
	return fmt.Errorf("%w: %s", geolocation.ErrLocationUnavailable, m.Error)
}
