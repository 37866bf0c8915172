package models

import (
	"encoding/json"
	"fmt"
)

// Coord is a [latitude, longitude] pair in decimal degrees, matching the
// wire convention used by the map clients.
type Coord [2]float64

func (c Coord) Lat() float64 { return c[0] }
func (c Coord) Lng() float64 { return c[1] }

// UnmarshalJSON requires at least [lat, lng]; a short array would otherwise
// zero-fill and pass as a valid position. Extra elements are ignored.
func (c *Coord) UnmarshalJSON(b []byte) error {
	var raw []float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("coords requires [lat, lng], got %d element(s)", len(raw))
	}
	c[0], c[1] = raw[0], raw[1]
	return nil
}

// Role classifies a websocket connection after registration.
type Role string

const (
	RoleNone   Role = ""
	RoleDriver Role = "driver"
	RoleRider  Role = "rider"
)

// DriverState is the latest known state for a live driver. Coords is nil
// until the first location message arrives.
type DriverState struct {
	DriverID string  `json:"driverId"`
	BusID    string  `json:"busId"`
	Coords   *Coord  `json:"coords"`
	Accuracy float64 `json:"accuracy,omitempty"`
	Visible  bool    `json:"visible"`
	LastSeen int64   `json:"lastSeen"` // epoch millis
	Status   string  `json:"status,omitempty"`
}

// Envelope is the inbound wire frame. Data stays raw until the dispatcher
// knows which payload shape to decode.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is the outbound wire frame.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// BusLocationRecord is the flattened location sample published to Kafka and
// archived by the consumer.
type BusLocationRecord struct {
	BusID     string  `json:"busId"`
	DriverID  string  `json:"driverId"`
	Coords    Coord   `json:"coords"`
	Accuracy  float64 `json:"accuracy"`
	Visible   bool    `json:"visible"`
	Timestamp int64   `json:"timestamp"`
}

// BusPosition is what the geo index keeps per bus for nearby queries.
type BusPosition struct {
	BusID    string `json:"busId"`
	DriverID string `json:"driverId"`
	Coords   Coord  `json:"coords"`
	Updated  int64  `json:"updated"`
}

// User is a seeded driver account used by the auth endpoints.
type User struct {
	ID           int64  `json:"id"`
	EmployeeID   string `json:"employeeId"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	BusID        string `json:"busId"`
}
