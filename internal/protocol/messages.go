package protocol

import "github.com/example/bus-tracker/internal/models"

// Inbound payload shapes. Required fields are enforced by the validator; a
// failure produces an error event, never a disconnect.

type driverRegisterPayload struct {
	DriverID  string `json:"driverId" validate:"required"`
	BusID     string `json:"busId" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

type driverLocationPayload struct {
	BusID     string        `json:"busId"`
	DriverID  string        `json:"driverId" validate:"required"`
	Coords    *models.Coord `json:"coords" validate:"required"`
	Accuracy  float64       `json:"accuracy"`
	Timestamp int64         `json:"timestamp"`
	Visible   *bool         `json:"visible"`
}

type driverVisibilityPayload struct {
	DriverID string `json:"driverId" validate:"required"`
	BusID    string `json:"busId"`
	Visible  *bool  `json:"visible"`
}

// Show defaults to true; sending false clears the peer subscription without
// a dedicated unsubscribe message type.
type getOtherDriversPayload struct {
	DriverID string `json:"driverId" validate:"required"`
	Show     *bool  `json:"show"`
}

type userRegisterPayload struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type trackBusPayload struct {
	BusID string `json:"busId" validate:"required"`
}

type userLocationPayload struct {
	Coords    *models.Coord `json:"coords" validate:"required"`
	Timestamp int64         `json:"timestamp"`
}
