// Package protocol parses inbound websocket messages, validates them by
// role, routes them to the right handler, and serializes outbound events.
// No message is fatal to a connection: malformed payloads and role
// violations produce an error event and the read loop keeps going.
package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/bus-tracker/internal/fanout"
	"github.com/example/bus-tracker/internal/geo"
	"github.com/example/bus-tracker/internal/models"
	"github.com/example/bus-tracker/internal/observability"
	"github.com/example/bus-tracker/internal/positions"
	"github.com/example/bus-tracker/internal/presence"
	"github.com/example/bus-tracker/internal/registry"
	"github.com/example/bus-tracker/internal/storage"
)

// Publisher pushes accepted location samples to the ingest pipeline.
type Publisher interface {
	PublishLocation(rec models.BusLocationRecord) error
}

// Handler is the per-connection protocol dispatcher. Optional collaborators
// (Geo, Producer, Archive) may be nil.
type Handler struct {
	Reg      *registry.Registry
	Store    *positions.Store
	Fan      *fanout.Engine
	Presence *presence.Manager
	Geo      geo.Geo
	Producer Publisher
	Archive  storage.LocationStore
	Log      *slog.Logger

	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64

	Now      func() time.Time
	validate *validator.Validate
}

func (h *Handler) clock() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler) checker() *validator.Validate {
	if h.validate == nil {
		h.validate = validator.New()
	}
	return h.validate
}

// HandleConnection runs the read loop for an admitted connection until the
// socket closes, then hands the connection to the presence manager for
// immediate cleanup.
func (h *Handler) HandleConnection(c *registry.Conn) {
	sock := c.Socket()
	if h.MaxMessageSize > 0 {
		sock.SetReadLimit(h.MaxMessageSize)
	}
	_ = sock.SetReadDeadline(h.clock().Add(h.PongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(h.clock().Add(h.PongWait))
	})

	done := make(chan struct{})
	go h.pinger(c, done)
	defer func() {
		close(done)
		h.Presence.Disconnected(c)
	}()

	_ = c.Send("connection-established", map[string]any{
		"sessionId": c.ID,
		"timestamp": h.clock().UnixMilli(),
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			h.Log.Debug("read loop closed", "conn", c.ID, "error", err)
			return
		}
		_ = sock.SetReadDeadline(h.clock().Add(h.PongWait))
		h.HandleMessage(c, raw)
	}
}

func (h *Handler) pinger(c *registry.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				return
			}
		}
	}
}

// HandleMessage dispatches one raw inbound frame. Exported so tests can
// drive the state machine without a real socket.
func (h *Handler) HandleMessage(c *registry.Conn, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.reject(c, "malformed message: not valid JSON")
		return
	}
	if env.Type == "" {
		h.reject(c, "malformed message: missing type")
		return
	}
	observability.MessagesReceived.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case "driver-register":
		h.handleDriverRegister(c, env.Data)
	case "driver-location":
		h.handleDriverLocation(c, env.Data)
	case "driver-visibility":
		h.handleDriverVisibility(c, env.Data)
	case "get-other-drivers":
		h.handleGetOtherDrivers(c, env.Data)
	case "user-register":
		h.handleUserRegister(c, env.Data)
	case "user-location":
		h.handleUserLocation(c, env.Data)
	case "track-bus":
		h.handleTrackBus(c, env.Data)
	case "get-active-buses":
		h.handleGetActiveBuses(c)
	case "ping":
		_ = c.Send("pong", map[string]any{"timestamp": h.clock().UnixMilli()})
	default:
		h.Log.Warn("unknown message type", "type", env.Type, "conn", c.ID)
		_ = c.Send("error", map[string]any{"message": "unknown message type: " + env.Type})
	}
}

func (h *Handler) handleDriverRegister(c *registry.Conn, data json.RawMessage) {
	var p driverRegisterPayload
	if !h.decode(c, data, &p) {
		return
	}
	ts := p.Timestamp
	if ts <= 0 {
		ts = h.clock().UnixMilli()
	}

	prev, err := h.Reg.IdentifyDriver(c, p.DriverID, p.BusID)
	if err != nil {
		h.reject(c, "driver-register requires an unregistered or driver connection")
		return
	}
	if prev != nil {
		// Last writer wins on identity collision: the stale connection is
		// dropped without emitting driver-left for the still-live identity.
		h.Log.Info("driver identity replaced", "driver_id", p.DriverID, "old_conn", prev.ID, "new_conn", c.ID)
		h.Reg.Remove(prev)
		prev.Close()
	}

	st := h.Store.Register(p.DriverID, p.BusID, ts)
	observability.DriversActive.Set(float64(h.Store.Len()))
	h.Log.Info("driver registered", "driver_id", p.DriverID, "bus_id", p.BusID)

	_ = c.Send("driver-registered", map[string]any{
		"driverId": p.DriverID,
		"busId":    p.BusID,
		"status":   "success",
	})
	h.Fan.DriverRegistered(st, ts)
}

func (h *Handler) handleDriverLocation(c *registry.Conn, data json.RawMessage) {
	var p driverLocationPayload
	if !h.decode(c, data, &p) {
		return
	}
	if c.Role() == models.RoleRider {
		h.reject(c, "driver-location requires driver role")
		return
	}
	if id := c.DriverID(); id != "" && id != p.DriverID {
		h.reject(c, "driver-location driverId does not match connection identity")
		return
	}
	// Out-of-order registration: a location for an unknown driver registers
	// it from the payload instead of failing.
	if c.Role() == models.RoleNone {
		if _, err := h.Reg.IdentifyDriver(c, p.DriverID, p.BusID); err != nil {
			h.reject(c, "unable to auto-register driver")
			return
		}
		h.Log.Info("driver auto-registered from location", "driver_id", p.DriverID, "bus_id", p.BusID)
	}

	ts := p.Timestamp
	if ts <= 0 {
		ts = h.clock().UnixMilli()
	}
	st := h.Store.Upsert(p.DriverID, p.BusID, *p.Coords, p.Accuracy, p.Visible, ts)
	observability.DriversActive.Set(float64(h.Store.Len()))

	_ = c.Send("location-acknowledged", map[string]any{
		"driverId":  p.DriverID,
		"timestamp": st.LastSeen,
	})
	h.Fan.LocationChanged(st)

	if h.Geo != nil && st.Visible {
		h.Geo.Upsert(models.BusPosition{BusID: st.BusID, DriverID: st.DriverID, Coords: *st.Coords, Updated: st.LastSeen})
	}
	rec := models.BusLocationRecord{
		BusID:     st.BusID,
		DriverID:  st.DriverID,
		Coords:    *st.Coords,
		Accuracy:  st.Accuracy,
		Visible:   st.Visible,
		Timestamp: st.LastSeen,
	}
	if h.Producer != nil {
		if err := h.Producer.PublishLocation(rec); err != nil {
			h.Log.Warn("kafka publish failed", "bus_id", rec.BusID, "error", err)
		}
	}
	if h.Archive != nil {
		if err := h.Archive.SaveLocation(&rec); err != nil {
			h.Log.Warn("location archive failed", "bus_id", rec.BusID, "error", err)
		}
	}
}

func (h *Handler) handleDriverVisibility(c *registry.Conn, data json.RawMessage) {
	var p driverVisibilityPayload
	if !h.decode(c, data, &p) {
		return
	}
	if c.Role() != models.RoleDriver {
		h.reject(c, "driver-visibility requires driver role")
		return
	}
	if id := c.DriverID(); id != p.DriverID {
		h.reject(c, "driver-visibility driverId does not match connection identity")
		return
	}
	visible := true
	if p.Visible != nil {
		visible = *p.Visible
	}
	if _, ok := h.Store.SetVisibility(p.DriverID, visible); !ok {
		h.reject(c, "unknown driver: "+p.DriverID)
		return
	}
	h.Log.Info("driver visibility changed", "driver_id", p.DriverID, "visible", visible)
}

func (h *Handler) handleGetOtherDrivers(c *registry.Conn, data json.RawMessage) {
	var p getOtherDriversPayload
	if !h.decode(c, data, &p) {
		return
	}
	if c.Role() != models.RoleDriver {
		h.reject(c, "get-other-drivers requires driver role")
		return
	}
	show := p.Show == nil || *p.Show
	c.SetShowPeers(show)
	if !show {
		return
	}
	h.Fan.SendOtherDrivers(c, c.DriverID())
}

func (h *Handler) handleUserRegister(c *registry.Conn, data json.RawMessage) {
	var p userRegisterPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			h.reject(c, "invalid data payload")
			return
		}
	}
	userID := p.UserID
	if userID == "" {
		userID = "user_" + c.ID[:8]
	}
	if err := h.Reg.IdentifyRider(c, userID); err != nil {
		h.reject(c, "user-register requires an unregistered or rider connection")
		return
	}
	h.Log.Info("rider registered", "user_id", userID)
	_ = c.Send("user-registered", map[string]any{"userId": userID, "status": "success"})
	h.Fan.SendActiveBuses(c)
}

func (h *Handler) handleUserLocation(c *registry.Conn, data json.RawMessage) {
	var p userLocationPayload
	if !h.decode(c, data, &p) {
		return
	}
	if c.Role() != models.RoleRider {
		h.reject(c, "user-location requires rider role")
		return
	}
	c.SetCoords(*p.Coords)
}

func (h *Handler) handleTrackBus(c *registry.Conn, data json.RawMessage) {
	var p trackBusPayload
	if !h.decode(c, data, &p) {
		return
	}
	if c.Role() != models.RoleRider {
		h.reject(c, "track-bus requires rider role")
		return
	}
	c.TrackBus(p.BusID)
	h.Log.Info("rider tracking bus", "user_id", c.RiderID(), "bus_id", p.BusID)
	_ = c.Send("tracking-started", map[string]any{"busId": p.BusID, "status": "success"})
}

func (h *Handler) handleGetActiveBuses(c *registry.Conn) {
	if c.Role() != models.RoleRider {
		h.reject(c, "get-active-buses requires rider role")
		return
	}
	h.Fan.SendActiveBuses(c)
}

func (h *Handler) decode(c *registry.Conn, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		h.reject(c, "missing data payload")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		h.reject(c, "invalid data payload")
		return false
	}
	if err := h.checker().Struct(v); err != nil {
		h.reject(c, fmt.Sprintf("missing required fields: %v", err))
		return false
	}
	return true
}

func (h *Handler) reject(c *registry.Conn, msg string) {
	observability.MessagesInvalid.Inc()
	h.Log.Warn("message rejected", "conn", c.ID, "reason", msg)
	_ = c.Send("error", map[string]any{"message": msg})
}
