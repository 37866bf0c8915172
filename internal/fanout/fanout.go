// Package fanout decides which connections receive which outbound event when
// driver state changes. Delivery is at-most-once per event per recipient and
// nothing is buffered for reconnecting clients: a client that reconnects must
// re-request a snapshot.
package fanout

import (
	"log/slog"

	"github.com/example/bus-tracker/internal/models"
	"github.com/example/bus-tracker/internal/positions"
	"github.com/example/bus-tracker/internal/registry"
)

type Engine struct {
	reg   *registry.Registry
	store *positions.Store
	log   *slog.Logger
}

func NewEngine(reg *registry.Registry, store *positions.Store, log *slog.Logger) *Engine {
	return &Engine{reg: reg, store: store, log: log}
}

// DriverRegistered announces a newly registered driver to every rider.
func (e *Engine) DriverRegistered(st models.DriverState, ts int64) {
	data := map[string]any{"driverId": st.DriverID, "busId": st.BusID, "timestamp": ts}
	for _, rider := range e.reg.Riders() {
		e.send(rider, "new-driver-available", data)
	}
}

// LocationChanged pushes a location delta to every eligible recipient.
// Visibility gates all delivery uniformly: an invisible driver is suppressed
// even for riders that explicitly track the bus.
func (e *Engine) LocationChanged(st models.DriverState) {
	if !st.Visible || st.Coords == nil {
		return
	}
	data := map[string]any{
		"driverId":  st.DriverID,
		"busId":     st.BusID,
		"coords":    st.Coords,
		"timestamp": st.LastSeen,
	}
	for _, rider := range e.reg.Riders() {
		if !rider.TrackingEmpty() && !rider.TracksBus(st.BusID) {
			continue
		}
		e.send(rider, "bus-location-update", data)
	}
	for _, peer := range e.reg.Drivers() {
		if peer.DriverID() == st.DriverID || !peer.ShowPeers() {
			continue
		}
		e.send(peer, "driver-location-update", data)
	}
}

// DriverLeft tells every rider and every opted-in peer driver that a driver
// is gone. Called exactly once per departure by the presence manager.
func (e *Engine) DriverLeft(driverID string) {
	data := map[string]any{"driverId": driverID}
	for _, rider := range e.reg.Riders() {
		e.send(rider, "driver-left", data)
	}
	for _, peer := range e.reg.Drivers() {
		if peer.DriverID() == driverID || !peer.ShowPeers() {
			continue
		}
		e.send(peer, "driver-left", data)
	}
}

// SendActiveBuses delivers a point-in-time snapshot of visible buses to one
// rider, honoring a non-empty tracking set.
func (e *Engine) SendActiveBuses(rider *registry.Conn) {
	e.send(rider, "active-buses", e.activeBusesFor(rider))
}

// BroadcastActiveBuses pushes the periodic snapshot to every rider. Riders
// with a tracking set get only their tracked buses.
func (e *Engine) BroadcastActiveBuses() {
	riders := e.reg.Riders()
	if len(riders) == 0 {
		return
	}
	for _, rider := range riders {
		buses := e.activeBusesFor(rider)
		if len(buses) == 0 {
			continue
		}
		e.send(rider, "active-buses", buses)
	}
}

func (e *Engine) activeBusesFor(rider *registry.Conn) []models.DriverState {
	visible := e.store.ListVisible()
	if rider.TrackingEmpty() {
		return visible
	}
	out := make([]models.DriverState, 0, len(visible))
	for _, st := range visible {
		if rider.TracksBus(st.BusID) {
			out = append(out, st)
		}
	}
	return out
}

// SendOtherDrivers delivers the visible-peers snapshot to a driver, excluding
// the driver itself.
func (e *Engine) SendOtherDrivers(driver *registry.Conn, requestingID string) {
	visible := e.store.ListVisible()
	out := make([]models.DriverState, 0, len(visible))
	for _, st := range visible {
		if st.DriverID == requestingID {
			continue
		}
		out = append(out, st)
	}
	e.send(driver, "other-drivers", out)
}

func (e *Engine) send(c *registry.Conn, eventType string, data any) {
	if err := c.Send(eventType, data); err != nil {
		e.log.Warn("event send failed", "type", eventType, "conn", c.ID, "error", err)
	}
}
