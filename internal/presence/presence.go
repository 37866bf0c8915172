// Package presence runs the lifecycle side of the tracking server: the
// liveness sweep evicting silent drivers, the periodic active-buses
// broadcast, and proximity alerts for tracking riders. Explicit socket
// closes go through the same removal path immediately.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/bus-tracker/internal/fanout"
	"github.com/example/bus-tracker/internal/geo"
	"github.com/example/bus-tracker/internal/models"
	"github.com/example/bus-tracker/internal/observability"
	"github.com/example/bus-tracker/internal/positions"
	"github.com/example/bus-tracker/internal/registry"
)

type Manager struct {
	reg   *registry.Registry
	store *positions.Store
	fan   *fanout.Engine
	log   *slog.Logger

	sweepInterval     time.Duration
	livenessThreshold time.Duration
	broadcastInterval time.Duration
	proximityMeters   float64

	now func() time.Time
}

func NewManager(reg *registry.Registry, store *positions.Store, fan *fanout.Engine, log *slog.Logger,
	sweepInterval, livenessThreshold, broadcastInterval time.Duration, proximityMeters float64) *Manager {
	return &Manager{
		reg:               reg,
		store:             store,
		fan:               fan,
		log:               log,
		sweepInterval:     sweepInterval,
		livenessThreshold: livenessThreshold,
		broadcastInterval: broadcastInterval,
		proximityMeters:   proximityMeters,
		now:               time.Now,
	}
}

// Run drives the periodic tasks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	sweep := time.NewTicker(m.sweepInterval)
	broadcast := time.NewTicker(m.broadcastInterval)
	defer sweep.Stop()
	defer broadcast.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			m.Sweep(m.now())
		case <-broadcast.C:
			m.fan.BroadcastActiveBuses()
			m.notifyProximity()
		}
	}
}

// Sweep evicts every driver whose lastSeen exceeds the liveness threshold.
// Each driver check is independent: one failure never aborts the cycle.
func (m *Manager) Sweep(now time.Time) {
	for _, st := range m.store.Stale(m.livenessThreshold, now) {
		if _, ok := m.store.Remove(st.DriverID); !ok {
			continue // already gone, e.g. raced with an explicit close
		}
		m.log.Info("driver evicted by liveness sweep", "driver_id", st.DriverID, "bus_id", st.BusID, "last_seen", st.LastSeen)
		observability.DriversEvicted.Inc()
		observability.DriversActive.Set(float64(m.store.Len()))
		m.fan.DriverLeft(st.DriverID)
		if c := m.reg.FindDriver(st.DriverID); c != nil {
			m.reg.Remove(c)
			c.Close()
		}
	}
}

// Disconnected is the immediate removal path for an explicit socket close or
// transport error. Safe to call more than once per connection.
func (m *Manager) Disconnected(c *registry.Conn) {
	if !m.reg.Remove(c) {
		return
	}
	c.Close()

	driverID := c.DriverID()
	if c.Role() != models.RoleDriver || driverID == "" {
		return
	}
	// A newer connection may own the identity now; only the current owner's
	// departure removes state and notifies subscribers.
	if cur := m.reg.FindDriver(driverID); cur != nil {
		return
	}
	if _, ok := m.store.Remove(driverID); !ok {
		return
	}
	observability.DriversActive.Set(float64(m.store.Len()))
	m.log.Info("driver disconnected", "driver_id", driverID)
	m.fan.DriverLeft(driverID)
}

// notifyProximity alerts each tracking rider with a known location when a
// tracked bus is within the proximity threshold.
func (m *Manager) notifyProximity() {
	for _, rider := range m.reg.Riders() {
		loc := rider.Coords()
		if loc == nil || rider.TrackingEmpty() {
			continue
		}
		for _, st := range m.store.ListVisible() {
			if !rider.TracksBus(st.BusID) || st.Coords == nil {
				continue
			}
			dist := geo.Haversine(loc.Lat(), loc.Lng(), st.Coords.Lat(), st.Coords.Lng())
			if dist > m.proximityMeters {
				continue
			}
			if err := rider.Send("bus-nearby", map[string]any{
				"busId":    st.BusID,
				"distance": dist,
				"coords":   st.Coords,
			}); err != nil {
				m.log.Warn("proximity notify failed", "conn", rider.ID, "error", err)
			}
		}
	}
}

// SetNow overrides the clock; used by tests.
func (m *Manager) SetNow(now func() time.Time) { m.now = now }
