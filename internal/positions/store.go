// Package positions holds the in-memory table of the latest known state per
// driver. Each key is protected independently: concurrent updates to
// different drivers never contend, and a snapshot may observe two
// "simultaneous" cross-key updates in either order.
package positions

import (
	"sync"
	"time"

	"github.com/example/bus-tracker/internal/models"
)

const statusActive = "active"

type entry struct {
	mu    sync.Mutex
	state models.DriverState
}

type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entryFor(driverID string) *entry {
	s.mu.RLock()
	e := s.entries[driverID]
	s.mu.RUnlock()
	if e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e = s.entries[driverID]; e == nil {
		e = &entry{state: models.DriverState{DriverID: driverID, Visible: true, Status: statusActive}}
		s.entries[driverID] = e
	}
	return e
}

// Register creates or refreshes a driver entry without touching coordinates.
func (s *Store) Register(driverID, busID string, now int64) models.DriverState {
	e := s.entryFor(driverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.BusID = busID
	if now > e.state.LastSeen {
		e.state.LastSeen = now
	}
	return e.state
}

// Upsert applies a location sample. Unknown drivers are created. Visibility
// is preserved unless the message carries the flag. LastSeen never moves
// backward: replaying an older sample updates coords but not the timestamp.
func (s *Store) Upsert(driverID, busID string, coords models.Coord, accuracy float64, visible *bool, ts int64) models.DriverState {
	e := s.entryFor(driverID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if busID != "" {
		e.state.BusID = busID
	}
	c := coords
	e.state.Coords = &c
	e.state.Accuracy = accuracy
	if visible != nil {
		e.state.Visible = *visible
	}
	if ts > e.state.LastSeen {
		e.state.LastSeen = ts
	}
	return e.state
}

// SetVisibility flips the broadcast gate for a known driver.
func (s *Store) SetVisibility(driverID string, visible bool) (models.DriverState, bool) {
	s.mu.RLock()
	e := s.entries[driverID]
	s.mu.RUnlock()
	if e == nil {
		return models.DriverState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Visible = visible
	return e.state, true
}

func (s *Store) Get(driverID string) (models.DriverState, bool) {
	s.mu.RLock()
	e := s.entries[driverID]
	s.mu.RUnlock()
	if e == nil {
		return models.DriverState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// ListVisible returns a point-in-time snapshot of visible drivers that have
// reported at least one location. It is a copy, never a live view.
func (s *Store) ListVisible() []models.DriverState {
	return s.list(func(st models.DriverState) bool {
		return st.Visible && st.Coords != nil
	})
}

// List returns a snapshot of every live entry.
func (s *Store) List() []models.DriverState {
	return s.list(func(models.DriverState) bool { return true })
}

func (s *Store) list(keep func(models.DriverState) bool) []models.DriverState {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]models.DriverState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := e.state
		e.mu.Unlock()
		if keep(st) {
			out = append(out, st)
		}
	}
	return out
}

func (s *Store) Remove(driverID string) (models.DriverState, bool) {
	s.mu.Lock()
	e := s.entries[driverID]
	if e != nil {
		delete(s.entries, driverID)
	}
	s.mu.Unlock()
	if e == nil {
		return models.DriverState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Stale returns drivers whose lastSeen is older than threshold at the given
// instant. Callers remove them and fan out departure events.
func (s *Store) Stale(threshold time.Duration, now time.Time) []models.DriverState {
	cutoff := now.UnixMilli() - threshold.Milliseconds()
	return s.list(func(st models.DriverState) bool {
		return st.LastSeen > 0 && st.LastSeen < cutoff
	})
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
