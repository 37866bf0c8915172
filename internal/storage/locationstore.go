package storage

import (
	"sync"

	"github.com/example/bus-tracker/internal/models"
)

// LocationStore defines persistence operations for location history.
type LocationStore interface {
	SaveLocation(rec *models.BusLocationRecord) error
}

const memoryStoreCap = 1000

// MemoryStore keeps a bounded per-bus history; the default when no Postgres
// DSN is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	history map[string][]models.BusLocationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{history: make(map[string][]models.BusLocationRecord)}
}

func (m *MemoryStore) SaveLocation(rec *models.BusLocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[rec.BusID], *rec)
	if len(h) > memoryStoreCap {
		h = h[len(h)-memoryStoreCap:]
	}
	m.history[rec.BusID] = h
	return nil
}

// Recent returns up to n most recent samples for a bus, newest last.
func (m *MemoryStore) Recent(busID string, n int) []models.BusLocationRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[busID]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]models.BusLocationRecord, len(h))
	copy(out, h)
	return out
}
