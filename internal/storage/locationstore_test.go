package storage

import (
	"testing"

	"github.com/example/bus-tracker/internal/models"
)

func TestMemoryStoreRecent(t *testing.T) {
	m := NewMemoryStore()
	for i := 0; i < 5; i++ {
		rec := models.BusLocationRecord{BusID: "bus-1", DriverID: "d1", Coords: models.Coord{1, float64(i)}, Timestamp: int64(i)}
		if err := m.SaveLocation(&rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	got := m.Recent("bus-1", 2)
	if len(got) != 2 || got[1].Timestamp != 4 {
		t.Fatalf("expected the two newest samples, got %+v", got)
	}
	if len(m.Recent("bus-2", 2)) != 0 {
		t.Fatal("unknown bus should have no history")
	}
}
