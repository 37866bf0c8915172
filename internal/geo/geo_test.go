package geo

import (
	"testing"

	"github.com/example/bus-tracker/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestNearbyOrdersByDistance(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.BusPosition{BusID: "bus-far", Coords: models.Coord{19.95, 75.40}})
	idx.Upsert(models.BusPosition{BusID: "bus-near", Coords: models.Coord{19.8701, 75.3401}})

	got := idx.Nearby(19.87, 75.34, 1)
	if len(got) != 1 || got[0].BusID != "bus-near" {
		t.Fatalf("expected nearest bus first, got %+v", got)
	}
}

func TestNearbyLimitExceedsFleet(t *testing.T) {
	idx := NewIndex()
	idx.Upsert(models.BusPosition{BusID: "bus-1", Coords: models.Coord{1, 2}})
	if got := idx.Nearby(1, 2, 10); len(got) != 1 {
		t.Fatalf("expected the whole fleet, got %d", len(got))
	}
}
