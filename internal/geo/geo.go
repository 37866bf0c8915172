package geo

import (
	"math"
	"sync"
	"time"

	"github.com/example/bus-tracker/internal/models"
)

// Geo is the minimal interface required by the nearby-buses API and the
// proximity sweep.
type Geo interface {
	Nearby(lat, lng float64, limit int) []models.BusPosition
	Upsert(p models.BusPosition)
}

type Index struct {
	mu    sync.RWMutex
	buses map[string]models.BusPosition
}

func NewIndex() *Index {
	return &Index{buses: make(map[string]models.BusPosition)}
}

func (g *Index) Upsert(p models.BusPosition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p.Updated == 0 {
		p.Updated = time.Now().UnixMilli()
	}
	g.buses[p.BusID] = p
}

func (g *Index) Remove(busID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.buses, busID)
}

// naive scan; fine for a city-sized fleet
func (g *Index) Nearby(lat, lng float64, limit int) []models.BusPosition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.BusPosition
		dist float64
	}
	arr := make([]pair, 0, len(g.buses))
	for _, p := range g.buses {
		dist := Haversine(lat, lng, p.Coords.Lat(), p.Coords.Lng())
		arr = append(arr, pair{p, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.BusPosition, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
