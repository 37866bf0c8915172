// Package routes holds the static city route catalog served to map clients.
package routes

import (
	"sync"

	"github.com/example/bus-tracker/internal/models"
)

type Stop struct {
	Name   string       `json:"name"`
	Coords models.Coord `json:"coords"`
}

type Route struct {
	Name  string         `json:"name"`
	Path  []models.Coord `json:"path"`
	Stops []Stop         `json:"stops"`
}

type Catalog struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func (c *Catalog) Get(id string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[id]
	return r, ok
}

func (c *Catalog) Put(id string, r Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[id] = r
}

func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.routes))
	for id := range c.routes {
		out = append(out, id)
	}
	return out
}

// NewCatalog returns the seeded city routes.
func NewCatalog() *Catalog {
	c := &Catalog{routes: make(map[string]Route)}

	c.Put("1", Route{
		Name: "Ranjangaon Phata",
		Path: []models.Coord{
			{19.851408, 75.209897},
			{19.840466, 75.232433},
			{19.845526, 75.240380},
			{19.838546, 75.251527},
			{19.837301, 75.253563},
			{19.847091, 75.265890},
			{19.832842, 75.270292},
			{19.827377, 75.289950},
			{19.832516, 75.290357},
		},
		Stops: []Stop{
			{Name: "Ranjangaon Phata", Coords: models.Coord{19.875743, 75.334755}},
			{Name: "Alphonsa", Coords: models.Coord{19.840466, 75.232433}},
			{Name: "Pratap Chowk", Coords: models.Coord{19.839425, 75.241251}},
			{Name: "MIDC RD", Coords: models.Coord{19.838546, 75.251527}},
			{Name: "MIDC RD corner", Coords: models.Coord{19.837301, 75.253563}},
			{Name: "Gollwadi Chowk", Coords: models.Coord{19.847091, 75.265890}},
			{Name: "Near Waladgaon Rd", Coords: models.Coord{19.847091, 75.265890}},
			{Name: "Paithan RD", Coords: models.Coord{19.827377, 75.289950}},
			{Name: "csmss", Coords: models.Coord{19.832516, 75.290357}},
		},
	})

	c.Put("2", Route{
		Name: "Fame Tapadia Signal",
		Path: []models.Coord{
			{19.883575, 75.365027},
			{19.894559, 75.365062},
			{19.895284, 75.364767},
			{19.898180, 75.362212},
			{19.904718, 75.357021},
			{19.909854, 75.353163},
			{19.914915, 75.352384},
			{19.906784, 75.343839},
			{19.904839, 75.342060},
			{19.894397, 75.337078},
			{19.892250, 75.327619},
			{19.884206, 75.317144},
			{19.873789, 75.315127},
			{19.861054, 75.310145},
			{19.861327, 75.307114},
			{19.846803, 75.294608},
			{19.832545, 75.290382},
		},
		Stops: []Stop{
			{Name: "Fame Tapadia Signal", Coords: models.Coord{19.876796, 75.366045}},
			{Name: "N1 Ganpati", Coords: models.Coord{19.883883, 75.365047}},
			{Name: "Wokhardt", Coords: models.Coord{19.895284, 75.364767}},
			{Name: "Ambedkar Chowk", Coords: models.Coord{19.898180, 75.362212}},
			{Name: "Jaiswal Hall", Coords: models.Coord{19.904718, 75.357021}},
			{Name: "SBOA", Coords: models.Coord{19.909854, 75.353163}},
			{Name: "T. Point", Coords: models.Coord{19.914915, 75.352384}},
			{Name: "Power House", Coords: models.Coord{19.906784, 75.343839}},
			{Name: "Hudco Corner", Coords: models.Coord{19.904839, 75.342060}},
			{Name: "Collector Office", Coords: models.Coord{19.894397, 75.337078}},
			{Name: "Jubilee Park", Coords: models.Coord{19.892250, 75.327619}},
			{Name: "Mill Corner", Coords: models.Coord{19.884206, 75.317144}},
			{Name: "bharat petroleum", Coords: models.Coord{19.884206, 75.317144}},
			{Name: "Railway Station", Coords: models.Coord{19.861054, 75.310145}},
			{Name: "Paithan RD", Coords: models.Coord{19.861054, 75.310145}},
			{Name: "Csmss", Coords: models.Coord{19.832545, 75.290382}},
		},
	})

	return c
}
