package geo

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/bus-tracker/internal/models"
)

// RedisGeo implements Geo using Redis GEO commands so position data survives
// a server restart and can be shared with the ingest consumer.
type RedisGeo struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key, ctx: context.Background()}
}

func (r *RedisGeo) Upsert(p models.BusPosition) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: p.Coords.Lng(), Latitude: p.Coords.Lat(), Name: p.BusID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(p.BusID), map[string]interface{}{
		"driverId": p.DriverID,
		"updated":  strconv.FormatInt(p.Updated, 10),
	}).Err()
}

func (r *RedisGeo) Nearby(lat, lng float64, limit int) []models.BusPosition {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{Radius: 5000, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.BusPosition, 0, len(res))
	for _, g := range res {
		p := models.BusPosition{BusID: g.Name, Coords: models.Coord{g.Latitude, g.Longitude}}
		if m, err := r.client.HGetAll(r.ctx, metaKey(g.Name)).Result(); err == nil {
			p.DriverID = m["driverId"]
			if v, ok := m["updated"]; ok {
				if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
					p.Updated = ts
				}
			}
		}
		out = append(out, p)
	}
	return out
}

func metaKey(busID string) string { return "bus:meta:" + busID }
