package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/bus-tracker/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveLocation(rec *models.BusLocationRecord) error {
	_, err := p.db.Exec(`INSERT INTO bus_locations(bus_id, driver_id, lat, lng, accuracy, visible, reported_at, recorded_at) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.BusID, rec.DriverID, rec.Coords.Lat(), rec.Coords.Lng(), rec.Accuracy, rec.Visible, time.UnixMilli(rec.Timestamp), time.Now())
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }
