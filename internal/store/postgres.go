package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airshed/airshed/internal/models"
)

// Postgres is the primary backend: batched natural-key upserts into a
// sensor_reports table over pgx.
type Postgres struct {
	databaseURL string

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func NewPostgres(databaseURL string) *Postgres {
	return &Postgres{databaseURL: databaseURL}
}

func (p *Postgres) Name() string { return "postgres" }

// Configured reports whether connection credentials are present. The pool
// itself is opened lazily on first use.
func (p *Postgres) Configured() bool { return p.databaseURL != "" }

const pgSchema = `
CREATE TABLE IF NOT EXISTS sensor_reports (
    sensor_id   TEXT NOT NULL,
    latitude    DOUBLE PRECISION,
    longitude   DOUBLE PRECISION,
    last_seen   TIMESTAMPTZ NOT NULL,
    pm25        DOUBLE PRECISION,
    temperature DOUBLE PRECISION,
    humidity    DOUBLE PRECISION,
    pressure    DOUBLE PRECISION,
    status      TEXT NOT NULL DEFAULT 'active',
    error       TEXT,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (sensor_id, last_seen)
)`

func (p *Postgres) connect(ctx context.Context) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	pool, err := pgxpool.New(ctx, p.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	p.pool = pool
	return pool, nil
}

func (p *Postgres) Upsert(ctx context.Context, rows []models.SensorReport) error {
	if len(rows) == 0 {
		return nil
	}

	pool, err := p.connect(ctx)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	query := `INSERT INTO sensor_reports (sensor_id, latitude, longitude, last_seen, pm25, temperature, humidity, pressure, status, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (sensor_id, last_seen) DO UPDATE
SET latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    pm25 = EXCLUDED.pm25,
    temperature = EXCLUDED.temperature,
    humidity = EXCLUDED.humidity,
    pressure = EXCLUDED.pressure,
    status = EXCLUDED.status,
    error = EXCLUDED.error`

	for _, r := range rows {
		batch.Queue(query, r.SensorID, r.Latitude, r.Longitude, r.LastSeen, r.PM25,
			r.Temperature, r.Humidity, r.Pressure, r.Status, r.Error, r.CreatedAt)
	}

	res := pool.SendBatch(ctx, batch)
	defer res.Close()

	for range rows {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
	}
}
