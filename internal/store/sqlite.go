package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/airshed/airshed/internal/models"
)

// SQLite is the fallback backend: a local database file used when no
// Postgres credentials are configured. Requires the modernc.org/sqlite
// driver to be registered by the caller.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) *SQLite {
	return &SQLite{path: path}
}

// NewSQLiteDB wraps an already-open database, used by tests with :memory:.
func NewSQLiteDB(db *sql.DB) (*SQLite, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &SQLite{path: ":memory:", db: db}, nil
}

func (s *SQLite) Name() string { return "sqlite" }

func (s *SQLite) Configured() bool { return s.path != "" }

func (s *SQLite) open() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

func (s *SQLite) Upsert(ctx context.Context, rows []models.SensorReport) error {
	if len(rows) == 0 {
		return nil
	}

	db, err := s.open()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensor_reports (sensor_id, latitude, longitude, last_seen, pm25, temperature, humidity, pressure, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sensor_id, last_seen) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			pm25 = excluded.pm25,
			temperature = excluded.temperature,
			humidity = excluded.humidity,
			pressure = excluded.pressure,
			status = excluded.status,
			error = excluded.error
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.SensorID, r.Latitude, r.Longitude, r.LastSeen.UTC(),
			r.PM25, r.Temperature, r.Humidity, r.Pressure, r.Status, r.Error, r.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("upsert %s@%s: %w", r.SensorID, r.LastSeen.Format(time.RFC3339), err)
		}
	}

	return tx.Commit()
}

// CountReports returns the number of stored rows.
func (s *SQLite) CountReports(ctx context.Context) (int, error) {
	db, err := s.open()
	if err != nil {
		return 0, err
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sensor_reports`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetReport loads one row by its natural key.
func (s *SQLite) GetReport(ctx context.Context, sensorID string, lastSeen time.Time) (*models.SensorReport, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT sensor_id, latitude, longitude, last_seen, pm25, temperature, humidity, pressure, status, error, created_at
		FROM sensor_reports WHERE sensor_id = ? AND last_seen = ?
	`, sensorID, lastSeen.UTC())

	var r models.SensorReport
	err = row.Scan(&r.SensorID, &r.Latitude, &r.Longitude, &r.LastSeen, &r.PM25,
		&r.Temperature, &r.Humidity, &r.Pressure, &r.Status, &r.Error, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
