package models

import (
	"database/sql"
	"time"
)

// Sensor identifies one PurpleAir sensor in the registry. ReadKey is only
// set for private sensors and authorizes API access to them.
type Sensor struct {
	SensorID string `json:"sensor_id"`
	Name     string `json:"name,omitempty"`
	ReadKey  string `json:"read_key,omitempty"`
}

const StatusActive = "active"

// SensorReport is the canonical row persisted for every reading, regardless
// of which API payload shape it came from. Uniqueness is enforced by the
// storage backends on (sensor_id, last_seen).
type SensorReport struct {
	SensorID    string
	Latitude    sql.NullFloat64
	Longitude   sql.NullFloat64
	LastSeen    time.Time
	PM25        sql.NullFloat64
	Temperature sql.NullFloat64
	Humidity    sql.NullFloat64
	Pressure    sql.NullFloat64
	Status      string
	Error       sql.NullString
	CreatedAt   time.Time
}

// Accepted reports whether the row passes the acceptance filter: rows
// without a sensor id, coordinates or a PM2.5 value are dropped rather than
// stored as partial rows.
func (r SensorReport) Accepted() bool {
	return r.SensorID != "" && r.Latitude.Valid && r.Longitude.Valid && r.PM25.Valid
}

// OfflineSensor describes one sensor that exceeded the staleness threshold
// during a poll cycle. Records are rebuilt fresh each cycle and never
// persisted.
type OfflineSensor struct {
	Name         string
	SensorID     string
	HoursOffline float64
	LastSeen     time.Time
}
