// Package ingest turns raw PurpleAir API payloads into canonical sensor
// report rows and drives the pull/process stages of the ETL pipeline.
package ingest

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/airshed/airshed/internal/models"
)

// Payload is the closed set of raw API payload shapes. Each variant knows
// how to normalize itself into canonical rows; there is no shape sniffing
// anywhere else in the pipeline.
type Payload interface {
	Normalize(now time.Time) []models.SensorReport
}

// CurrentPayload is a single current-reading snapshot for one sensor.
type CurrentPayload struct {
	SensorID    string   `json:"sensor_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	PM25        *float64 `json:"pm2_5"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	LastSeen    *int64   `json:"last_seen"`
}

// Normalize emits at most one row. A snapshot without a report timestamp
// cannot form the (sensor_id, last_seen) key and is dropped.
func (p CurrentPayload) Normalize(now time.Time) []models.SensorReport {
	if p.LastSeen == nil {
		return nil
	}

	row := models.SensorReport{
		SensorID:    p.SensorID,
		Latitude:    nullFloat(p.Latitude),
		Longitude:   nullFloat(p.Longitude),
		LastSeen:    time.Unix(*p.LastSeen, 0).UTC(),
		PM25:        nullFloat(p.PM25),
		Temperature: nullFloat(p.Temperature),
		Humidity:    nullFloat(p.Humidity),
		Pressure:    nullFloat(p.Pressure),
		Status:      models.StatusActive,
		CreatedAt:   now,
	}
	if !row.Accepted() {
		return nil
	}
	return []models.SensorReport{row}
}

// SensorMetadata carries per-sensor metadata attached to historical series.
type SensorMetadata struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// HistoricalPayload is a time-bucketed series for one sensor. DataPoints
// rows are positional [pm2.5, temperature, humidity, pressure] tuples
// aligned by index with TimeStamps.
type HistoricalPayload struct {
	SensorID   string         `json:"sensor_id"`
	Metadata   SensorMetadata `json:"metadata"`
	TimeStamps []int64        `json:"time_stamps"`
	DataPoints [][]*float64   `json:"data"`
}

// Normalize emits one row per aligned (timestamp, tuple) pair. Mismatched
// sequence lengths truncate to the shorter side; a tuple with fewer than
// four values skips only that point.
func (p HistoricalPayload) Normalize(now time.Time) []models.SensorReport {
	n := len(p.TimeStamps)
	if len(p.DataPoints) < n {
		n = len(p.DataPoints)
	}

	var rows []models.SensorReport
	for i := 0; i < n; i++ {
		point := p.DataPoints[i]
		if len(point) < 4 {
			continue
		}

		row := models.SensorReport{
			SensorID:    p.SensorID,
			Latitude:    nullFloat(p.Metadata.Latitude),
			Longitude:   nullFloat(p.Metadata.Longitude),
			LastSeen:    time.Unix(p.TimeStamps[i], 0).UTC(),
			PM25:        nullFloat(point[0]),
			Temperature: nullFloat(point[1]),
			Humidity:    nullFloat(point[2]),
			Pressure:    nullFloat(point[3]),
			Status:      models.StatusActive,
			CreatedAt:   now,
		}
		if !row.Accepted() {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// GroupPayload is a positional batch snapshot: each row is zipped against
// Fields to recover named values.
type GroupPayload struct {
	Fields []string `json:"fields"`
	Rows   [][]any  `json:"data"`
}

// Normalize emits one row per data row. A row whose value count does not
// match the field list is skipped.
func (p GroupPayload) Normalize(now time.Time) []models.SensorReport {
	var rows []models.SensorReport
	for _, values := range p.Rows {
		if len(values) != len(p.Fields) {
			continue
		}

		row := models.SensorReport{Status: models.StatusActive, CreatedAt: now}
		var lastSeen *int64

		for i, field := range p.Fields {
			switch field {
			case "sensor_id", "sensor_index":
				row.SensorID = stringValue(values[i])
			case "latitude":
				row.Latitude = nullFloat(floatValue(values[i]))
			case "longitude":
				row.Longitude = nullFloat(floatValue(values[i]))
			case "pm2.5", "pm2_5", "pm25":
				row.PM25 = nullFloat(floatValue(values[i]))
			case "temperature":
				row.Temperature = nullFloat(floatValue(values[i]))
			case "humidity":
				row.Humidity = nullFloat(floatValue(values[i]))
			case "pressure":
				row.Pressure = nullFloat(floatValue(values[i]))
			case "last_seen":
				if f := floatValue(values[i]); f != nil {
					epoch := int64(*f)
					lastSeen = &epoch
				}
			}
		}

		if lastSeen == nil {
			continue
		}
		row.LastSeen = time.Unix(*lastSeen, 0).UTC()

		if !row.Accepted() {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// floatValue coerces a JSON value from a positional row into a float, or
// nil when the value is absent or non-numeric.
func floatValue(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int64:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	default:
		return nil
	}
}

// stringValue renders a positional row value as a sensor id. Numeric ids
// are formatted without a decimal point.
func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case int64:
		return fmt.Sprintf("%d", s)
	case int:
		return fmt.Sprintf("%d", s)
	default:
		return ""
	}
}
