// Package config loads the immutable sensor registry. The registry is read
// once at startup and never mutated afterwards.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/airshed/airshed/internal/models"
)

// LoadRegistry reads the sensor registry from a JSON file: an array of
// objects with sensor_id, optional name and optional read_key.
func LoadRegistry(path string) ([]models.Sensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var sensors []models.Sensor
	if err := json.Unmarshal(data, &sensors); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}

	seen := make(map[string]bool, len(sensors))
	for _, s := range sensors {
		if s.SensorID == "" {
			return nil, fmt.Errorf("registry %s: entry without sensor_id", path)
		}
		if seen[s.SensorID] {
			return nil, fmt.Errorf("registry %s: duplicate sensor_id %s", path, s.SensorID)
		}
		seen[s.SensorID] = true
	}

	if len(sensors) == 0 {
		return nil, fmt.Errorf("registry %s: no sensors defined", path)
	}
	return sensors, nil
}
