// Package liveness classifies sensors as online or offline from their last
// reported timestamp and builds the offline report sent to notifiers.
package liveness

import (
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/purpleair"
)

// DefaultThresholdHours is how stale a sensor's last report may be before
// it is considered offline.
const DefaultThresholdHours = 3.0

// Result pairs one registry sensor with the outcome of its current-reading
// fetch. Err is set when the fetch failed; Current is nil in that case.
type Result struct {
	Sensor  models.Sensor
	Current *purpleair.CurrentResponse
	Err     error
}

// Evaluate classifies each result against the staleness threshold and
// returns the offline records in input order.
//
// A failed fetch or a reading without last_seen is a data gap, not evidence
// of offline duration, so it is logged and excluded from the report. A
// sensor is offline only when it is strictly more than thresholdHours stale.
func Evaluate(results []Result, now time.Time, thresholdHours float64) []models.OfflineSensor {
	var offline []models.OfflineSensor

	for _, res := range results {
		if res.Err != nil {
			log.Printf("liveness: failed to get data for sensor %s: %v", res.Sensor.SensorID, res.Err)
			continue
		}

		sensor := res.Current.Sensor
		if sensor.LastSeen == nil {
			log.Printf("liveness: no last_seen data for sensor %s", res.Sensor.SensorID)
			continue
		}

		name := sensor.Name
		if name == "" {
			name = fmt.Sprintf("Sensor %s", res.Sensor.SensorID)
		}

		lastSeen := time.Unix(*sensor.LastSeen, 0).UTC()
		hours := now.Sub(lastSeen).Seconds() / 3600

		if hours > thresholdHours {
			rounded := math.RoundToEven(hours*10) / 10
			offline = append(offline, models.OfflineSensor{
				Name:         name,
				SensorID:     res.Sensor.SensorID,
				HoursOffline: rounded,
				LastSeen:     lastSeen,
			})
			log.Printf("liveness: sensor %s (ID: %s) hasn't reported in %.1f hours", name, res.Sensor.SensorID, rounded)
		}
	}

	return offline
}

// Subject is the notification subject used for offline alerts.
const Subject = "Air Quality Sensors Offline Alert"

// ReportBody renders the notification body: a header line followed by a
// three-line block per offline sensor.
func ReportBody(offline []models.OfflineSensor, thresholdHours float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The following sensors have been offline for more than %g hours:\n\n", thresholdHours)
	for _, s := range offline {
		fmt.Fprintf(&b, "- %s (ID: %s)\n", s.Name, s.SensorID)
		fmt.Fprintf(&b, "  Last seen: %s\n", s.LastSeen.Format(time.RFC3339))
		fmt.Fprintf(&b, "  Hours offline: %.1f\n\n", s.HoursOffline)
	}
	return b.String()
}
