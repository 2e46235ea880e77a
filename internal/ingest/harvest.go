package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/purpleair"
)

const (
	// DefaultWindow is how far back historical pulls reach.
	DefaultWindow = 14 * 24 * time.Hour
	// DefaultBucketSeconds is the averaging granularity for historical
	// series (3600 = hourly averages).
	DefaultBucketSeconds = 3600
	// DefaultRequestDelay is the floor between consecutive API requests,
	// kept to stay clear of remote rate limits.
	DefaultRequestDelay = time.Second
)

// Harvester runs the pull stage: it fetches raw payloads for every registry
// sensor, sequentially and with a fixed inter-request delay, and persists
// each cycle's combined document as one raw file. A sensor-level failure is
// logged and skipped; it never aborts the other sensors.
type Harvester struct {
	client        *purpleair.Client
	sensors       []models.Sensor
	rawDir        string
	window        time.Duration
	bucketSeconds int
	requestDelay  time.Duration
	sleep         func(time.Duration)
	now           func() time.Time
}

func NewHarvester(client *purpleair.Client, sensors []models.Sensor, rawDir string) *Harvester {
	return &Harvester{
		client:        client,
		sensors:       sensors,
		rawDir:        rawDir,
		window:        DefaultWindow,
		bucketSeconds: DefaultBucketSeconds,
		requestDelay:  DefaultRequestDelay,
		sleep:         time.Sleep,
		now:           time.Now,
	}
}

// SetWindow overrides the historical pull window and bucket size.
func (h *Harvester) SetWindow(window time.Duration, bucketSeconds int) {
	h.window = window
	h.bucketSeconds = bucketSeconds
}

// SetRequestDelay overrides the per-request delay floor.
func (h *Harvester) SetRequestDelay(d time.Duration) {
	h.requestDelay = d
}

// PullHistory fetches the historical series plus current metadata for every
// sensor and writes the combined raw document. Returns the written file
// path, or "" when no sensor produced data.
func (h *Harvester) PullHistory(ctx context.Context) (string, error) {
	now := h.now().UTC()
	start := now.Add(-h.window)

	doc := &RawDocument{FetchedAt: now}
	for i, sensor := range h.sensors {
		if i > 0 {
			h.sleep(h.requestDelay)
		}

		log.Printf("harvest: fetching historical data for sensor %s", sensor.SensorID)

		var hist *purpleair.HistoryResponse
		err := h.retry(func() error {
			var err error
			hist, _, err = h.client.FetchHistory(ctx, sensor, start, now, h.bucketSeconds)
			return err
		})
		if err != nil {
			log.Printf("harvest: fetch history %s: %v", sensor.SensorID, err)
			continue
		}

		h.sleep(h.requestDelay)

		var current *purpleair.CurrentResponse
		err = h.retry(func() error {
			var err error
			current, _, err = h.client.FetchCurrent(ctx, sensor)
			return err
		})
		if err != nil {
			log.Printf("harvest: fetch metadata %s: %v", sensor.SensorID, err)
			continue
		}

		doc.Historical = append(doc.Historical, HistoricalPayload{
			SensorID:   sensor.SensorID,
			TimeStamps: hist.TimeStamps,
			DataPoints: hist.Data,
			Metadata: SensorMetadata{
				Name:      current.Sensor.Name,
				Latitude:  current.Sensor.Latitude,
				Longitude: current.Sensor.Longitude,
			},
		})
		log.Printf("harvest: fetched %d points for sensor %s", len(hist.TimeStamps), sensor.SensorID)
	}

	if len(doc.Historical) == 0 {
		log.Print("harvest: no data was fetched from any sensors")
		return "", nil
	}

	path, err := WriteRawDocument(h.rawDir, doc, now)
	if err != nil {
		return "", err
	}
	log.Printf("harvest: raw data saved to %s (%d sensors)", path, len(doc.Historical))
	return path, nil
}

// PullGroup fetches one batch snapshot through the groups API: create a
// temporary group, add every registry sensor, read the snapshot, and delete
// the group. Deletion is deferred as soon as the group exists, so cleanup
// happens even when the read fails.
func (h *Harvester) PullGroup(ctx context.Context, groupName string) (string, error) {
	groupID, err := h.client.CreateGroup(ctx, groupName)
	if err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	defer func() {
		if err := h.client.DeleteGroup(ctx, groupID); err != nil {
			log.Printf("harvest: delete group %d: %v", groupID, err)
		}
	}()

	added := 0
	for _, sensor := range h.sensors {
		h.sleep(h.requestDelay)
		if err := h.client.AddMember(ctx, groupID, sensor.SensorID, sensor.ReadKey); err != nil {
			log.Printf("harvest: add member %s: %v", sensor.SensorID, err)
			continue
		}
		added++
	}
	if added == 0 {
		return "", fmt.Errorf("group %d: no members added", groupID)
	}

	h.sleep(h.requestDelay)

	var snapshot *purpleair.GroupResponse
	err = h.retry(func() error {
		var err error
		snapshot, _, err = h.client.FetchGroup(ctx, groupID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("fetch group snapshot: %w", err)
	}

	now := h.now().UTC()
	doc := &RawDocument{FetchedAt: now, Group: &GroupPayload{Fields: snapshot.Fields, Rows: snapshot.Data}}
	path, err := WriteRawDocument(h.rawDir, doc, now)
	if err != nil {
		return "", err
	}
	log.Printf("harvest: group snapshot saved to %s (%d rows)", path, len(snapshot.Data))
	return path, nil
}

// retry wraps one fetch in capped exponential backoff. Only rate-limit and
// auth-throttle statuses are retried; everything else fails immediately.
func (h *Harvester) retry(operation func() error) error {
	wrapped := func() error {
		err := operation()
		if err == nil {
			return nil
		}
		var fe *purpleair.FetchError
		if errors.As(err, &fe) {
			switch fe.Status {
			case http.StatusTooManyRequests, http.StatusForbidden, http.StatusUnauthorized:
				return err
			}
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(wrapped, bo)
}
