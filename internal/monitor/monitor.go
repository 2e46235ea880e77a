// Package monitor drives the liveness poll loop: fetch each sensor's
// current reading, classify staleness, notify on offline sensors, sleep,
// repeat.
package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/airshed/airshed/internal/liveness"
	"github.com/airshed/airshed/internal/metrics"
	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/notify"
	"github.com/airshed/airshed/internal/purpleair"
)

const (
	// DefaultInterval between poll cycles.
	DefaultInterval = 300 * time.Second
	// DefaultErrorInterval is the shorter sleep after a failed cycle, to
	// recover from transient failures without busy-looping.
	DefaultErrorInterval = 60 * time.Second
	// DefaultRequestDelay is the floor between per-sensor requests.
	DefaultRequestDelay = time.Second
)

// Fetcher is the slice of the PurpleAir client the monitor needs.
type Fetcher interface {
	FetchCurrent(ctx context.Context, sensor models.Sensor) (*purpleair.CurrentResponse, []byte, error)
}

// Monitor polls sensors sequentially in registry order. One sensor's
// failure never aborts the others; a cycle-level failure only shortens the
// following sleep.
type Monitor struct {
	fetcher        Fetcher
	sensors        []models.Sensor
	notifier       notify.Notifier
	thresholdHours float64
	interval       time.Duration
	errInterval    time.Duration
	requestDelay   time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) bool
}

func New(fetcher Fetcher, sensors []models.Sensor, notifier notify.Notifier) *Monitor {
	return &Monitor{
		fetcher:        fetcher,
		sensors:        sensors,
		notifier:       notifier,
		thresholdHours: liveness.DefaultThresholdHours,
		interval:       DefaultInterval,
		errInterval:    DefaultErrorInterval,
		requestDelay:   DefaultRequestDelay,
		now:            time.Now,
		sleep:          sleepCtx,
	}
}

// SetThreshold overrides the offline staleness threshold in hours.
func (m *Monitor) SetThreshold(hours float64) {
	m.thresholdHours = hours
}

// SetIntervals overrides the normal and error-recovery sleep durations.
func (m *Monitor) SetIntervals(normal, onError time.Duration) {
	m.interval = normal
	m.errInterval = onError
}

// SetRequestDelay overrides the per-request delay floor.
func (m *Monitor) SetRequestDelay(d time.Duration) {
	m.requestDelay = d
}

// SetClock injects the time source and sleeper, so tests can run cycles
// without real-time waiting.
func (m *Monitor) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) bool) {
	m.now = now
	m.sleep = sleep
}

// Run polls until ctx is cancelled. Any failure inside a cycle, including a
// panic, is logged and followed by the error-recovery sleep; the loop never
// terminates on its own.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("monitor: starting, monitoring %d sensors", len(m.sensors))
	for {
		err := m.Cycle(ctx)

		interval := m.interval
		if err != nil {
			log.Printf("monitor: error in monitoring loop: %v", err)
			metrics.PollCyclesTotal.WithLabelValues("error").Inc()
			interval = m.errInterval
		} else {
			metrics.PollCyclesTotal.WithLabelValues("ok").Inc()
		}

		if !m.sleep(ctx, interval) {
			log.Print("monitor: shutting down")
			return
		}
	}
}

// Cycle runs one evaluation pass: fetch every sensor, build the offline
// report, and notify at most once if it is non-empty.
func (m *Monitor) Cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
	}()

	now := m.now().UTC()

	results := make([]liveness.Result, 0, len(m.sensors))
	for i, sensor := range m.sensors {
		if i > 0 {
			if !m.sleep(ctx, m.requestDelay) {
				return ctx.Err()
			}
		}

		current, _, ferr := m.fetcher.FetchCurrent(ctx, sensor)
		results = append(results, liveness.Result{Sensor: sensor, Current: current, Err: ferr})
	}

	offline := liveness.Evaluate(results, now, m.thresholdHours)
	metrics.OfflineSensors.Set(float64(len(offline)))

	if len(offline) > 0 {
		m.notifier.Notify(liveness.Subject, liveness.ReportBody(offline, m.thresholdHours))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
