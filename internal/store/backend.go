// Package store persists canonical sensor report rows through an ordered
// chain of interchangeable backends.
package store

import (
	"context"
	"fmt"
	"log"

	"github.com/airshed/airshed/internal/metrics"
	"github.com/airshed/airshed/internal/models"
)

// BatchSize is the maximum rows submitted to a backend in one call,
// keeping individual submissions under payload-size limits.
const BatchSize = 1000

// Backend is one persistence sink. Upsert must treat (sensor_id, last_seen)
// as a uniqueness constraint: resubmitting a stored row overwrites it.
type Backend interface {
	Name() string
	Configured() bool
	Upsert(ctx context.Context, rows []models.SensorReport) error
}

// Outcome reports where rows went. Backend is empty when no backend in the
// chain was configured; callers treat that as a hard failure for the run.
type Outcome struct {
	Backend    string
	RowsStored int
	Err        error
}

// Chain tries backends strictly in priority order. The first backend whose
// configuration precondition holds is used exclusively for the whole call;
// there is no fan-out or merge across backends.
type Chain struct {
	backends []Backend
}

func NewChain(backends ...Backend) *Chain {
	return &Chain{backends: backends}
}

// Store submits rows to the first configured backend in batches. Batches go
// out sequentially; a mid-run batch failure aborts the remaining batches
// and reports partial success. Rows committed by earlier batches stay
// committed.
func (c *Chain) Store(ctx context.Context, rows []models.SensorReport) Outcome {
	var backend Backend
	for _, b := range c.backends {
		if b.Configured() {
			backend = b
			break
		}
		log.Printf("store: backend %s not configured, trying next", b.Name())
	}
	if backend == nil {
		return Outcome{}
	}

	outcome := Outcome{Backend: backend.Name()}
	for start := 0; start < len(rows); start += BatchSize {
		end := start + BatchSize
		if end > len(rows) {
			end = len(rows)
		}

		if err := backend.Upsert(ctx, rows[start:end]); err != nil {
			outcome.Err = fmt.Errorf("batch %d-%d: %w", start, end, err)
			return outcome
		}
		outcome.RowsStored += end - start
		metrics.ReportsStored.WithLabelValues(backend.Name()).Add(float64(end - start))
	}
	return outcome
}
