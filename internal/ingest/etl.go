package ingest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/airshed/airshed/internal/store"
)

// ProcessLatest loads the most-recently-modified raw document, normalizes
// every payload in it, and stores the accepted rows through the backend
// chain.
//
// A document that normalizes to zero accepted rows is a no-op, not an
// error. A chain with no configured backend is a hard failure for the run.
func ProcessLatest(ctx context.Context, rawDir string, chain *store.Chain) (store.Outcome, error) {
	doc, path, err := LatestRawDocument(rawDir)
	if err != nil {
		return store.Outcome{}, err
	}
	log.Printf("etl: processing %s", filepath.Base(path))

	reports := doc.Normalize(time.Now().UTC())
	if len(reports) == 0 {
		log.Print("etl: no valid rows produced, nothing to store")
		return store.Outcome{}, nil
	}

	outcome := chain.Store(ctx, reports)
	if outcome.Backend == "" {
		return outcome, fmt.Errorf("no storage backend available")
	}
	if outcome.Err != nil {
		return outcome, fmt.Errorf("store via %s: %w", outcome.Backend, outcome.Err)
	}

	log.Printf("etl: stored %d rows via %s", outcome.RowsStored, outcome.Backend)
	return outcome, nil
}
