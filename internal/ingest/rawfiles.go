package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/airshed/airshed/internal/models"
)

// RawDocument is one harvest cycle's raw API payloads, persisted verbatim
// before any normalization so a processing bug never loses source data.
type RawDocument struct {
	FetchedAt  time.Time           `json:"fetched_at"`
	Historical []HistoricalPayload `json:"historical,omitempty"`
	Current    []CurrentPayload    `json:"current,omitempty"`
	Group      *GroupPayload       `json:"group,omitempty"`
}

// Payloads returns every payload in the document in a stable order.
func (d *RawDocument) Payloads() []Payload {
	var out []Payload
	for _, p := range d.Historical {
		out = append(out, p)
	}
	for _, p := range d.Current {
		out = append(out, p)
	}
	if d.Group != nil {
		out = append(out, *d.Group)
	}
	return out
}

// Normalize runs every payload in the document through its normalizer and
// returns the concatenated accepted rows.
func (d *RawDocument) Normalize(now time.Time) []models.SensorReport {
	var rows []models.SensorReport
	for _, p := range d.Payloads() {
		rows = append(rows, p.Normalize(now)...)
	}
	return rows
}

const rawFilePrefix = "purpleair_raw_"

// WriteRawDocument writes one timestamped JSON document under dir. Existing
// files are never overwritten: a same-second collision gets a nanosecond
// suffix instead.
func WriteRawDocument(dir string, doc *RawDocument, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal raw document: %w", err)
	}

	name := fmt.Sprintf("%s%s.json", rawFilePrefix, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		name = fmt.Sprintf("%s%s_%09d.json", rawFilePrefix, now.Format("20060102_150405"), now.Nanosecond())
		path = filepath.Join(dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("create raw file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write raw file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close raw file: %w", err)
	}
	return path, nil
}

// ErrNoRawData is returned when the raw directory holds no harvested files.
var ErrNoRawData = errors.New("no raw data files found")

// LatestRawDocument loads the most-recently-modified raw file under dir.
func LatestRawDocument(dir string) (*RawDocument, string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, rawFilePrefix+"*.json"))
	if err != nil {
		return nil, "", fmt.Errorf("glob raw dir: %w", err)
	}
	if len(matches) == 0 {
		return nil, "", ErrNoRawData
	}

	latest := ""
	var latestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest = path
			latestMod = info.ModTime()
		}
	}
	if latest == "" {
		return nil, "", ErrNoRawData
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return nil, "", fmt.Errorf("read raw file: %w", err)
	}

	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("unmarshal %s: %w", filepath.Base(latest), err)
	}
	return &doc, latest, nil
}
