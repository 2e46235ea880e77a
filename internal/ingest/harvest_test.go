package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/purpleair"
)

func newTestHarvester(t *testing.T, handler http.Handler, sensors []models.Sensor) (*Harvester, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	rawDir := t.TempDir()
	h := NewHarvester(purpleair.NewWithBaseURL("test-key", server.URL), sensors, rawDir)
	h.sleep = func(time.Duration) {}
	h.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return h, rawDir
}

func TestPullHistorySkipsFailedSensor(t *testing.T) {
	sensors := []models.Sensor{{SensorID: "100"}, {SensorID: "200"}}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/sensors/100"):
			http.Error(w, `{"error":"NotFound"}`, http.StatusNotFound)
		case r.URL.Path == "/sensors/200/history":
			w.Write([]byte(`{"time_stamps": [1748775600], "data": [[12.5, 68, 40, 1013.2]]}`))
		case r.URL.Path == "/sensors/200":
			w.Write([]byte(`{"sensor": {"name": "Still Up", "latitude": -36.79, "longitude": 146.97}}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	h, rawDir := newTestHarvester(t, handler, sensors)
	path, err := h.PullHistory(context.Background())
	if err != nil {
		t.Fatalf("PullHistory: %v", err)
	}
	if path == "" {
		t.Fatal("expected a raw file to be written")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal raw file: %v", err)
	}
	if len(doc.Historical) != 1 {
		t.Fatalf("len(Historical) = %d, want 1", len(doc.Historical))
	}
	if doc.Historical[0].SensorID != "200" {
		t.Errorf("SensorID = %q, want 200", doc.Historical[0].SensorID)
	}
	if doc.Historical[0].Metadata.Name != "Still Up" {
		t.Errorf("Metadata.Name = %q, want Still Up", doc.Historical[0].Metadata.Name)
	}

	entries, err := os.ReadDir(rawDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("raw files written = %d, want 1", len(entries))
	}
}

func TestPullHistoryNoData(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"NotFound"}`, http.StatusNotFound)
	})

	h, rawDir := newTestHarvester(t, handler, []models.Sensor{{SensorID: "100"}})
	path, err := h.PullHistory(context.Background())
	if err != nil {
		t.Fatalf("PullHistory: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty when nothing was fetched", path)
	}

	entries, err := os.ReadDir(rawDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("raw files written = %d, want 0", len(entries))
	}
}

func TestPullHistoryRetriesRateLimit(t *testing.T) {
	attempts := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sensors/100/history":
			attempts++
			if attempts == 1 {
				http.Error(w, `{"error":"RateLimit"}`, http.StatusTooManyRequests)
				return
			}
			w.Write([]byte(`{"time_stamps": [1748775600], "data": [[12.5, 68, 40, 1013.2]]}`))
		case "/sensors/100":
			w.Write([]byte(`{"sensor": {"name": "Rate Limited", "latitude": -36.79, "longitude": 146.97}}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	})

	h, _ := newTestHarvester(t, handler, []models.Sensor{{SensorID: "100"}})
	path, err := h.PullHistory(context.Background())
	if err != nil {
		t.Fatalf("PullHistory: %v", err)
	}
	if path == "" {
		t.Fatal("expected a raw file after retry succeeded")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPullGroup(t *testing.T) {
	sensors := []models.Sensor{{SensorID: "100", ReadKey: "K1"}, {SensorID: "200"}}
	var deleted bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/groups":
			w.Write([]byte(`{"group_id": 77}`))
		case r.Method == http.MethodPost && r.URL.Path == "/groups/77/members":
			w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/groups/77/members":
			w.Write([]byte(`{
				"fields": ["sensor_index", "name", "latitude", "longitude", "last_seen", "pm2.5"],
				"data": [[100, "One", -36.79, 146.97, 1748779200, 12.5], [200, "Two", -36.80, 146.98, 1748779210, 9.1]]
			}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/groups/77":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	h, _ := newTestHarvester(t, handler, sensors)
	path, err := h.PullGroup(context.Background(), "airshed-test")
	if err != nil {
		t.Fatalf("PullGroup: %v", err)
	}
	if !deleted {
		t.Error("group was not deleted after the pull")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	var doc RawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal raw file: %v", err)
	}
	if doc.Group == nil {
		t.Fatal("doc.Group is nil")
	}
	if len(doc.Group.Rows) != 2 {
		t.Errorf("len(Rows) = %d, want 2", len(doc.Group.Rows))
	}
}

func TestPullGroupDeletesGroupOnFailedSnapshot(t *testing.T) {
	var deleted bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/groups":
			w.Write([]byte(`{"group_id": 77}`))
		case r.Method == http.MethodPost && r.URL.Path == "/groups/77/members":
			w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/groups/77/members":
			http.Error(w, `{"error":"Internal"}`, http.StatusInternalServerError)
		case r.Method == http.MethodDelete && r.URL.Path == "/groups/77":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	h, rawDir := newTestHarvester(t, handler, []models.Sensor{{SensorID: "100"}})
	_, err := h.PullGroup(context.Background(), "airshed-test")
	if err == nil {
		t.Fatal("expected error from failed snapshot")
	}
	if !deleted {
		t.Error("group must be deleted even when the snapshot read fails")
	}

	entries, readErr := os.ReadDir(rawDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("raw files written = %d, want 0", len(entries))
	}
}

func TestPullGroupNoMembersAdded(t *testing.T) {
	var deleted bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/groups":
			w.Write([]byte(`{"group_id": 77}`))
		case r.Method == http.MethodPost && r.URL.Path == "/groups/77/members":
			http.Error(w, `{"error":"InvalidSensor"}`, http.StatusBadRequest)
		case r.Method == http.MethodDelete && r.URL.Path == "/groups/77":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	h, _ := newTestHarvester(t, handler, []models.Sensor{{SensorID: "100"}})
	_, err := h.PullGroup(context.Background(), "airshed-test")
	if err == nil || !strings.Contains(err.Error(), "no members added") {
		t.Fatalf("err = %v, want no members added", err)
	}
	if !deleted {
		t.Error("group must be deleted even when no members could be added")
	}
}
