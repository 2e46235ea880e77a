package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airshed/airshed/internal/models"
	"github.com/airshed/airshed/internal/purpleair"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu       sync.Mutex
	lastSeen map[string]int64 // sensor id -> epoch; missing id = transport failure
	panics   int              // number of calls that panic before behaving
	calls    int
}

func (f *fakeFetcher) FetchCurrent(ctx context.Context, sensor models.Sensor) (*purpleair.CurrentResponse, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panics > 0 {
		f.panics--
		panic("fetcher blew up")
	}
	epoch, ok := f.lastSeen[sensor.SensorID]
	if !ok {
		return nil, nil, &purpleair.FetchError{SensorID: sensor.SensorID, Err: context.DeadlineExceeded}
	}
	return &purpleair.CurrentResponse{
		Sensor: purpleair.SensorInfo{Name: "Sensor " + sensor.SensorID, LastSeen: &epoch},
	}, nil, nil
}

type fakeNotifier struct {
	subjects []string
	bodies   []string
}

func (n *fakeNotifier) Notify(subject, body string) {
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
}

func noSleep(ctx context.Context, d time.Duration) bool { return true }

func TestCycleEndToEnd(t *testing.T) {
	// Sensor A is fresh, B is 4 hours stale, C fails at transport level.
	fetcher := &fakeFetcher{lastSeen: map[string]int64{
		"A": testNow.Add(-2 * time.Hour).Unix(),
		"B": testNow.Add(-4 * time.Hour).Unix(),
	}}
	notifier := &fakeNotifier{}

	sensors := []models.Sensor{{SensorID: "A"}, {SensorID: "B"}, {SensorID: "C"}}
	m := New(fetcher, sensors, notifier)
	m.SetClock(func() time.Time { return testNow }, noSleep)

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	if len(notifier.subjects) != 1 {
		t.Fatalf("notify called %d times, want exactly 1", len(notifier.subjects))
	}
	body := notifier.bodies[0]
	if want := "- Sensor B (ID: B)"; !strings.Contains(body, want) {
		t.Errorf("body missing %q:\n%s", want, body)
	}
	if want := "Hours offline: 4.0"; !strings.Contains(body, want) {
		t.Errorf("body missing %q:\n%s", want, body)
	}
	if strings.Contains(body, "(ID: A)") || strings.Contains(body, "(ID: C)") {
		t.Errorf("body mentions online or failed sensors:\n%s", body)
	}
}

func TestCycleNoOfflineSensorsNoNotify(t *testing.T) {
	fetcher := &fakeFetcher{lastSeen: map[string]int64{"A": testNow.Add(-time.Hour).Unix()}}
	notifier := &fakeNotifier{}

	m := New(fetcher, []models.Sensor{{SensorID: "A"}}, notifier)
	m.SetClock(func() time.Time { return testNow }, noSleep)

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if len(notifier.subjects) != 0 {
		t.Fatalf("notify called %d times, want 0", len(notifier.subjects))
	}
}

func TestCycleRecoversPanic(t *testing.T) {
	fetcher := &fakeFetcher{panics: 1, lastSeen: map[string]int64{}}
	m := New(fetcher, []models.Sensor{{SensorID: "A"}}, &fakeNotifier{})
	m.SetClock(func() time.Time { return testNow }, noSleep)

	if err := m.Cycle(context.Background()); err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRunSleepsByOutcome(t *testing.T) {
	// First cycle panics, second succeeds; the loop must use the error
	// interval after the failure and the normal interval after success.
	fetcher := &fakeFetcher{panics: 1, lastSeen: map[string]int64{"A": testNow.Add(-time.Hour).Unix()}}
	m := New(fetcher, []models.Sensor{{SensorID: "A"}}, &fakeNotifier{})
	m.SetIntervals(300*time.Second, 60*time.Second)

	var cycleSleeps []time.Duration
	sleeps := 0
	m.SetClock(func() time.Time { return testNow }, func(ctx context.Context, d time.Duration) bool {
		cycleSleeps = append(cycleSleeps, d)
		sleeps++
		return sleeps < 2 // stop the loop after the second inter-cycle sleep
	})

	m.Run(context.Background())

	if len(cycleSleeps) != 2 {
		t.Fatalf("len(sleeps) = %d, want 2", len(cycleSleeps))
	}
	if cycleSleeps[0] != 60*time.Second {
		t.Errorf("sleep after failed cycle = %v, want 60s", cycleSleeps[0])
	}
	if cycleSleeps[1] != 300*time.Second {
		t.Errorf("sleep after good cycle = %v, want 300s", cycleSleeps[1])
	}
}

func TestCycleSequentialWithRequestDelay(t *testing.T) {
	fetcher := &fakeFetcher{lastSeen: map[string]int64{
		"A": testNow.Add(-time.Hour).Unix(),
		"B": testNow.Add(-time.Hour).Unix(),
		"C": testNow.Add(-time.Hour).Unix(),
	}}
	m := New(fetcher, []models.Sensor{{SensorID: "A"}, {SensorID: "B"}, {SensorID: "C"}}, &fakeNotifier{})
	m.SetRequestDelay(250 * time.Millisecond)

	var delays []time.Duration
	m.SetClock(func() time.Time { return testNow }, func(ctx context.Context, d time.Duration) bool {
		delays = append(delays, d)
		return true
	})

	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	// N sensors produce N-1 inter-request delays.
	if len(delays) != 2 {
		t.Fatalf("len(delays) = %d, want 2", len(delays))
	}
	for i, d := range delays {
		if d != 250*time.Millisecond {
			t.Errorf("delays[%d] = %v, want 250ms", i, d)
		}
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.calls)
	}
}
