package simulator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
	"fault-telemetry-service/internal/store"
)

var (
	fleet = []string{"device-001", "device-002", "device-003"}
	now   = time.Date(2024, 5, 1, 12, 0, 0, 400_000_000, time.UTC)
)

func testConfig() Config {
	cfg := DefaultConfig(fleet)
	cfg.Seed = 42
	cfg.ExcursionProbability = 0
	return cfg
}

// failingStore отклоняет запись выбранного устройства
type failingStore struct {
	store.Store
	deviceID string
	err      error
	calls    atomic.Int32
}

func (f *failingStore) Append(ctx context.Context, r models.DeviceReading) (models.DeviceReading, error) {
	if r.DeviceID == f.deviceID {
		f.calls.Add(1)
		return r, f.err
	}
	return f.Store.Append(ctx, r)
}

func TestRun_OneReadingPerDevice(t *testing.T) {
	cls := classifier.Default()
	s := store.NewMemoryStore(cls, store.NewFleet(fleet))
	sim := New(testConfig(), s, cls)

	report := sim.Run(context.Background(), now)

	if report.Persisted != 3 || report.Failed != 0 {
		t.Fatalf("Expected 3 persisted and 0 failed, got %d/%d", report.Persisted, report.Failed)
	}
	if !report.Timestamp.Equal(now.Truncate(time.Second)) {
		t.Errorf("Expected timestamp truncated to seconds, got %s", report.Timestamp)
	}

	for i, out := range report.Devices {
		if out.DeviceID != fleet[i] {
			t.Errorf("Outcome %d: expected %s, got %s", i, fleet[i], out.DeviceID)
		}
		latest, err := s.Latest(context.Background(), out.DeviceID)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		want, _ := cls.Classify(latest.Temperature, latest.Vibration)
		if latest.Status != want.Prediction {
			t.Errorf("Stored status %s disagrees with classifier %s", latest.Status, want.Prediction)
		}
	}
}

func TestRun_ForcedExcursion(t *testing.T) {
	tests := []struct {
		kind ExcursionKind
		mode models.FailureMode
	}{
		{ExcursionThermal, models.ModeThermalStress},
		{ExcursionVibration, models.ModeBearingFailure},
		{ExcursionCombined, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cls := classifier.Default()
			s := store.NewMemoryStore(cls, store.NewFleet(fleet))
			sim := New(testConfig(), s, cls)

			sim.Run(context.Background(), now, WithExcursion("device-002", tt.kind))

			latest, err := s.Latest(context.Background(), "device-002")
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			result, err := classifier.Classify(latest.Temperature, latest.Vibration)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if latest.Status != models.TierHigh || result.Prediction != models.TierHigh {
				t.Errorf("Expected high_risk, got status %s prediction %s", latest.Status, result.Prediction)
			}
			if tt.mode != "" && result.FailureMode != tt.mode {
				t.Errorf("Expected failure mode %s, got %s", tt.mode, result.FailureMode)
			}

			other, _ := s.Latest(context.Background(), "device-001")
			if other.Temperature >= 80 || other.Vibration >= 2.5 {
				t.Errorf("Excursion leaked to another device: %+v", other)
			}
		})
	}
}

func TestRun_TwoTierExcursionStillHigh(t *testing.T) {
	cls, err := classifier.New(classifier.TwoTierRules())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s := store.NewMemoryStore(cls, nil)
	sim := New(testConfig(), s, cls)

	report := sim.Run(context.Background(), now, WithExcursion("device-003", ExcursionThermal))
	if got := report.Devices[2].Reading.Status; got != models.TierHigh {
		t.Errorf("Expected high_risk, got %s", got)
	}
}

func TestRun_DeviceFailureDoesNotAbortOthers(t *testing.T) {
	cls := classifier.Default()
	s := &failingStore{
		Store:    store.NewMemoryStore(cls, store.NewFleet(fleet)),
		deviceID: "device-002",
		err:      errors.New("connection reset"),
	}
	sim := New(testConfig(), s, cls)

	report := sim.Run(context.Background(), now)

	if report.Persisted != 2 || report.Failed != 1 {
		t.Fatalf("Expected 2 persisted and 1 failed, got %d/%d", report.Persisted, report.Failed)
	}
	failed := report.Devices[1]
	if failed.Error == "" || failed.Reading != nil {
		t.Errorf("Expected failure outcome for device-002, got %+v", failed)
	}
	if failed.Retried || s.calls.Load() != 1 {
		t.Errorf("Non-conflict errors must not be retried (calls=%d)", s.calls.Load())
	}
	for _, id := range []string{"device-001", "device-003"} {
		if _, err := s.Latest(context.Background(), id); err != nil {
			t.Errorf("Expected reading for %s: %v", id, err)
		}
	}
}

func TestRun_ConflictRetriedWithJitter(t *testing.T) {
	cls := classifier.Default()
	s := store.NewMemoryStore(cls, store.NewFleet(fleet))
	ctx := context.Background()

	ts := now.Truncate(time.Second)
	if _, err := s.Append(ctx, models.DeviceReading{DeviceID: "device-001", Timestamp: ts, Temperature: 60, Vibration: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	sim := New(testConfig(), s, cls)
	report := sim.Run(ctx, now)

	out := report.Devices[0]
	if !out.Retried || out.Error != "" {
		t.Fatalf("Expected successful retry, got %+v", out)
	}
	delta := out.Reading.Timestamp.Sub(ts)
	if delta < time.Millisecond || delta > 500*time.Millisecond {
		t.Errorf("Expected jitter in [1ms, 500ms], got %s", delta)
	}

	readings, _ := s.Query(ctx, "device-001", ts, ts.Add(time.Second))
	if len(readings) != 2 {
		t.Errorf("Expected original and retried reading, got %d", len(readings))
	}
	if report.Devices[1].Retried {
		t.Errorf("Unexpected retry for device-002")
	}
}

func TestRun_SecondConflictIsSoftFailure(t *testing.T) {
	cls := classifier.Default()
	s := &failingStore{
		Store:    store.NewMemoryStore(cls, store.NewFleet(fleet)),
		deviceID: "device-003",
		err:      store.ErrConflict,
	}
	sim := New(testConfig(), s, cls)

	report := sim.Run(context.Background(), now)

	out := report.Devices[2]
	if !out.Retried || out.Error == "" {
		t.Errorf("Expected retried soft failure, got %+v", out)
	}
	if s.calls.Load() != 2 {
		t.Errorf("Expected exactly one retry, got %d calls", s.calls.Load())
	}
	if report.Persisted != 2 {
		t.Errorf("Expected other devices to persist, got %d", report.Persisted)
	}
}

func TestRun_OverlappingInvocations(t *testing.T) {
	cls := classifier.Default()
	s := store.NewMemoryStore(cls, store.NewFleet(fleet))
	sim := New(testConfig(), s, cls)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		reports [2]Report
	)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = sim.Run(ctx, now)
		}(i)
	}
	wg.Wait()

	persisted := reports[0].Persisted + reports[1].Persisted
	failed := reports[0].Failed + reports[1].Failed
	if persisted+failed != 6 {
		t.Fatalf("Expected 6 outcomes, got %d", persisted+failed)
	}

	stored := 0
	for _, id := range fleet {
		readings, _ := s.Query(ctx, id, now.Add(-time.Minute), now.Add(time.Minute))
		stored += len(readings)
		for i := 1; i < len(readings); i++ {
			if !readings[i].Timestamp.After(readings[i-1].Timestamp) {
				t.Errorf("Duplicate or unordered timestamps for %s", id)
			}
		}
	}
	if stored != persisted {
		t.Errorf("Expected %d stored readings, got %d", persisted, stored)
	}
}

func TestRun_NotifiesListeners(t *testing.T) {
	cls := classifier.Default()
	s := &failingStore{
		Store:    store.NewMemoryStore(cls, store.NewFleet(fleet)),
		deviceID: "device-001",
		err:      errors.New("disk full"),
	}

	var mu sync.Mutex
	seen := make(map[string]models.RiskTier)
	recorder := ListenerFunc(func(ctx context.Context, r models.DeviceReading) error {
		mu.Lock()
		defer mu.Unlock()
		seen[r.DeviceID] = r.Status
		return nil
	})
	broken := ListenerFunc(func(ctx context.Context, r models.DeviceReading) error {
		return errors.New("broker unavailable")
	})

	sim := New(testConfig(), s, cls, broken, recorder)
	report := sim.Run(context.Background(), now)

	if report.Persisted != 2 {
		t.Errorf("Listener errors must not fail devices, got %d persisted", report.Persisted)
	}
	if len(seen) != 2 {
		t.Errorf("Expected listener to see 2 readings, got %v", seen)
	}
	if _, ok := seen["device-001"]; ok {
		t.Error("Listener notified for a reading that was not persisted")
	}
}

func TestGenerate_Distribution(t *testing.T) {
	cls := classifier.Default()
	sim := New(testConfig(), store.NewMemoryStore(cls, nil), cls)
	cfg := testConfig()

	for i := 0; i < 5000; i++ {
		r, err := sim.generate("device-001", now, ExcursionNone)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r.Temperature < 0 || r.Vibration < 0 {
			t.Fatalf("Negative reading %+v", r)
		}
		if r.Temperature > cfg.NominalTemperature+3*cfg.TemperatureStdDev+0.001 ||
			r.Temperature < cfg.NominalTemperature-3*cfg.TemperatureStdDev-0.001 {
			t.Fatalf("Temperature outside ±3σ: %v", r.Temperature)
		}
		if r.Vibration > cfg.NominalVibration+3*cfg.VibrationStdDev+0.001 {
			t.Fatalf("Vibration outside +3σ: %v", r.Vibration)
		}
	}
}

func TestGenerate_RandomExcursions(t *testing.T) {
	cls := classifier.Default()
	cfg := testConfig()
	cfg.ExcursionProbability = 1
	sim := New(cfg, store.NewMemoryStore(cls, nil), cls)

	for i := 0; i < 100; i++ {
		r, _ := sim.generate("device-001", now, ExcursionNone)
		if r.Status != models.TierHigh {
			t.Fatalf("Expected every reading to be an excursion, got %+v", r)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	cls := classifier.Default()
	cfg := testConfig()
	cfg.RetryJitterMax = 20 * time.Millisecond
	sim := New(cfg, store.NewMemoryStore(cls, nil), cls)

	for i := 0; i < 1000; i++ {
		if j := sim.jitter(); j < time.Millisecond || j > 20*time.Millisecond {
			t.Fatalf("Jitter out of bounds: %s", j)
		}
	}

	cfg.RetryJitterMax = 0
	if j := New(cfg, nil, cls).jitter(); j != time.Millisecond {
		t.Errorf("Expected minimum jitter 1ms, got %s", j)
	}
}

func TestParseExcursion(t *testing.T) {
	if k, ok := ParseExcursion("thermal"); !ok || k != ExcursionThermal {
		t.Errorf("Expected thermal, got %q %v", k, ok)
	}
	if _, ok := ParseExcursion("seismic"); ok {
		t.Error("Expected unknown kind to be rejected")
	}
}

func TestLoop_StopsOnCancel(t *testing.T) {
	cls := classifier.Default()
	s := store.NewMemoryStore(cls, store.NewFleet(fleet))
	cfg := testConfig()
	cfg.TimestampResolution = time.Millisecond
	sim := New(cfg, s, cls)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sim.Loop(ctx, 10*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not stop after context cancellation")
	}

	devices, _ := s.Devices(context.Background())
	if len(devices) == 0 {
		t.Error("Expected loop to persist readings")
	}
}

func TestLoop_NonPositiveInterval(t *testing.T) {
	cls := classifier.Default()
	sim := New(testConfig(), store.NewMemoryStore(cls, nil), cls)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Loop(ctx, 0)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Loop did not stop after context cancellation")
	}
}

func BenchmarkRun(b *testing.B) {
	cls := classifier.Default()
	cfg := testConfig()
	cfg.TimestampResolution = time.Nanosecond
	sim := New(cfg, store.NewMemoryStore(cls, nil), cls)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sim.Run(ctx, now.Add(time.Duration(i)*time.Millisecond))
	}
}
