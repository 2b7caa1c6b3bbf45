package analytics

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"fault-telemetry-service/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSlidingWindow_Add(t *testing.T) {
	sw := NewSlidingWindow(5)

	for _, v := range []float64{10, 20, 30, 40, 50} {
		sw.Add(v)
	}

	if sw.Count() != 5 {
		t.Errorf("Expected count 5, got %d", sw.Count())
	}
	if math.Abs(sw.Mean()-30.0) > 0.001 {
		t.Errorf("Expected mean 30.00, got %.2f", sw.Mean())
	}
}

func TestSlidingWindow_RollingBehavior(t *testing.T) {
	sw := NewSlidingWindow(3)

	sw.Add(10)
	sw.Add(20)
	sw.Add(30)
	if math.Abs(sw.Mean()-20.0) > 0.001 {
		t.Errorf("Expected mean 20, got %.2f", sw.Mean())
	}

	// 10 вытесняется
	sw.Add(40)
	if math.Abs(sw.Mean()-30.0) > 0.001 {
		t.Errorf("Expected mean 30, got %.2f", sw.Mean())
	}
	if sw.Count() != 3 {
		t.Errorf("Expected count to stay at 3, got %d", sw.Count())
	}
}

func TestSlidingWindow_StdDev(t *testing.T) {
	sw := NewSlidingWindow(5)
	for i := 0; i < 5; i++ {
		sw.Add(50)
	}
	if sw.StdDev() != 0 {
		t.Errorf("Expected stddev 0 for identical values, got %.2f", sw.StdDev())
	}

	sw2 := NewSlidingWindow(5)
	for _, v := range []float64{2, 4, 4, 4, 5} {
		sw2.Add(v)
	}
	// выборочное отклонение [2,4,4,4,5] = sqrt(1.2)
	if math.Abs(sw2.StdDev()-math.Sqrt(1.2)) > 1e-9 {
		t.Errorf("Expected stddev %.4f, got %.4f", math.Sqrt(1.2), sw2.StdDev())
	}
}

func TestSlidingWindow_ZScore(t *testing.T) {
	flat := NewSlidingWindow(WindowSize)
	for i := 0; i < WindowSize; i++ {
		flat.Add(50.0)
	}
	if z := flat.ZScore(80.0); z != 0 {
		t.Errorf("Expected z-score 0 with zero stddev, got %.2f", z)
	}

	varied := NewSlidingWindow(WindowSize)
	for i := 0; i < WindowSize; i++ {
		varied.Add(float64(40 + i%20))
	}
	if z := varied.ZScore(100.0); z < ZScoreThreshold {
		t.Errorf("Expected outlier z-score above %.1f, got %.2f", ZScoreThreshold, z)
	}
}

func TestTracker_AnomalyDetection(t *testing.T) {
	tracker := NewTracker(WindowSize)

	for i := 0; i < WindowSize; i++ {
		stats := tracker.Observe(models.DeviceReading{
			DeviceID:    "device-001",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Temperature: 60 + float64(i%5-2),
			Vibration:   1.0 + float64(i%3-1)*0.1,
		})
		if i < minSamples && stats.AnomalyDetected {
			t.Fatalf("Anomaly reported during warmup at sample %d", i)
		}
	}

	normal := tracker.Observe(models.DeviceReading{DeviceID: "device-001", Temperature: 60, Vibration: 1.0})
	if normal.AnomalyDetected {
		t.Errorf("Nominal reading detected as anomaly: %+v", normal)
	}

	spike := tracker.Observe(models.DeviceReading{DeviceID: "device-001", Temperature: 95, Vibration: 1.0})
	if !spike.AnomalyDetected {
		t.Errorf("Expected temperature spike to be an anomaly: %+v", spike)
	}
	if spike.ZScoreTemperature <= ZScoreThreshold {
		t.Errorf("Expected temperature z-score above threshold, got %.2f", spike.ZScoreTemperature)
	}
}

func TestTracker_PerDeviceWindows(t *testing.T) {
	tracker := NewTracker(10)

	for i := 0; i < 10; i++ {
		tracker.Observe(models.DeviceReading{DeviceID: "device-001", Temperature: 60, Vibration: 1})
		tracker.Observe(models.DeviceReading{DeviceID: "device-002", Temperature: 90, Vibration: 3})
	}

	a, ok := tracker.Stats("device-001")
	if !ok {
		t.Fatal("Expected stats for device-001")
	}
	b, _ := tracker.Stats("device-002")
	if a.MeanTemperature != 60 || b.MeanTemperature != 90 {
		t.Errorf("Windows leaked between devices: %.2f / %.2f", a.MeanTemperature, b.MeanTemperature)
	}
	if a.Samples != 10 {
		t.Errorf("Expected 10 samples, got %d", a.Samples)
	}

	if _, ok := tracker.Stats("device-404"); ok {
		t.Error("Expected no stats for unseen device")
	}
}

func TestTracker_OnReadingConcurrent(t *testing.T) {
	tracker := NewTracker(WindowSize)
	ctx := context.Background()

	var wg sync.WaitGroup
	for d := 0; d < 4; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			id := []string{"device-001", "device-002", "device-003", "device-004"}[d]
			for j := 0; j < 100; j++ {
				if err := tracker.OnReading(ctx, models.DeviceReading{
					DeviceID:    id,
					Temperature: float64(55 + j%10),
					Vibration:   0.8 + float64(j%5)*0.1,
				}); err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
			}
		}(d)
	}
	wg.Wait()

	for _, id := range []string{"device-001", "device-004"} {
		stats, ok := tracker.Stats(id)
		if !ok || stats.Samples != WindowSize {
			t.Errorf("Expected full window for %s, got %+v", id, stats)
		}
	}
}

func BenchmarkTrackerObserve(b *testing.B) {
	tracker := NewTracker(WindowSize)
	r := models.DeviceReading{DeviceID: "device-001", Temperature: 61, Vibration: 1.1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tracker.Observe(r)
	}
}

func BenchmarkSlidingWindowAdd(b *testing.B) {
	sw := NewSlidingWindow(WindowSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sw.Add(float64(i % 100))
	}
}
