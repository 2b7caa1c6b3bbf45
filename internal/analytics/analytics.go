// Package analytics реализует скользящую статистику показаний устройств
// Включает rolling average и z-score для детекции аномалий по каждому устройству,
// сводку статусов и тренд отказов за окно времени
package analytics

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/models"
)

const (
	// WindowSize размер окна по умолчанию (50 показаний)
	WindowSize = 50
	// ZScoreThreshold порог для детекции аномалий (> 2σ)
	ZScoreThreshold = 2.0
	// minSamples минимум показаний в окне, после которого z-score учитывается
	minSamples = 10
)

// SlidingWindow кольцевой буфер с накопленными суммами для O(1) статистики
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
	sum    float64
	sumSq  float64
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	if size <= 0 {
		size = WindowSize
	}
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет значение, вытесняя самое старое при заполненном окне
func (sw *SlidingWindow) Add(value float64) {
	if sw.count >= sw.size {
		old := sw.values[sw.index]
		sw.sum -= old
		sw.sumSq -= old * old
	} else {
		sw.count++
	}

	sw.values[sw.index] = value
	sw.sum += value
	sw.sumSq += value * value

	sw.index = (sw.index + 1) % sw.size
}

// Mean возвращает среднее значение (rolling average)
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	return sw.sum / float64(sw.count)
}

// StdDev возвращает выборочное стандартное отклонение
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	n := float64(sw.count)
	variance := (sw.sumSq - (sw.sum*sw.sum)/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// ZScore вычисляет z-score значения относительно окна
func (sw *SlidingWindow) ZScore(value float64) float64 {
	stdDev := sw.StdDev()
	if stdDev == 0 {
		return 0
	}
	return (value - sw.Mean()) / stdDev
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

type deviceWindows struct {
	temperature *SlidingWindow
	vibration   *SlidingWindow
	last        models.DeviceStats
}

// Tracker ведет скользящие окна по каждому устройству.
// Реализует simulator.Listener.
type Tracker struct {
	mu      sync.RWMutex
	size    int
	devices map[string]*deviceWindows
}

// NewTracker создает трекер с окном windowSize показаний
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 1 {
		windowSize = WindowSize
	}
	return &Tracker{
		size:    windowSize,
		devices: make(map[string]*deviceWindows),
	}
}

// Observe учитывает показание и возвращает статистику устройства
func (t *Tracker) Observe(r models.DeviceReading) models.DeviceStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.devices[r.DeviceID]
	if !ok {
		w = &deviceWindows{
			temperature: NewSlidingWindow(t.size),
			vibration:   NewSlidingWindow(t.size),
		}
		t.devices[r.DeviceID] = w
	}

	// z-score вычисляется до добавления в окно
	zTemperature := w.temperature.ZScore(r.Temperature)
	zVibration := w.vibration.ZScore(r.Vibration)
	warmedUp := w.temperature.Count() >= minSamples

	w.temperature.Add(r.Temperature)
	w.vibration.Add(r.Vibration)

	w.last = models.DeviceStats{
		DeviceID:          r.DeviceID,
		Samples:           w.temperature.Count(),
		MeanTemperature:   w.temperature.Mean(),
		StdDevTemperature: w.temperature.StdDev(),
		MeanVibration:     w.vibration.Mean(),
		StdDevVibration:   w.vibration.StdDev(),
		ZScoreTemperature: zTemperature,
		ZScoreVibration:   zVibration,
		AnomalyDetected: warmedUp &&
			(math.Abs(zTemperature) > ZScoreThreshold || math.Abs(zVibration) > ZScoreThreshold),
	}
	return w.last
}

// OnReading учитывает сохраненное показание и обновляет метрики
func (t *Tracker) OnReading(ctx context.Context, r models.DeviceReading) error {
	stats := t.Observe(r)

	metrics.UpdateAnalysisMetrics(
		r.DeviceID,
		stats.MeanTemperature,
		stats.MeanVibration,
		stats.ZScoreTemperature,
		stats.ZScoreVibration,
		stats.AnomalyDetected,
	)

	if stats.AnomalyDetected {
		slog.WarnContext(ctx, "anomaly detected",
			"device_id", r.DeviceID,
			"z_temperature", stats.ZScoreTemperature,
			"z_vibration", stats.ZScoreVibration,
			"status", r.Status,
		)
	}
	return nil
}

// Stats возвращает последнюю статистику устройства
func (t *Tracker) Stats(deviceID string) (models.DeviceStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.devices[deviceID]
	if !ok {
		return models.DeviceStats{DeviceID: deviceID}, false
	}
	return w.last, true
}

// Prime заполняет окна историческими показаниями (например, после рестарта)
func (t *Tracker) Prime(readings []models.DeviceReading) {
	for _, r := range readings {
		t.Observe(r)
	}
}
