// Package simulator генерирует показания датчиков для парка устройств
// Один запуск создает по одному показанию на устройство и записывает его в хранилище.
package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/config"
	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/models"
	"fault-telemetry-service/internal/store"
)

// ExcursionKind вид выброса показаний за порог high_risk
type ExcursionKind string

const (
	ExcursionNone      ExcursionKind = ""
	ExcursionThermal   ExcursionKind = "thermal"
	ExcursionVibration ExcursionKind = "vibration"
	ExcursionCombined  ExcursionKind = "combined"
)

// ParseExcursion проверяет имя вида выброса
func ParseExcursion(s string) (ExcursionKind, bool) {
	switch k := ExcursionKind(s); k {
	case ExcursionThermal, ExcursionVibration, ExcursionCombined:
		return k, true
	}
	return ExcursionNone, false
}

var randomKinds = []ExcursionKind{ExcursionThermal, ExcursionVibration, ExcursionCombined}

// Config параметры симулятора
type Config struct {
	DeviceIDs []string

	// Номинальная рабочая точка и разброс (нормальное распределение, обрезанное на ±3σ)
	NominalTemperature float64
	TemperatureStdDev  float64
	NominalVibration   float64
	VibrationStdDev    float64

	ExcursionProbability float64
	RetryJitterMax       time.Duration
	TimestampResolution  time.Duration
	// Seed 0 означает случайное зерно
	Seed uint64
}

// DefaultConfig параметры по умолчанию: 60±4 °C, 1.0±0.2 mm/s
func DefaultConfig(deviceIDs []string) Config {
	return Config{
		DeviceIDs:            deviceIDs,
		NominalTemperature:   60,
		TemperatureStdDev:    4,
		NominalVibration:     1.0,
		VibrationStdDev:      0.2,
		ExcursionProbability: 0.05,
		RetryJitterMax:       500 * time.Millisecond,
		TimestampResolution:  time.Second,
	}
}

// ConfigFrom собирает Config из конфигурации сервиса
func ConfigFrom(cfg config.Config) Config {
	c := DefaultConfig(cfg.DeviceIDs)
	c.ExcursionProbability = cfg.ExcursionProbability
	c.RetryJitterMax = cfg.RetryJitterMax
	c.TimestampResolution = cfg.TimestampResolution
	c.Seed = cfg.SimulatorSeed
	return c
}

// Listener получает каждое успешно сохраненное показание
type Listener interface {
	OnReading(ctx context.Context, r models.DeviceReading) error
}

// ListenerFunc адаптер функции к Listener
type ListenerFunc func(ctx context.Context, r models.DeviceReading) error

// OnReading вызывает f(ctx, r)
func (f ListenerFunc) OnReading(ctx context.Context, r models.DeviceReading) error {
	return f(ctx, r)
}

// Report итог одного запуска
type Report = models.SimulateResponse

// Option настройка одного запуска
type Option func(*runOptions)

type runOptions struct {
	excursions map[string]ExcursionKind
}

// WithExcursion принудительно создает выброс для устройства в этом запуске
func WithExcursion(deviceID string, kind ExcursionKind) Option {
	return func(o *runOptions) {
		o.excursions[deviceID] = kind
	}
}

// lockedRand источник случайных чисел, безопасный для горутин устройств
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed uint64) *lockedRand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *lockedRand) NormFloat64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.NormFloat64()
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Int64N(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int64N(n)
}

// Simulator генератор показаний
type Simulator struct {
	cfg       Config
	store     store.Store
	cls       *classifier.Classifier
	listeners []Listener
	rng       *lockedRand
}

// New создает симулятор. cls должен быть тем же классификатором, что использует
// хранилище и сервис инференса.
func New(cfg Config, s store.Store, cls *classifier.Classifier, listeners ...Listener) *Simulator {
	if cfg.TimestampResolution <= 0 {
		cfg.TimestampResolution = time.Second
	}
	return &Simulator{
		cfg:       cfg,
		store:     s,
		cls:       cls,
		listeners: listeners,
		rng:       newLockedRand(cfg.Seed),
	}
}

// Devices возвращает парк устройств симулятора
func (s *Simulator) Devices() []string {
	return s.cfg.DeviceIDs
}

// Run создает и записывает по одному показанию на устройство. Ошибка одного
// устройства не прерывает остальные.
func (s *Simulator) Run(ctx context.Context, now time.Time, opts ...Option) Report {
	timer := prometheus.NewTimer(metrics.SimulatorRunDuration)
	defer timer.ObserveDuration()

	o := runOptions{excursions: make(map[string]ExcursionKind)}
	for _, opt := range opts {
		opt(&o)
	}

	ts := now.UTC().Truncate(s.cfg.TimestampResolution)
	outcomes := make([]models.DeviceOutcome, len(s.cfg.DeviceIDs))

	var wg sync.WaitGroup
	for i, id := range s.cfg.DeviceIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcomes[i] = s.runDevice(ctx, id, ts, o.excursions[id])
		}(i, id)
	}
	wg.Wait()

	report := Report{Timestamp: ts, Devices: outcomes}
	for _, out := range outcomes {
		if out.Error == "" {
			report.Persisted++
		} else {
			report.Failed++
		}
	}

	slog.InfoContext(ctx, "simulation run completed",
		"timestamp", ts,
		"persisted", report.Persisted,
		"failed", report.Failed,
	)
	return report
}

func (s *Simulator) runDevice(ctx context.Context, id string, ts time.Time, forced ExcursionKind) models.DeviceOutcome {
	out := models.DeviceOutcome{DeviceID: id}

	r, err := s.generate(id, ts, forced)
	if err != nil {
		return s.fail(ctx, out, err)
	}

	stored, err := s.store.Append(ctx, r)
	if errors.Is(err, store.ErrConflict) {
		metrics.WriteConflicts.Inc()
		metrics.WriteRetries.Inc()
		out.Retried = true

		r.Timestamp = r.Timestamp.Add(s.jitter())
		slog.DebugContext(ctx, "append conflict, retrying", "device_id", id, "timestamp", r.Timestamp, "error", err)

		stored, err = s.store.Append(ctx, r)
		if errors.Is(err, store.ErrConflict) {
			metrics.WriteConflicts.Inc()
		}
	}
	if err != nil {
		return s.fail(ctx, out, err)
	}

	metrics.ReadingsGenerated.WithLabelValues(string(stored.Status)).Inc()
	out.Reading = &stored

	for _, l := range s.listeners {
		if err := l.OnReading(ctx, stored); err != nil {
			slog.WarnContext(ctx, "listener failed", "device_id", id, "error", err)
		}
	}
	return out
}

func (s *Simulator) fail(ctx context.Context, out models.DeviceOutcome, err error) models.DeviceOutcome {
	metrics.WriteFailures.Inc()
	slog.WarnContext(ctx, "failed to persist reading", "device_id", out.DeviceID, "retried", out.Retried, "error", err)
	out.Error = err.Error()
	return out
}

// generate создает показание. Статус вычисляется тем же классификатором,
// который хранилище применяет при записи.
func (s *Simulator) generate(id string, ts time.Time, kind ExcursionKind) (models.DeviceReading, error) {
	if kind == ExcursionNone && s.rng.Float64() < s.cfg.ExcursionProbability {
		kind = randomKinds[s.rng.Int64N(int64(len(randomKinds)))]
	}

	r := models.DeviceReading{
		DeviceID:    id,
		Timestamp:   ts,
		Temperature: s.truncatedNormal(s.cfg.NominalTemperature, s.cfg.TemperatureStdDev),
		Vibration:   s.truncatedNormal(s.cfg.NominalVibration, s.cfg.VibrationStdDev),
	}

	if kind != ExcursionNone {
		high := s.cls.Rules().Bands[0]
		if kind == ExcursionThermal || kind == ExcursionCombined {
			r.Temperature = round(high.Temperature+2+s.rng.Float64()*18, 2)
		}
		if kind == ExcursionVibration || kind == ExcursionCombined {
			r.Vibration = round(high.Vibration+0.3+s.rng.Float64()*1.7, 3)
		}
		metrics.Excursions.WithLabelValues(string(kind)).Inc()
	}

	status, err := s.cls.Status(r.Temperature, r.Vibration)
	if err != nil {
		return r, err
	}
	r.Status = status
	return r, nil
}

// truncatedNormal нормальное распределение, обрезанное на ±3σ и неотрицательное
func (s *Simulator) truncatedNormal(mean, stdDev float64) float64 {
	z := s.rng.NormFloat64()
	for math.Abs(z) > 3 {
		z = s.rng.NormFloat64()
	}
	return round(math.Max(0, mean+z*stdDev), 3)
}

// jitter случайный сдвиг в [1ms, RetryJitterMax]
func (s *Simulator) jitter() time.Duration {
	lo := time.Millisecond
	hi := s.cfg.RetryJitterMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

// DefaultInterval период запуска по умолчанию
const DefaultInterval = time.Minute

// Loop запускает симулятор по таймеру до отмены контекста.
// Неположительный interval заменяется DefaultInterval.
func (s *Simulator) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		slog.Warn("invalid simulator interval, using default", "interval", interval, "default", DefaultInterval)
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("simulator loop started", "interval", interval, "devices", len(s.cfg.DeviceIDs))
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulator loop stopped")
			return
		case now := <-ticker.C:
			s.Run(ctx, now)
		}
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
