// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// InFlightRequests запросы в обработке
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_in_flight_requests",
			Help: "Number of requests currently being served",
		},
	)

	// Classifications результаты инференса по уровням риска
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_classifications_total",
			Help: "Total number of inference results by prediction",
		},
		[]string{"prediction"},
	)

	// ClassificationLatency время выполнения классификации
	ClassificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_classification_latency_seconds",
			Help:    "Classifier computation latency in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005},
		},
	)

	// ReadingsGenerated показания, созданные симулятором, по статусу
	ReadingsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_readings_generated_total",
			Help: "Total number of readings persisted by the simulator",
		},
		[]string{"status"},
	)

	// Excursions принудительные и случайные выбросы симулятора
	Excursions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_excursions_total",
			Help: "Total number of simulated excursions",
		},
		[]string{"kind"},
	)

	// WriteConflicts конфликты записи (ключ или порядок)
	WriteConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_write_conflicts_total",
			Help: "Total number of append conflicts",
		},
	)

	// WriteRetries повторы записи после конфликта
	WriteRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_write_retries_total",
			Help: "Total number of append retries after a conflict",
		},
	)

	// WriteFailures устройства, чья запись не удалась в запуске
	WriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_write_failures_total",
			Help: "Total number of per-device write failures",
		},
	)

	// SimulatorRunDuration длительность одного запуска симулятора
	SimulatorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_simulator_run_seconds",
			Help:    "Simulator invocation duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	// Published показания, отправленные в MQTT
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_published_total",
			Help: "Total number of readings published to MQTT",
		},
		[]string{"result"},
	)

	// AnomaliesDetected количество обнаруженных аномалий
	AnomaliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_anomalies_detected_total",
			Help: "Total number of z-score anomalies detected",
		},
	)

	// RollingAvgTemperature скользящее среднее температуры по устройству
	RollingAvgTemperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_rolling_avg_temperature",
			Help: "Rolling average of temperature",
		},
		[]string{"device_id"},
	)

	// RollingAvgVibration скользящее среднее вибрации по устройству
	RollingAvgVibration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_rolling_avg_vibration",
			Help: "Rolling average of vibration",
		},
		[]string{"device_id"},
	)

	// ZScoreTemperature z-score последнего показания температуры
	ZScoreTemperature = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_zscore_temperature",
			Help: "Z-score of the latest temperature reading",
		},
		[]string{"device_id"},
	)

	// ZScoreVibration z-score последнего показания вибрации
	ZScoreVibration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_zscore_vibration",
			Help: "Z-score of the latest vibration reading",
		},
		[]string{"device_id"},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// UpdateAnalysisMetrics обновляет метрики анализа устройства
func UpdateAnalysisMetrics(deviceID string, avgTemperature, avgVibration, zTemperature, zVibration float64, isAnomaly bool) {
	RollingAvgTemperature.WithLabelValues(deviceID).Set(avgTemperature)
	RollingAvgVibration.WithLabelValues(deviceID).Set(avgVibration)
	ZScoreTemperature.WithLabelValues(deviceID).Set(zTemperature)
	ZScoreVibration.WithLabelValues(deviceID).Set(zVibration)
	if isAnomaly {
		AnomaliesDetected.Inc()
	}
}
