package models

import "time"

// Виды ошибок в ответах API
const (
	ErrorBadRequest       = "bad_request"
	ErrorNotFound         = "not_found"
	ErrorConflict         = "conflict"
	ErrorMethodNotAllowed = "method_not_allowed"
	ErrorInternal         = "internal_error"
	ErrorUnavailable      = "unavailable"
)

// ReasonInvalidInput уточнение bad_request: значения датчиков вне допустимой области
const ReasonInvalidInput = "invalid_input"

// InferenceRequest тело запроса POST /predict
type InferenceRequest struct {
	DeviceID    string  `json:"device_id,omitempty"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
}

// ErrorResponse структурированная ошибка API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// DeviceOverview устройство парка и его последнее показание
type DeviceOverview struct {
	DeviceID string         `json:"device_id"`
	Latest   *DeviceReading `json:"latest"`
}

// SimulateRequest тело запроса POST /simulate
type SimulateRequest struct {
	Excursions map[string]string `json:"excursions,omitempty"`
}

// SimulateResponse итог одного запуска симулятора
type SimulateResponse struct {
	Timestamp time.Time       `json:"timestamp"`
	Persisted int             `json:"persisted"`
	Failed    int             `json:"failed"`
	Devices   []DeviceOutcome `json:"devices"`
}

// DeviceOutcome результат записи одного устройства
type DeviceOutcome struct {
	DeviceID string         `json:"device_id"`
	Reading  *DeviceReading `json:"reading,omitempty"`
	Retried  bool           `json:"retried"`
	Error    string         `json:"error,omitempty"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Store     string    `json:"store"`
	Backend   string    `json:"backend"`
	Uptime    string    `json:"uptime"`
}

// DeviceStats скользящая статистика устройства
type DeviceStats struct {
	DeviceID          string  `json:"device_id"`
	Samples           int     `json:"samples"`
	MeanTemperature   float64 `json:"mean_temperature"`
	StdDevTemperature float64 `json:"std_dev_temperature"`
	MeanVibration     float64 `json:"mean_vibration"`
	StdDevVibration   float64 `json:"std_dev_vibration"`
	ZScoreTemperature float64 `json:"z_score_temperature"`
	ZScoreVibration   float64 `json:"z_score_vibration"`
	AnomalyDetected   bool    `json:"anomaly_detected"`
}

// StatusSummary сводка статусов устройства за окно времени
type StatusSummary struct {
	DeviceID     string           `json:"device_id"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Counts       map[RiskTier]int `json:"counts"`
	Actual       int              `json:"actual"`
	Expected     int              `json:"expected"`
	Completeness float64          `json:"completeness"`
	Latest       *DeviceReading   `json:"latest,omitempty"`
}

// TrendPoint число показаний high_risk в одном интервале
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
}
