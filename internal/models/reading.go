// Package models содержит структуры данных телеметрии и классификации
package models

import (
	"strconv"
	"time"
)

// RiskTier уровень риска отказа. Открытое перечисление: новые уровни
// добавляются константами, существующие вызовы не меняются.
type RiskTier string

const (
	TierLow    RiskTier = "low_risk"
	TierMedium RiskTier = "medium_risk"
	TierHigh   RiskTier = "high_risk"
)

// FailureMode вероятная причина отказа из фиксированного каталога
type FailureMode string

const (
	ModeNone              FailureMode = "none_detected"
	ModeEarlyMisalignment FailureMode = "early_misalignment"
	ModeBearingFailure    FailureMode = "bearing_failure"
	ModeThermalStress     FailureMode = "thermal_stress"
)

// TimestampPrecision точность хранения временных меток в хранилище
const TimestampPrecision = time.Millisecond

// DeviceReading одно показание датчиков устройства
type DeviceReading struct {
	DeviceID    string    `json:"device_id"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Vibration   float64   `json:"vibration"`
	Status      RiskTier  `json:"status"`
}

// ExportColumns порядок полей при выгрузке, совпадает с JSON тегами DeviceReading
var ExportColumns = []string{"device_id", "timestamp", "temperature", "vibration", "status"}

// Normalize приводит временную метку к UTC с точностью хранилища
func (r DeviceReading) Normalize() DeviceReading {
	r.Timestamp = NormalizeTime(r.Timestamp)
	return r
}

// NormalizeTime приводит время к UTC с точностью хранилища
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// Record возвращает значения полей в порядке ExportColumns
func (r DeviceReading) Record() []string {
	return []string{
		r.DeviceID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(r.Temperature, 'f', -1, 64),
		strconv.FormatFloat(r.Vibration, 'f', -1, 64),
		string(r.Status),
	}
}

// ClassificationResult результат одного запроса инференса. Не сохраняется.
type ClassificationResult struct {
	Prediction  RiskTier    `json:"prediction"`
	RiskScore   float64     `json:"risk_score"`
	Confidence  float64     `json:"confidence"`
	FailureMode FailureMode `json:"failure_mode"`
}
