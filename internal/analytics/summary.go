package analytics

import (
	"math"
	"time"

	"fault-telemetry-service/internal/models"
)

// DefaultCadence ожидаемая частота показаний (одно в минуту)
const DefaultCadence = time.Minute

// Summarize считает статусы и полноту данных за окно [from, to].
// readings должны относиться к одному устройству и идти по возрастанию времени.
func Summarize(deviceID string, readings []models.DeviceReading, from, to time.Time, cadence time.Duration) models.StatusSummary {
	if cadence <= 0 {
		cadence = DefaultCadence
	}

	summary := models.StatusSummary{
		DeviceID: deviceID,
		From:     from,
		To:       to,
		Counts: map[models.RiskTier]int{
			models.TierLow:    0,
			models.TierMedium: 0,
			models.TierHigh:   0,
		},
		Actual:   len(readings),
		Expected: int(to.Sub(from) / cadence),
	}

	for _, r := range readings {
		summary.Counts[r.Status]++
	}
	if n := len(readings); n > 0 {
		latest := readings[n-1]
		summary.Latest = &latest
	}
	if summary.Expected > 0 {
		pct := float64(summary.Actual) / float64(summary.Expected) * 100
		summary.Completeness = math.Round(pct*10) / 10
	}
	return summary
}

// MaxTrendPoints наибольшее число интервалов в одном тренде
const MaxTrendPoints = 1500

// TrendPoints число интервалов, которое FaultTrend вернет для окна
func TrendPoints(from, to time.Time, bucket time.Duration) int {
	if bucket <= 0 || to.Before(from) {
		return 0
	}
	return int(to.UTC().Sub(from.UTC().Truncate(bucket))/bucket) + 1
}

// FaultTrend считает показания high_risk по интервалам bucket.
// Интервалы выровнены по bucket и покрывают все окно, пустые интервалы имеют Count 0.
// Если интервалов больше MaxTrendPoints, результат пуст.
func FaultTrend(readings []models.DeviceReading, from, to time.Time, bucket time.Duration) []models.TrendPoint {
	if n := TrendPoints(from, to, bucket); n == 0 || n > MaxTrendPoints {
		return []models.TrendPoint{}
	}

	start := from.UTC().Truncate(bucket)
	n := int(to.UTC().Sub(start)/bucket) + 1
	points := make([]models.TrendPoint, n)
	for i := range points {
		points[i].Bucket = start.Add(time.Duration(i) * bucket)
	}

	for _, r := range readings {
		if r.Status != models.TierHigh || r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		i := int(r.Timestamp.UTC().Sub(start) / bucket)
		if i >= 0 && i < n {
			points[i].Count++
		}
	}
	return points
}
