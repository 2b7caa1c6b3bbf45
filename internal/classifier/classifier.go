// Package classifier реализует детерминированный классификатор риска отказа
// Правила пороговые и объяснимые: каждое решение следует из того, какой порог
// температуры или вибрации был достигнут
package classifier

import (
	"errors"
	"fmt"
	"math"

	"fault-telemetry-service/internal/models"
)

// ErrInvalidInput значения датчиков вне допустимой области
var ErrInvalidInput = errors.New("invalid input")

// InputError описывает недопустимое значение конкретного поля
type InputError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s %v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap позволяет errors.Is(err, ErrInvalidInput)
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// Band полоса правил: уровень риска достигается, если температура или вибрация
// не ниже своего порога (нижняя граница включительно)
type Band struct {
	Tier          models.RiskTier
	Temperature   float64
	Vibration     float64
	Score         float64
	ThermalMode   models.FailureMode
	VibrationMode models.FailureMode
}

// Rules набор правил классификатора
type Rules struct {
	// Bands от самой опасной полосы к наименее опасной
	Bands    []Band
	Fallback Band

	BaselineTemperature float64
	BaselineVibration   float64
	CeilingTemperature  float64
	CeilingVibration    float64
	MaxTemperature      float64
	MaxVibration        float64

	// Масштабы нормализации расстояния до порога для confidence
	TemperatureScale float64
	VibrationScale   float64
	Softness         float64
}

// DefaultRules трехуровневые правила: high_risk, medium_risk, low_risk
func DefaultRules() Rules {
	return Rules{
		Bands: []Band{
			{
				Tier:          models.TierHigh,
				Temperature:   80,
				Vibration:     2.5,
				Score:         70,
				ThermalMode:   models.ModeThermalStress,
				VibrationMode: models.ModeBearingFailure,
			},
			{
				Tier:          models.TierMedium,
				Temperature:   70,
				Vibration:     1.5,
				Score:         30,
				ThermalMode:   models.ModeEarlyMisalignment,
				VibrationMode: models.ModeEarlyMisalignment,
			},
		},
		Fallback: Band{
			Tier:          models.TierLow,
			ThermalMode:   models.ModeNone,
			VibrationMode: models.ModeNone,
		},
		BaselineTemperature: 60,
		BaselineVibration:   1.0,
		CeilingTemperature:  120,
		CeilingVibration:    5.0,
		MaxTemperature:      250,
		MaxVibration:        50,
		TemperatureScale:    10,
		VibrationScale:      1.0,
		Softness:            0.5,
	}
}

// TwoTierRules исторический двухуровневый режим без medium_risk
func TwoTierRules() Rules {
	r := DefaultRules()
	return r.WithoutTier(models.TierMedium)
}

// RulesForTiers возвращает правила для заданного числа уровней (2 или 3)
func RulesForTiers(tiers int) (Rules, error) {
	switch tiers {
	case 2:
		return TwoTierRules(), nil
	case 3:
		return DefaultRules(), nil
	default:
		return Rules{}, fmt.Errorf("unsupported tier count %d (want 2 or 3)", tiers)
	}
}

// WithoutTier возвращает копию правил без полосы указанного уровня
func (r Rules) WithoutTier(tier models.RiskTier) Rules {
	bands := make([]Band, 0, len(r.Bands))
	for _, b := range r.Bands {
		if b.Tier != tier {
			bands = append(bands, b)
		}
	}
	r.Bands = bands
	return r
}

// Validate проверяет согласованность порогов
func (r Rules) Validate() error {
	if len(r.Bands) == 0 {
		return errors.New("rules: at least one band is required")
	}
	prevT, prevV, prevS := r.CeilingTemperature, r.CeilingVibration, 100.0
	for _, b := range r.Bands {
		if b.Temperature >= prevT || b.Vibration >= prevV || b.Score >= prevS {
			return fmt.Errorf("rules: band %s is not strictly below the previous one", b.Tier)
		}
		prevT, prevV, prevS = b.Temperature, b.Vibration, b.Score
	}
	if prevT <= r.BaselineTemperature || prevV <= r.BaselineVibration || prevS <= 0 {
		return errors.New("rules: lowest band must lie above the baseline")
	}
	if r.MaxTemperature < r.CeilingTemperature || r.MaxVibration < r.CeilingVibration {
		return errors.New("rules: physical limits must not be below the score ceiling")
	}
	if r.TemperatureScale <= 0 || r.VibrationScale <= 0 || r.Softness <= 0 {
		return errors.New("rules: scales and softness must be positive")
	}
	return nil
}

// Classifier чистая функция показание -> вердикт. Безопасен для конкурентного использования.
type Classifier struct {
	rules Rules
}

// New создает классификатор с проверенными правилами
func New(rules Rules) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{rules: rules}, nil
}

var defaultClassifier = &Classifier{rules: DefaultRules()}

// Default возвращает классификатор с правилами по умолчанию
func Default() *Classifier {
	return defaultClassifier
}

// Classify классифицирует пару (temperature, vibration) правилами по умолчанию
func Classify(temperature, vibration float64) (models.ClassificationResult, error) {
	return defaultClassifier.Classify(temperature, vibration)
}

// Rules возвращает копию действующих правил
func (c *Classifier) Rules() Rules {
	return c.rules
}

// Classify классифицирует показание
func (c *Classifier) Classify(temperature, vibration float64) (models.ClassificationResult, error) {
	if err := c.validate(temperature, vibration); err != nil {
		return models.ClassificationResult{}, err
	}

	band := c.match(temperature, vibration)

	return models.ClassificationResult{
		Prediction:  band.Tier,
		RiskScore:   c.riskScore(temperature, vibration),
		Confidence:  c.confidence(temperature, vibration),
		FailureMode: c.failureMode(band, temperature, vibration),
	}, nil
}

// Status возвращает только уровень риска (используется для поля status показаний)
func (c *Classifier) Status(temperature, vibration float64) (models.RiskTier, error) {
	if err := c.validate(temperature, vibration); err != nil {
		return "", err
	}
	return c.match(temperature, vibration).Tier, nil
}

func (c *Classifier) validate(temperature, vibration float64) error {
	if err := checkValue("temperature", temperature, c.rules.MaxTemperature); err != nil {
		return err
	}
	return checkValue("vibration", vibration, c.rules.MaxVibration)
}

func checkValue(field string, v, limit float64) error {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return &InputError{Field: field, Value: v, Reason: "must be a finite number"}
	case v < 0:
		return &InputError{Field: field, Value: v, Reason: "must be non-negative"}
	case v > limit:
		return &InputError{Field: field, Value: v, Reason: fmt.Sprintf("exceeds physical limit %v", limit)}
	}
	return nil
}

func (c *Classifier) match(temperature, vibration float64) Band {
	if i := c.matchIndex(temperature, vibration); i < len(c.rules.Bands) {
		return c.rules.Bands[i]
	}
	return c.rules.Fallback
}

// matchIndex индекс первой сработавшей полосы, len(Bands) для Fallback
func (c *Classifier) matchIndex(temperature, vibration float64) int {
	for i, b := range c.rules.Bands {
		if temperature >= b.Temperature || vibration >= b.Vibration {
			return i
		}
	}
	return len(c.rules.Bands)
}

// failureMode выбирает режим по доминирующему триггеру: отношение значения
// к порогу полосы. При равенстве доминирует вибрация.
func (c *Classifier) failureMode(b Band, temperature, vibration float64) models.FailureMode {
	if b.Temperature <= 0 || b.Vibration <= 0 {
		return b.ThermalMode
	}
	if vibration/b.Vibration >= temperature/b.Temperature {
		return b.VibrationMode
	}
	return b.ThermalMode
}

// riskScore максимум кусочно-линейных оценок по каждой переменной
func (c *Classifier) riskScore(temperature, vibration float64) float64 {
	r := c.rules
	t := interpolate(temperature, c.anchors(r.BaselineTemperature, r.CeilingTemperature, func(b Band) float64 { return b.Temperature }))
	v := interpolate(vibration, c.anchors(r.BaselineVibration, r.CeilingVibration, func(b Band) float64 { return b.Vibration }))
	return clamp(math.Max(t, v), 0, 100)
}

type anchor struct {
	x, score float64
}

// anchors точки кривой по возрастанию: baseline -> 0, пороги полос -> Score, ceiling -> 100
func (c *Classifier) anchors(baseline, ceiling float64, threshold func(Band) float64) []anchor {
	pts := make([]anchor, 0, len(c.rules.Bands)+2)
	pts = append(pts, anchor{x: baseline, score: 0})
	for i := len(c.rules.Bands) - 1; i >= 0; i-- {
		b := c.rules.Bands[i]
		pts = append(pts, anchor{x: threshold(b), score: b.Score})
	}
	return append(pts, anchor{x: ceiling, score: 100})
}

func interpolate(x float64, pts []anchor) float64 {
	if x <= pts[0].x {
		return pts[0].score
	}
	for i := 1; i < len(pts); i++ {
		if x < pts[i].x {
			lo, hi := pts[i-1], pts[i]
			return lo.score + (x-lo.x)/(hi.x-lo.x)*(hi.score-lo.score)
		}
	}
	return pts[len(pts)-1].score
}

// confidence = 1 - 0.5*exp(-d/softness), d - нормированное расстояние до ближайшей
// границы, пересечение которой меняет уровень. Вниз из полосы выходят, только когда
// обе переменные ниже ее порогов; вверх достаточно одной переменной.
// На границе 0.5, к 1 стремится только в пределе.
func (c *Classifier) confidence(temperature, vibration float64) float64 {
	r := c.rules
	i := c.matchIndex(temperature, vibration)
	d := math.Inf(1)

	if i < len(r.Bands) {
		b := r.Bands[i]
		down := math.Max(
			math.Max(0, (temperature-b.Temperature)/r.TemperatureScale),
			math.Max(0, (vibration-b.Vibration)/r.VibrationScale),
		)
		d = math.Min(d, down)
	}
	if i > 0 {
		b := r.Bands[i-1]
		up := math.Min(
			(b.Temperature-temperature)/r.TemperatureScale,
			(b.Vibration-vibration)/r.VibrationScale,
		)
		d = math.Min(d, up)
	}
	return 1 - 0.5*math.Exp(-d/r.Softness)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
