// Package handlers содержит HTTP обработчики для API
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"fault-telemetry-service/internal/analytics"
	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/models"
	"fault-telemetry-service/internal/simulator"
	"fault-telemetry-service/internal/store"
)

const (
	// maxBodySize ограничение тела запроса
	maxBodySize = 1 << 20
	// DefaultQueryWindow окно выборки показаний по умолчанию
	DefaultQueryWindow = 60 * time.Minute
	// DefaultTrendWindow окно тренда отказов по умолчанию
	DefaultTrendWindow = 4 * time.Hour
	// DefaultTrendBucket интервал тренда отказов по умолчанию
	DefaultTrendBucket = 15 * time.Minute
	// MaxSummaryWindow наибольшее окно сводки
	MaxSummaryWindow = 24 * time.Hour
)

// Deps зависимости обработчиков
type Deps struct {
	Classifier *classifier.Classifier
	Store      store.Store
	Tracker    *analytics.Tracker
	// Simulator может быть nil, тогда POST /simulate недоступен
	Simulator *simulator.Simulator
	Fleet     []string
	Backend   string
	// Cadence ожидаемая частота показаний для полноты данных
	Cadence time.Duration
}

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	cls       *classifier.Classifier
	store     store.Store
	tracker   *analytics.Tracker
	sim       *simulator.Simulator
	fleet     []string
	known     store.Fleet
	backend   string
	cadence   time.Duration
	startTime time.Time
	now       func() time.Time
}

// NewHandler создает новый обработчик
func NewHandler(d Deps) *Handler {
	cls := d.Classifier
	if cls == nil {
		cls = classifier.Default()
	}
	tracker := d.Tracker
	if tracker == nil {
		tracker = analytics.NewTracker(analytics.WindowSize)
	}
	return &Handler{
		cls:       cls,
		store:     d.Store,
		tracker:   tracker,
		sim:       d.Simulator,
		fleet:     d.Fleet,
		known:     store.NewFleet(d.Fleet),
		backend:   d.Backend,
		cadence:   d.Cadence,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// PredictHandler обрабатывает POST /predict - классификация показания
func (h *Handler) PredictHandler(w http.ResponseWriter, r *http.Request) {
	req, field, err := decodeInference(w, r)
	if err != nil {
		msg := err.Error()
		if field != "" {
			msg = fmt.Sprintf("field %s: %v", field, err)
		}
		h.respondError(w, models.ErrorBadRequest, msg, http.StatusBadRequest)
		return
	}

	start := time.Now()
	result, err := h.cls.Classify(req.Temperature, req.Vibration)
	metrics.ClassificationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, classifier.ErrInvalidInput) {
			h.respondErrorReason(w, models.ErrorBadRequest, models.ReasonInvalidInput, err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "classification failed", "error", err)
		h.respondError(w, models.ErrorInternal, "classification failed", http.StatusInternalServerError)
		return
	}

	metrics.Classifications.WithLabelValues(string(result.Prediction)).Inc()
	slog.DebugContext(r.Context(), "classified reading",
		"device_id", req.DeviceID,
		"prediction", result.Prediction,
		"risk_score", result.RiskScore,
	)
	h.respondJSON(w, result, http.StatusOK)
}

// decodeInference разбирает тело запроса инференса. Возвращает имя поля,
// если ошибка относится к конкретному полю.
func decodeInference(w http.ResponseWriter, r *http.Request) (models.InferenceRequest, string, error) {
	var req models.InferenceRequest

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&fields); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, "", fmt.Errorf("request body exceeds %d bytes", maxBodySize)
		}
		return req, "", fmt.Errorf("request body must be a JSON object: %v", err)
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"temperature", &req.Temperature},
		{"vibration", &req.Vibration},
	} {
		raw, ok := fields[f.name]
		if !ok || string(raw) == "null" {
			return req, f.name, errors.New("is required")
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			return req, f.name, errors.New("must be a number")
		}
	}

	if raw, ok := fields["device_id"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &req.DeviceID); err != nil {
			return req, "device_id", errors.New("must be a string")
		}
	}
	return req, "", nil
}

// DevicesHandler обрабатывает GET /devices - парк и последние показания
func (h *Handler) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	ids := h.fleet
	if len(ids) == 0 {
		var err error
		if ids, err = h.store.Devices(r.Context()); err != nil {
			h.respondStoreError(w, r, err)
			return
		}
	}

	overview := make([]models.DeviceOverview, 0, len(ids))
	for _, id := range ids {
		item := models.DeviceOverview{DeviceID: id}
		latest, err := h.store.Latest(r.Context(), id)
		switch {
		case err == nil:
			item.Latest = &latest
		case !errors.Is(err, store.ErrNotFound):
			h.respondStoreError(w, r, err)
			return
		}
		overview = append(overview, item)
	}
	h.respondJSON(w, overview, http.StatusOK)
}

// LatestHandler обрабатывает GET /devices/{id}/latest
func (h *Handler) LatestHandler(w http.ResponseWriter, r *http.Request) {
	latest, err := h.store.Latest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondJSON(w, latest, http.StatusOK)
}

// ReadingsHandler обрабатывает GET /devices/{id}/readings?from=&to=
func (h *Handler) ReadingsHandler(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.parseRange(r)
	if err != nil {
		h.respondError(w, models.ErrorBadRequest, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := h.store.Query(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondJSON(w, readings, http.StatusOK)
}

// SummaryHandler обрабатывает GET /devices/{id}/summary?window=60m
func (h *Handler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, "window", DefaultQueryWindow)
	if err != nil {
		h.respondError(w, models.ErrorBadRequest, err.Error(), http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	to := h.now().UTC()
	from := to.Add(-window)
	readings, err := h.store.Query(r.Context(), id, from, to)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondJSON(w, analytics.Summarize(id, readings, from, to, h.cadence), http.StatusOK)
}

// TrendHandler обрабатывает GET /devices/{id}/trend?window=4h&bucket=15m
func (h *Handler) TrendHandler(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r, "window", DefaultTrendWindow)
	var bucket time.Duration
	if err == nil {
		bucket, err = parseWindow(r, "bucket", DefaultTrendBucket)
	}
	if err == nil && bucket > window {
		err = errors.New("bucket must not exceed window")
	}

	to := h.now().UTC()
	from := to.Add(-window)
	if err == nil && analytics.TrendPoints(from, to, bucket) > analytics.MaxTrendPoints {
		err = fmt.Errorf("bucket %s is too small for window %s: at most %d buckets", bucket, window, analytics.MaxTrendPoints)
	}
	if err != nil {
		h.respondError(w, models.ErrorBadRequest, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := h.store.Query(r.Context(), mux.Vars(r)["id"], from, to)
	if err != nil {
		h.respondStoreError(w, r, err)
		return
	}
	h.respondJSON(w, analytics.FaultTrend(readings, from, to, bucket), http.StatusOK)
}

// StatsHandler обрабатывает GET /devices/{id}/stats - скользящая статистика
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.known.Known(id) {
		h.respondError(w, models.ErrorNotFound, "unknown device "+id, http.StatusNotFound)
		return
	}

	stats, _ := h.tracker.Stats(id)
	h.respondJSON(w, stats, http.StatusOK)
}

// ExportHandler обрабатывает GET /export?format=csv|jsonl - выгрузка журнала
func (h *Handler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	var write func() (int, error)
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		write = func() (int, error) { return store.WriteCSV(r.Context(), h.store, w) }
	case "jsonl":
		w.Header().Set("Content-Type", "application/x-ndjson")
		write = func() (int, error) { return store.WriteJSONL(r.Context(), h.store, w) }
	default:
		h.respondError(w, models.ErrorBadRequest, "format must be csv or jsonl", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="device_readings.%s"`, format))
	w.WriteHeader(http.StatusOK)

	// После начала ответа статус изменить нельзя, ошибка только логируется
	n, err := write()
	if err != nil {
		slog.ErrorContext(r.Context(), "export interrupted", "format", format, "rows", n, "error", err)
		return
	}
	slog.InfoContext(r.Context(), "export completed", "format", format, "rows", n)
}

// SimulateHandler обрабатывает POST /simulate - внешний триггер симулятора
func (h *Handler) SimulateHandler(w http.ResponseWriter, r *http.Request) {
	if h.sim == nil {
		h.respondError(w, models.ErrorUnavailable, "simulator is not configured", http.StatusServiceUnavailable)
		return
	}

	var req models.SimulateRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, models.ErrorBadRequest, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	opts := make([]simulator.Option, 0, len(req.Excursions))
	for id, name := range req.Excursions {
		kind, ok := simulator.ParseExcursion(name)
		if !ok {
			h.respondError(w, models.ErrorBadRequest, fmt.Sprintf("unknown excursion %q for %s", name, id), http.StatusBadRequest)
			return
		}
		if !store.NewFleet(h.sim.Devices()).Known(id) {
			h.respondError(w, models.ErrorBadRequest, "unknown device "+id, http.StatusBadRequest)
			return
		}
		opts = append(opts, simulator.WithExcursion(id, kind))
	}

	report := h.sim.Run(r.Context(), h.now(), opts...)
	h.respondJSON(w, report, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Store:     "connected",
		Backend:   h.backend,
		Uptime:    time.Since(h.startTime).String(),
	}

	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		slog.WarnContext(r.Context(), "store ping failed", "error", err)
		status.Status = "degraded"
		status.Store = "disconnected"
		code = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, code)
}

// NotFoundHandler структурированный ответ для неизвестных маршрутов
func (h *Handler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	metrics.RequestsTotal.WithLabelValues("unmatched", r.Method, "404").Inc()
	h.respondError(w, models.ErrorNotFound, "no route for "+r.URL.Path, http.StatusNotFound)
}

// MethodNotAllowedHandler структурированный ответ для неверного метода
func (h *Handler) MethodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	metrics.RequestsTotal.WithLabelValues("unmatched", r.Method, "405").Inc()
	h.respondError(w, models.ErrorMethodNotAllowed, "method "+r.Method+" not allowed for "+r.URL.Path, http.StatusMethodNotAllowed)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownDevice):
		h.respondError(w, models.ErrorNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		h.respondError(w, models.ErrorConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, classifier.ErrInvalidInput):
		h.respondErrorReason(w, models.ErrorBadRequest, models.ReasonInvalidInput, err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(r.Context(), "store request failed", "path", r.URL.Path, "error", err)
		h.respondError(w, models.ErrorInternal, "store unavailable", http.StatusInternalServerError)
	}
}

// parseRange читает from/to. По умолчанию to - сейчас, from - to минус 60 минут.
func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	to := h.now().UTC()
	if s := q.Get("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
		}
		to = t
	}

	from := to.Add(-DefaultQueryWindow)
	if s := q.Get("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
		}
		from = t
	}
	return from, to, nil
}

// parseTime принимает RFC3339 или unix секунды
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(sec) && !math.IsInf(sec, 0) {
		whole, frac := math.Modf(sec)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or unix seconds", s)
}

func parseWindow(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 || d > MaxSummaryWindow {
		return 0, fmt.Errorf("%s must be in (0, %s]", key, MaxSummaryWindow)
	}
	return d, nil
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	writeJSON(w, data, status)
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, kind, message string, status int) {
	h.respondJSON(w, models.ErrorResponse{Error: kind, Message: message}, status)
}

func (h *Handler) respondErrorReason(w http.ResponseWriter, kind, reason, message string, status int) {
	h.respondJSON(w, models.ErrorResponse{Error: kind, Message: message, Reason: reason}, status)
}

func writeJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// timed оборачивает обработчик таймером длительности эндпоинта
func timed(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(endpoint, r.Method))
		defer timer.ObserveDuration()
		next(w, r)
	}
}
