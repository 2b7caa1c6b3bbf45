package handlers

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/models"
)

// timeoutBody тело ответа при превышении INFERENCE_TIMEOUT
const timeoutBody = `{"error":"unavailable","message":"request timed out"}`

// NewRouter настраивает маршруты API. inferenceTimeout ограничивает время
// обработки каждого запроса API.
func NewRouter(h *Handler, inferenceTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()

	bounded := func(endpoint string, fn http.HandlerFunc) http.Handler {
		handler := http.Handler(timed(endpoint, fn))
		if inferenceTimeout > 0 {
			handler = http.TimeoutHandler(handler, inferenceTimeout, timeoutBody)
		}
		return handler
	}

	// API эндпоинты
	router.Handle("/predict", bounded("/predict", h.PredictHandler)).Methods(http.MethodPost)
	router.Handle("/devices", bounded("/devices", h.DevicesHandler)).Methods(http.MethodGet)
	router.Handle("/devices/{id}/latest", bounded("/devices/latest", h.LatestHandler)).Methods(http.MethodGet)
	router.Handle("/devices/{id}/readings", bounded("/devices/readings", h.ReadingsHandler)).Methods(http.MethodGet)
	router.Handle("/devices/{id}/summary", bounded("/devices/summary", h.SummaryHandler)).Methods(http.MethodGet)
	router.Handle("/devices/{id}/trend", bounded("/devices/trend", h.TrendHandler)).Methods(http.MethodGet)
	router.Handle("/devices/{id}/stats", bounded("/devices/stats", h.StatsHandler)).Methods(http.MethodGet)
	router.Handle("/health", bounded("/health", h.HealthHandler)).Methods(http.MethodGet)

	// Выгрузка и симулятор могут работать дольше таймаута инференса
	router.HandleFunc("/export", timed("/export", h.ExportHandler)).Methods(http.MethodGet)
	router.HandleFunc("/simulate", timed("/simulate", h.SimulateHandler)).Methods(http.MethodPost)

	router.NotFoundHandler = recoverMiddleware(http.HandlerFunc(h.NotFoundHandler))
	router.MethodNotAllowedHandler = recoverMiddleware(http.HandlerFunc(h.MethodNotAllowedHandler))

	router.Use(recoverMiddleware)
	router.Use(loggingMiddleware)
	router.Use(metricsMiddleware)

	return router
}

// statusRecorder запоминает код ответа
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// recoverMiddleware превращает панику обработчика в ответ internal_error
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.ErrorContext(r.Context(), "panic in handler",
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeJSON(w, models.ErrorResponse{Error: models.ErrorInternal, Message: "internal server error"}, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// metricsMiddleware считает запросы по шаблону маршрута и коду ответа
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.InFlightRequests.Inc()
		defer metrics.InFlightRequests.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
