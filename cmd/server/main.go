// Package main запускает сервис телеметрии отказов оборудования
// Сервис реализует:
// - HTTP API классификации показаний (POST /predict)
// - Журнал показаний в памяти, Redis или Postgres
// - Симулятор показаний парка устройств по расписанию
// - Скользящую статистику и z-score детекцию аномалий
// - Ленту показаний в MQTT
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fault-telemetry-service/internal/analytics"
	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/config"
	"fault-telemetry-service/internal/handlers"
	"fault-telemetry-service/internal/logging"
	"fault-telemetry-service/internal/metrics"
	"fault-telemetry-service/internal/publisher"
	"fault-telemetry-service/internal/simulator"
	"fault-telemetry-service/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	slog.Info("starting fault telemetry service",
		"go_version", runtime.Version(),
		"num_cpu", runtime.NumCPU(),
		"backend", cfg.StoreBackend,
		"devices", len(cfg.DeviceIDs),
	)

	rules, err := classifier.RulesForTiers(cfg.ClassifierTiers)
	if err != nil {
		slog.Error("invalid classifier configuration", "error", err)
		os.Exit(1)
	}
	cls, err := classifier.New(rules)
	if err != nil {
		slog.Error("invalid classifier rules", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Хранилище подключается с повторами
	st, err := store.Open(ctx, cfg, cls)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	tracker := analytics.NewTracker(cfg.AnalyticsWindow)
	primeTracker(ctx, tracker, st, cfg)

	listeners := []simulator.Listener{tracker}

	// MQTT лента включается только при заданном брокере
	var pub *publisher.Publisher
	if cfg.MQTTBroker != "" {
		pub, err = publisher.New(publisher.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		})
		if err != nil {
			slog.Warn("running without MQTT feed", "broker", cfg.MQTTBroker, "error", err)
		} else {
			listeners = append(listeners, pub)
			defer pub.Close()
		}
	}

	sim := simulator.New(simulator.ConfigFrom(cfg), st, cls, listeners...)
	if cfg.SimulatorEnabled {
		go sim.Loop(ctx, cfg.SimulatorInterval)
	}

	handler := handlers.NewHandler(handlers.Deps{
		Classifier: cls,
		Store:      st,
		Tracker:    tracker,
		Simulator:  sim,
		Fleet:      cfg.DeviceIDs,
		Backend:    cfg.StoreBackend,
		Cadence:    cfg.SimulatorInterval,
	})

	router := handlers.NewRouter(handler, cfg.InferenceTimeout)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go updateMetricsLoop(ctx)

	go func() {
		slog.Info("server listening", "addr", cfg.ServerAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// primeTracker восстанавливает скользящие окна из последних сохраненных показаний
func primeTracker(ctx context.Context, tracker *analytics.Tracker, st store.Store, cfg config.Config) {
	to := time.Now().UTC()
	from := to.Add(-time.Duration(cfg.AnalyticsWindow) * cfg.SimulatorInterval)

	primed := 0
	for _, id := range cfg.DeviceIDs {
		readings, err := st.Query(ctx, id, from, to)
		if err != nil {
			slog.Warn("failed to load history for analytics", "device_id", id, "error", err)
			continue
		}
		if n := len(readings); n > cfg.AnalyticsWindow {
			readings = readings[n-cfg.AnalyticsWindow:]
		}
		tracker.Prime(readings)
		primed += len(readings)
	}
	slog.Info("analytics primed from store", "readings", primed)
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}
