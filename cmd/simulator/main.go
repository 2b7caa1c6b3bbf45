// Package main выполняет один запуск симулятора и завершается.
// Предназначен для внешнего планировщика (cron, CronJob).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/config"
	"fault-telemetry-service/internal/logging"
	"fault-telemetry-service/internal/publisher"
	"fault-telemetry-service/internal/simulator"
	"fault-telemetry-service/internal/store"
)

func main() {
	excursions := flag.String("excursions", "", "forced excursions, e.g. device-001=thermal,device-002=vibration")
	timeout := flag.Duration("timeout", 30*time.Second, "run timeout")
	flag.Parse()

	cfg := config.Load()
	// Логи идут в stderr, stdout занят отчетом о запуске
	slog.SetDefault(logging.New(os.Stderr, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel)))

	os.Exit(run(cfg, *excursions, *timeout, os.Stdout))
}

// run пишет отчет в out и возвращает код выхода: 0 если все показания
// сохранены, 1 при ошибке конфигурации, 2 если часть устройств не записана
func run(cfg config.Config, excursions string, timeout time.Duration, out io.Writer) int {
	if err := store.RequireDurable(cfg.StoreBackend); err != nil {
		slog.Error("refusing to run against a process-local store", "error", err)
		return 1
	}

	opts, err := parseExcursions(excursions)
	if err != nil {
		slog.Error("invalid excursions", "error", err)
		return 1
	}

	rules, err := classifier.RulesForTiers(cfg.ClassifierTiers)
	if err != nil {
		slog.Error("invalid classifier configuration", "error", err)
		return 1
	}
	cls, err := classifier.New(rules)
	if err != nil {
		slog.Error("invalid classifier rules", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st, err := store.Open(ctx, cfg, cls)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	var listeners []simulator.Listener
	if cfg.MQTTBroker != "" {
		pub, err := publisher.New(publisher.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID + "-oneshot",
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		})
		if err != nil {
			slog.Warn("running without MQTT feed", "error", err)
		} else {
			defer pub.Close()
			listeners = append(listeners, pub)
		}
	}

	sim := simulator.New(simulator.ConfigFrom(cfg), st, cls, listeners...)
	report := sim.Run(ctx, time.Now(), opts...)

	if err := json.NewEncoder(out).Encode(report); err != nil {
		slog.Error("failed to write report", "error", err)
	}
	if report.Failed > 0 {
		slog.Error("simulator run incomplete", "persisted", report.Persisted, "failed", report.Failed)
		return 2
	}
	slog.Info("simulator run completed", "persisted", report.Persisted)
	return 0
}

// parseExcursions разбирает список вида id=kind,id=kind
func parseExcursions(s string) ([]simulator.Option, error) {
	var opts []simulator.Option
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, name, _ := strings.Cut(pair, "=")
		kind, ok := simulator.ParseExcursion(strings.TrimSpace(name))
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("want device=thermal|vibration|combined, got %q", pair)
		}
		opts = append(opts, simulator.WithExcursion(strings.TrimSpace(id), kind))
	}
	return opts, nil
}
