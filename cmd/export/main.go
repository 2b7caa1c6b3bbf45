// Package main выгружает журнал показаний в CSV, JSONL или архив ClickHouse
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fault-telemetry-service/internal/archive"
	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/config"
	"fault-telemetry-service/internal/logging"
	"fault-telemetry-service/internal/store"
)

func main() {
	format := flag.String("format", "csv", "export format: csv, jsonl or clickhouse")
	output := flag.String("o", "", "output file (stdout when empty)")
	timeout := flag.Duration("timeout", 10*time.Minute, "export timeout")
	flag.Parse()

	cfg := config.Load()
	// Логи идут в stderr, чтобы не смешиваться с выгрузкой в stdout
	slog.SetDefault(logging.New(os.Stderr, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	n, err := run(ctx, cfg, *format, *output)
	if err != nil {
		slog.Error("export failed", "format", *format, "rows", n, "error", err)
		os.Exit(1)
	}
	slog.Info("export completed", "format", *format, "rows", n, "duration", time.Since(start))
}

func run(ctx context.Context, cfg config.Config, format, output string) (int, error) {
	if err := store.RequireDurable(cfg.StoreBackend); err != nil {
		return 0, err
	}

	rules, err := classifier.RulesForTiers(cfg.ClassifierTiers)
	if err != nil {
		return 0, err
	}
	cls, err := classifier.New(rules)
	if err != nil {
		return 0, err
	}

	st, err := store.Open(ctx, cfg, cls)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	switch format {
	case "clickhouse":
		arch, err := archive.NewClickHouseArchive(ctx, archive.Options{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		})
		if err != nil {
			return 0, err
		}
		defer arch.Close()
		return arch.Sync(ctx, st)
	case "csv", "jsonl":
		return writeFile(ctx, st, format, output)
	default:
		return 0, fmt.Errorf("unknown format %q", format)
	}
}

func writeFile(ctx context.Context, st store.Store, format, output string) (int, error) {
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return 0, fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	if format == "jsonl" {
		return store.WriteJSONL(ctx, st, w)
	}
	return store.WriteCSV(ctx, st, w)
}
