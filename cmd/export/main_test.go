package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"fault-telemetry-service/internal/config"
	"fault-telemetry-service/internal/store"
)

func TestRun_RejectsMemoryBackend(t *testing.T) {
	out := filepath.Join(t.TempDir(), "readings.csv")
	cfg := config.Config{StoreBackend: "memory", ClassifierTiers: 3}

	n, err := run(context.Background(), cfg, "csv", out)
	if !errors.Is(err, store.ErrNotDurable) {
		t.Fatalf("Expected ErrNotDurable, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 rows, got %d", n)
	}
}
