package store

import (
	"context"
	"os"
	"testing"

	"fault-telemetry-service/internal/classifier"
)

// Интеграционный тест, требует TEST_POSTGRES_URL
func TestPostgresStore_Contract(t *testing.T) {
	url := os.Getenv("TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("TEST_POSTGRES_URL not set")
	}

	runContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, url, classifier.Default(), NewFleet(testFleet))
		if err != nil {
			t.Fatalf("Failed to connect to Postgres: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE device_readings`); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
