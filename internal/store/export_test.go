package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

func seededStore(t *testing.T) Store {
	t.Helper()
	s := NewMemoryStore(classifier.Default(), NewFleet(testFleet))
	ctx := context.Background()
	for _, r := range []models.DeviceReading{
		reading("device-002", base, 61.5, 0.9),
		reading("device-001", base, 82, 1.1),
		reading("device-001", base.Add(time.Minute), 60, 1.6),
	} {
		if _, err := s.Append(ctx, r); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	return s
}

func TestWriteCSV(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	n, err := WriteCSV(context.Background(), s, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 rows, got %d", n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Invalid CSV: %v", err)
	}
	if !reflect.DeepEqual(records[0], models.ExportColumns) {
		t.Errorf("Expected header %v, got %v", models.ExportColumns, records[0])
	}
	want := []string{"device-001", "2024-05-01T12:00:00Z", "82", "1.1", "high_risk"}
	if !reflect.DeepEqual(records[1], want) {
		t.Errorf("Expected first row %v, got %v", want, records[1])
	}
	if records[3][0] != "device-002" {
		t.Errorf("Expected device-002 last, got %s", records[3][0])
	}
}

func TestWriteJSONL(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	n, err := WriteJSONL(context.Background(), s, &buf)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != n || n != 3 {
		t.Fatalf("Expected 3 lines, got %d (n=%d)", len(lines), n)
	}

	var row map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &row); err != nil {
		t.Fatalf("Invalid JSON line: %v", err)
	}
	for _, key := range models.ExportColumns {
		if _, ok := row[key]; !ok {
			t.Errorf("Expected key %s in JSONL row", key)
		}
	}
	if len(row) != len(models.ExportColumns) {
		t.Errorf("Expected %d keys, got %d", len(models.ExportColumns), len(row))
	}
	if row["status"] != string(models.TierMedium) {
		t.Errorf("Expected medium_risk, got %v", row["status"])
	}
}
