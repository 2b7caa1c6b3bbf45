package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"fault-telemetry-service/internal/models"
)

// WriteCSV выгружает все показания в CSV с заголовком models.ExportColumns
func WriteCSV(ctx context.Context, s Store, w io.Writer) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(models.ExportColumns); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	n := 0
	err := s.Export(ctx, func(r models.DeviceReading) error {
		n++
		return cw.Write(r.Record())
	})
	cw.Flush()
	if err != nil {
		return n, fmt.Errorf("failed to export csv: %w", err)
	}
	return n, cw.Error()
}

// WriteJSONL выгружает все показания по одному JSON объекту на строку
func WriteJSONL(ctx context.Context, s Store, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	n := 0
	err := s.Export(ctx, func(r models.DeviceReading) error {
		n++
		return enc.Encode(r)
	})
	if err != nil {
		return n, fmt.Errorf("failed to export jsonl: %w", err)
	}
	return n, bw.Flush()
}
