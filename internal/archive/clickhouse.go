// Package archive выгружает показания в ClickHouse для офлайн анализа
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"fault-telemetry-service/internal/models"
	"fault-telemetry-service/internal/store"
)

// ReadingsArchiveTableSQL таблица архива. ReplacingMergeTree схлопывает повторные
// выгрузки одного и того же показания.
const ReadingsArchiveTableSQL = `
	CREATE TABLE IF NOT EXISTS device_readings (
		device_id String,
		timestamp DateTime64(3, 'UTC'),
		temperature Float64,
		vibration Float64,
		status LowCardinality(String)
	) ENGINE = ReplacingMergeTree()
	ORDER BY (device_id, timestamp)
	PARTITION BY toYYYYMM(timestamp)
`

const insertSQL = `INSERT INTO device_readings (device_id, timestamp, temperature, vibration, status)`

// DefaultBatchSize число строк в одной пачке вставки
const DefaultBatchSize = 1000

// Options параметры подключения
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseArchive приемник архива
type ClickHouseArchive struct {
	conn      driver.Conn
	batchSize int
}

// NewClickHouseArchive подключается к ClickHouse и создает таблицу
func NewClickHouseArchive(ctx context.Context, opts Options) (*ClickHouseArchive, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, ReadingsArchiveTableSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create archive table: %w", err)
	}

	slog.Info("connected to ClickHouse", "addr", opts.Addr, "database", opts.Database)
	return &ClickHouseArchive{conn: conn, batchSize: DefaultBatchSize}, nil
}

// Write вставляет показания одной пачкой
func (a *ClickHouseArchive) Write(ctx context.Context, readings []models.DeviceReading) error {
	if len(readings) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range readings {
		if err := batch.Append(r.DeviceID, r.Timestamp, r.Temperature, r.Vibration, string(r.Status)); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Sync выгружает все хранилище пачками по batchSize
func (a *ClickHouseArchive) Sync(ctx context.Context, s store.Store) (int, error) {
	return Copy(ctx, s, a.batchSize, a.Write)
}

// Count возвращает число строк в архиве
func (a *ClickHouseArchive) Count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := a.conn.QueryRow(ctx, `SELECT count() FROM device_readings FINAL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archive rows: %w", err)
	}
	return n, nil
}

// Close закрывает соединение
func (a *ClickHouseArchive) Close() error {
	return a.conn.Close()
}

// Copy обходит хранилище и передает показания в write пачками по size
func Copy(ctx context.Context, s store.Store, size int, write func(context.Context, []models.DeviceReading) error) (int, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	total := 0
	buf := make([]models.DeviceReading, 0, size)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := write(ctx, buf); err != nil {
			return err
		}
		total += len(buf)
		buf = buf[:0]
		return nil
	}

	err := s.Export(ctx, func(r models.DeviceReading) error {
		buf = append(buf, r)
		if len(buf) >= size {
			return flush()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, flush()
}
