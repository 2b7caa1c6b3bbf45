package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

// ReadingsTableSQL создает таблицу показаний. Первичный ключ гарантирует
// уникальность (device_id, ts).
const ReadingsTableSQL = `
	CREATE TABLE IF NOT EXISTS device_readings (
		device_id   TEXT             NOT NULL,
		ts          TIMESTAMPTZ      NOT NULL,
		temperature DOUBLE PRECISION NOT NULL,
		vibration   DOUBLE PRECISION NOT NULL,
		status      TEXT             NOT NULL,
		PRIMARY KEY (device_id, ts)
	)
`

// PostgresStore хранит показания в Postgres (TimescaleDB совместимо)
type PostgresStore struct {
	pool  *pgxpool.Pool
	cls   *classifier.Classifier
	fleet Fleet
}

// NewPostgresStore подключается к Postgres и создает схему
func NewPostgresStore(ctx context.Context, url string, cls *classifier.Classifier, fleet Fleet) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("invalid Postgres config: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, ReadingsTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{pool: pool, cls: cls, fleet: fleet}, nil
}

// Append сохраняет показание. Advisory lock на устройство сериализует
// проверку порядка и вставку в рамках транзакции.
func (s *PostgresStore) Append(ctx context.Context, r models.DeviceReading) (models.DeviceReading, error) {
	r, err := prepare(s.cls, s.fleet, r)
	if err != nil {
		return r, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return r, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.DeviceID); err != nil {
		return r, fmt.Errorf("failed to lock device: %w", err)
	}

	var last *time.Time
	if err := tx.QueryRow(ctx,
		`SELECT max(ts) FROM device_readings WHERE device_id = $1`, r.DeviceID,
	).Scan(&last); err != nil {
		return r, fmt.Errorf("failed to read latest timestamp: %w", err)
	}
	if last != nil && last.After(r.Timestamp) {
		return r, fmt.Errorf("%w: %s at %s", ErrOutOfOrder, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO device_readings (device_id, ts, temperature, vibration, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id, ts) DO NOTHING
	`, r.DeviceID, r.Timestamp, r.Temperature, r.Vibration, string(r.Status))
	if err != nil {
		return r, fmt.Errorf("failed to insert reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r, fmt.Errorf("%w: %s at %s", ErrConflict, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
	}

	if err := tx.Commit(ctx); err != nil {
		return r, fmt.Errorf("failed to commit reading: %w", err)
	}
	return r, nil
}

// Query возвращает показания в окне [from, to]
func (s *PostgresStore) Query(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error) {
	if err := checkReadable(s.fleet, deviceID); err != nil {
		return nil, err
	}
	if from.After(to) {
		return []models.DeviceReading{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT device_id, ts, temperature, vibration, status
		FROM device_readings
		WHERE device_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
	`, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.DeviceReading, 0, 64)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Latest возвращает последнее показание
func (s *PostgresStore) Latest(ctx context.Context, deviceID string) (models.DeviceReading, error) {
	if err := checkReadable(s.fleet, deviceID); err != nil {
		return models.DeviceReading{}, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT device_id, ts, temperature, vibration, status
		FROM device_readings
		WHERE device_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, deviceID)

	r, err := scanReading(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.DeviceReading{}, fmt.Errorf("%w: no readings for %s", ErrNotFound, deviceID)
	}
	return r, err
}

// Devices возвращает устройства с показаниями
func (s *PostgresStore) Devices(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT device_id FROM device_readings ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Export обходит все показания одним курсором
func (s *PostgresStore) Export(ctx context.Context, fn func(models.DeviceReading) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, ts, temperature, vibration, status
		FROM device_readings
		ORDER BY device_id ASC, ts ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to export readings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ping проверяет соединение
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanReading(row pgx.Row) (models.DeviceReading, error) {
	var (
		r      models.DeviceReading
		status string
	)
	if err := row.Scan(&r.DeviceID, &r.Timestamp, &r.Temperature, &r.Vibration, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan reading: %w", err)
	}
	r.Status = models.RiskTier(status)
	r.Timestamp = r.Timestamp.UTC()
	return r, nil
}
