package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/config"
)

// Backend имена поддерживаемых хранилищ
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrNotDurable хранилище живет только в памяти процесса
var ErrNotDurable = errors.New("store backend is not durable")

// Durable сообщает, переживают ли показания завершение процесса
func Durable(backend string) bool {
	return backend == BackendRedis || backend == BackendPostgres
}

// RequireDurable возвращает ErrNotDurable для хранилища в памяти. Нужна
// короткоживущим процессам, чьи записи иначе теряются при выходе.
func RequireDurable(backend string) error {
	if Durable(backend) {
		return nil
	}
	if backend == "" {
		backend = BackendMemory
	}
	return fmt.Errorf("%w: %q, set STORE_BACKEND to %s or %s", ErrNotDurable, backend, BackendRedis, BackendPostgres)
}

// connectAttempts число попыток подключения к внешнему хранилищу
const connectAttempts = 5

// Open создает хранилище по cfg.StoreBackend. Внешние хранилища подключаются
// с повторами и линейной задержкой.
func Open(ctx context.Context, cfg config.Config, cls *classifier.Classifier) (Store, error) {
	fleet := NewFleet(cfg.DeviceIDs)

	switch cfg.StoreBackend {
	case BackendMemory, "":
		return NewMemoryStore(cls, fleet), nil
	case BackendRedis:
		return connect(ctx, cfg.StoreBackend, func() (Store, error) {
			return NewRedisStore(ctx, RedisOptions{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, cls, fleet)
		})
	case BackendPostgres:
		return connect(ctx, cfg.StoreBackend, func() (Store, error) {
			return NewPostgresStore(ctx, cfg.PostgresURL, cls, fleet)
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func connect(ctx context.Context, backend string, dial func() (Store, error)) (Store, error) {
	var err error
	for i := 0; i < connectAttempts; i++ {
		var s Store
		s, err = dial()
		if err == nil {
			slog.Info("connected to store", "backend", backend)
			return s, nil
		}
		slog.Warn("store connection attempt failed", "backend", backend, "attempt", i+1, "error", err)
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", backend, connectAttempts, err)
}
