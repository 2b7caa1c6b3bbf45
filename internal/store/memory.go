package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

// MemoryStore хранилище в памяти процесса. Показания устройства хранятся
// отсортированными по времени; проверка и вставка выполняются под одним мьютексом.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[string][]models.DeviceReading
	cls      *classifier.Classifier
	fleet    Fleet
}

// NewMemoryStore создает хранилище в памяти
func NewMemoryStore(cls *classifier.Classifier, fleet Fleet) *MemoryStore {
	return &MemoryStore{
		readings: make(map[string][]models.DeviceReading),
		cls:      cls,
		fleet:    fleet,
	}
}

// Append сохраняет показание
func (m *MemoryStore) Append(ctx context.Context, r models.DeviceReading) (models.DeviceReading, error) {
	r, err := prepare(m.cls, m.fleet, r)
	if err != nil {
		return r, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.readings[r.DeviceID]
	if n := len(history); n > 0 {
		last := history[n-1].Timestamp
		switch {
		case last.Equal(r.Timestamp):
			return r, fmt.Errorf("%w: %s at %s", ErrConflict, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
		case last.After(r.Timestamp):
			return r, fmt.Errorf("%w: %s at %s", ErrOutOfOrder, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
		}
	}

	m.readings[r.DeviceID] = append(history, r)
	return r, nil
}

// Query возвращает показания в окне [from, to]
func (m *MemoryStore) Query(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error) {
	if err := checkReadable(m.fleet, deviceID); err != nil {
		return nil, err
	}
	result := make([]models.DeviceReading, 0)
	if from.After(to) {
		return result, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.readings[deviceID]
	start := sort.Search(len(history), func(i int) bool {
		return !history[i].Timestamp.Before(from)
	})
	for i := start; i < len(history) && !history[i].Timestamp.After(to); i++ {
		result = append(result, history[i])
	}
	return result, nil
}

// Latest возвращает последнее показание
func (m *MemoryStore) Latest(ctx context.Context, deviceID string) (models.DeviceReading, error) {
	if err := checkReadable(m.fleet, deviceID); err != nil {
		return models.DeviceReading{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.readings[deviceID]
	if len(history) == 0 {
		return models.DeviceReading{}, fmt.Errorf("%w: no readings for %s", ErrNotFound, deviceID)
	}
	return history[len(history)-1], nil
}

// Devices возвращает устройства с показаниями
func (m *MemoryStore) Devices(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.readings), nil
}

// Export обходит все показания. Снимок делается под блокировкой чтения,
// fn вызывается без блокировки.
func (m *MemoryStore) Export(ctx context.Context, fn func(models.DeviceReading) error) error {
	m.mu.RLock()
	devices := sortedKeys(m.readings)
	snapshot := make([]models.DeviceReading, 0)
	for _, id := range devices {
		snapshot = append(snapshot, m.readings[id]...)
	}
	m.mu.RUnlock()

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Ping всегда успешен
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close ничего не освобождает
func (m *MemoryStore) Close() error {
	return nil
}
