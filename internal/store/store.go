// Package store реализует append-only журнал показаний телеметрии
// Ключ показания - пара (device_id, timestamp). Повторная запись того же ключа
// является конфликтом, а не обновлением.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

var (
	// ErrConflict показание с таким (device_id, timestamp) уже существует
	ErrConflict = errors.New("reading already exists")
	// ErrOutOfOrder метка времени раньше последнего показания устройства
	ErrOutOfOrder = fmt.Errorf("%w: timestamp precedes latest reading", ErrConflict)
	// ErrNotFound у устройства нет показаний или устройство неизвестно
	ErrNotFound = errors.New("not found")
	// ErrUnknownDevice устройство не входит в парк
	ErrUnknownDevice = errors.New("unknown device")
)

// Store журнал показаний
type Store interface {
	// Append атомарно проверяет уникальность ключа и сохраняет показание.
	// Поле status пересчитывается из temperature/vibration.
	Append(ctx context.Context, r models.DeviceReading) (models.DeviceReading, error)
	// Query возвращает показания устройства в окне [from, to] по возрастанию времени
	Query(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error)
	// Latest возвращает последнее показание устройства или ErrNotFound
	Latest(ctx context.Context, deviceID string) (models.DeviceReading, error)
	// Devices возвращает отсортированный список устройств с показаниями
	Devices(ctx context.Context) ([]string, error)
	// Export обходит все показания в порядке (device_id, timestamp)
	Export(ctx context.Context, fn func(models.DeviceReading) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Fleet множество известных устройств. Пустой Fleet принимает любое устройство.
type Fleet map[string]struct{}

// NewFleet создает множество устройств парка
func NewFleet(ids []string) Fleet {
	f := make(Fleet, len(ids))
	for _, id := range ids {
		f[id] = struct{}{}
	}
	return f
}

// Known проверяет, входит ли устройство в парк
func (f Fleet) Known(id string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[id]
	return ok
}

// prepare проверяет показание и пересчитывает статус общим классификатором
func prepare(cls *classifier.Classifier, fleet Fleet, r models.DeviceReading) (models.DeviceReading, error) {
	if r.DeviceID == "" {
		return r, fmt.Errorf("%w: empty device id", ErrUnknownDevice)
	}
	if !fleet.Known(r.DeviceID) {
		return r, fmt.Errorf("%w: %s", ErrUnknownDevice, r.DeviceID)
	}
	if r.Timestamp.IsZero() {
		return r, fmt.Errorf("%w: timestamp is required", classifier.ErrInvalidInput)
	}
	status, err := cls.Status(r.Temperature, r.Vibration)
	if err != nil {
		return r, err
	}
	r = r.Normalize()
	r.Status = status
	return r, nil
}

// checkReadable возвращает ErrNotFound для устройств вне парка
func checkReadable(fleet Fleet, deviceID string) error {
	if !fleet.Known(deviceID) {
		return fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
