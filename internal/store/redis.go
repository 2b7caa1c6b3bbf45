package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

const (
	// ReadingsKeyPrefix префикс sorted set показаний устройства (score - unix ms)
	ReadingsKeyPrefix = "readings:"
	// DevicesKey множество устройств, у которых есть показания
	DevicesKey = "readings:devices"
	// exportPageSize размер страницы при выгрузке
	exportPageSize = 500
)

// appendScript атомарно проверяет ключ и порядок, затем добавляет показание.
// Возвращает 0 - записано, 1 - конфликт ключа, 2 - нарушение порядка.
var appendScript = redis.NewScript(`
if redis.call('ZCOUNT', KEYS[1], ARGV[1], ARGV[1]) > 0 then
	return 1
end
local last = redis.call('ZREVRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #last > 0 and tonumber(last[2]) > tonumber(ARGV[1]) then
	return 2
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 0
`)

// RedisOptions параметры подключения к Redis
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore хранит показания в Redis: sorted set на устройство
type RedisStore struct {
	client *redis.Client
	cls    *classifier.Classifier
	fleet  Fleet
}

// NewRedisStore создает новое подключение к Redis
func NewRedisStore(ctx context.Context, opts RedisOptions, cls *classifier.Classifier, fleet Fleet) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		cls:    cls,
		fleet:  fleet,
	}, nil
}

func readingsKey(deviceID string) string {
	return ReadingsKeyPrefix + deviceID
}

// Append сохраняет показание
func (s *RedisStore) Append(ctx context.Context, r models.DeviceReading) (models.DeviceReading, error) {
	r, err := prepare(s.cls, s.fleet, r)
	if err != nil {
		return r, err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return r, fmt.Errorf("failed to marshal reading: %w", err)
	}

	score := strconv.FormatInt(r.Timestamp.UnixMilli(), 10)
	code, err := appendScript.Run(ctx, s.client,
		[]string{readingsKey(r.DeviceID), DevicesKey},
		score, data, r.DeviceID,
	).Int()
	if err != nil {
		return r, fmt.Errorf("failed to append reading: %w", err)
	}

	switch code {
	case 0:
		return r, nil
	case 1:
		return r, fmt.Errorf("%w: %s at %s", ErrConflict, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
	case 2:
		return r, fmt.Errorf("%w: %s at %s", ErrOutOfOrder, r.DeviceID, r.Timestamp.Format(time.RFC3339Nano))
	default:
		return r, fmt.Errorf("unexpected append result %d", code)
	}
}

// Query возвращает показания в окне [from, to]
func (s *RedisStore) Query(ctx context.Context, deviceID string, from, to time.Time) ([]models.DeviceReading, error) {
	if err := checkReadable(s.fleet, deviceID); err != nil {
		return nil, err
	}
	if from.After(to) {
		return []models.DeviceReading{}, nil
	}

	data, err := s.client.ZRangeByScore(ctx, readingsKey(deviceID), &redis.ZRangeBy{
		Min: strconv.FormatInt(ceilMillis(from), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return decodeReadings(data)
}

// Latest возвращает последнее показание
func (s *RedisStore) Latest(ctx context.Context, deviceID string) (models.DeviceReading, error) {
	if err := checkReadable(s.fleet, deviceID); err != nil {
		return models.DeviceReading{}, err
	}

	data, err := s.client.ZRevRange(ctx, readingsKey(deviceID), 0, 0).Result()
	if err != nil {
		return models.DeviceReading{}, fmt.Errorf("failed to get latest reading: %w", err)
	}
	if len(data) == 0 {
		return models.DeviceReading{}, fmt.Errorf("%w: no readings for %s", ErrNotFound, deviceID)
	}

	var r models.DeviceReading
	if err := json.Unmarshal([]byte(data[0]), &r); err != nil {
		return models.DeviceReading{}, fmt.Errorf("failed to unmarshal reading: %w", err)
	}
	return r, nil
}

// Devices возвращает устройства с показаниями
func (s *RedisStore) Devices(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, DevicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Export обходит все показания постранично
func (s *RedisStore) Export(ctx context.Context, fn func(models.DeviceReading) error) error {
	devices, err := s.Devices(ctx)
	if err != nil {
		return err
	}

	for _, id := range devices {
		for start := int64(0); ; start += exportPageSize {
			data, err := s.client.ZRange(ctx, readingsKey(id), start, start+exportPageSize-1).Result()
			if err != nil {
				return fmt.Errorf("failed to export readings for %s: %w", id, err)
			}
			readings, err := decodeReadings(data)
			if err != nil {
				return err
			}
			for _, r := range readings {
				if err := fn(r); err != nil {
					return err
				}
			}
			if len(data) < exportPageSize {
				break
			}
		}
	}
	return nil
}

// Ping проверяет соединение с Redis
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeReadings(data []string) ([]models.DeviceReading, error) {
	readings := make([]models.DeviceReading, 0, len(data))
	for _, d := range data {
		var r models.DeviceReading
		if err := json.Unmarshal([]byte(d), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// ceilMillis округляет время вверх до миллисекунды
func ceilMillis(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.Sub(time.UnixMilli(ms)) > 0 {
		ms++
	}
	return ms
}
