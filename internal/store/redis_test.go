package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"fault-telemetry-service/internal/classifier"
	"fault-telemetry-service/internal/models"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()}, classifier.Default(), NewFleet(testFleet))
	if err != nil {
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStore_Layout(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, reading("device-002", base, 60, 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	members, err := mr.ZMembers(ReadingsKeyPrefix + "device-002")
	if err != nil {
		t.Fatalf("Expected sorted set for device: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("Expected 1 member, got %d", len(members))
	}

	score, err := mr.ZScore(ReadingsKeyPrefix+"device-002", members[0])
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if int64(score) != base.UnixMilli() {
		t.Errorf("Expected score %d, got %v", base.UnixMilli(), score)
	}

	ok, _ := mr.SIsMember(DevicesKey, "device-002")
	if !ok {
		t.Error("Expected device in devices set")
	}
}

func TestRedisStore_QuerySubMillisecondBounds(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, reading("device-001", base, 60, 1)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, _ := s.Query(ctx, "device-001", base.Add(500*time.Microsecond), base.Add(time.Second))
	if len(got) != 0 {
		t.Errorf("Expected reading before from to be excluded, got %d", len(got))
	}
	got, _ = s.Query(ctx, "device-001", base.Add(-time.Second), base.Add(500*time.Microsecond))
	if len(got) != 1 {
		t.Errorf("Expected reading within range, got %d", len(got))
	}
}

func TestRedisStore_ExportPaging(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	total := exportPageSize + 7
	for i := 0; i < total; i++ {
		if _, err := s.Append(ctx, reading("device-001", base.Add(time.Duration(i)*time.Second), 60, 1)); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	count := 0
	var last time.Time
	err := s.Export(ctx, func(r models.DeviceReading) error {
		if !last.IsZero() && !r.Timestamp.After(last) {
			t.Fatalf("Export out of order at %d", count)
		}
		last = r.Timestamp
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if count != total {
		t.Errorf("Expected %d exported readings, got %d", total, count)
	}
}

func TestRedisStore_Ping(t *testing.T) {
	s, _ := newTestRedisStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Unexpected ping error: %v", err)
	}
}
