package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/turnforge/internal/adapter/tiered"
)

// memCache records values and the TTL each was stored with.
type memCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

// downCache fails every call.
type downCache struct{}

var errDown = errors.New("unavailable")

func (downCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, errDown }
func (downCache) Set(context.Context, string, []byte, time.Duration) error { return errDown }
func (downCache) Delete(context.Context, string) error                     { return errDown }

const key = "idem:POST:/api/v1/sessions/s1/turns:k1"

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l1.data[key] = []byte("l1")
	l2.data[key] = []byte("l2")

	val, found, err := c.Get(context.Background(), key)
	if err != nil || !found || string(val) != "l1" {
		t.Fatalf("Get = %q %t %v, want the L1 value", val, found, err)
	}
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l2.data[key] = []byte("resp")

	val, found, err := c.Get(context.Background(), key)
	if err != nil || !found || string(val) != "resp" {
		t.Fatalf("Get = %q %t %v", val, found, err)
	}
	if string(l1.data[key]) != "resp" || l1.ttls[key] != time.Minute {
		t.Fatalf("backfill = %q ttl %v", l1.data[key], l1.ttls[key])
	}
}

func TestTiered_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), time.Minute)
	if _, found, err := c.Get(context.Background(), "missing"); found || err != nil {
		t.Fatalf("found=%t err=%v, want a miss", found, err)
	}
}

func TestTiered_SetCapsL1TTL(t *testing.T) {
	tests := []struct {
		name   string
		ttl    time.Duration
		wantL1 time.Duration
	}{
		{"longer than l1", time.Hour, time.Minute},
		{"shorter than l1", 10 * time.Second, 10 * time.Second},
		{"no ttl", 0, time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l1, l2 := newMemCache(), newMemCache()
			c := tiered.New(l1, l2, time.Minute)

			if err := c.Set(context.Background(), key, []byte("resp"), tt.ttl); err != nil {
				t.Fatal(err)
			}
			if l2.ttls[key] != tt.ttl {
				t.Errorf("l2 ttl = %v, want %v", l2.ttls[key], tt.ttl)
			}
			if l1.ttls[key] != tt.wantL1 {
				t.Errorf("l1 ttl = %v, want %v", l1.ttls[key], tt.wantL1)
			}
		})
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l1.data[key] = []byte("v")
	l2.data[key] = []byte("v")

	if err := c.Delete(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if len(l1.data) != 0 || len(l2.data) != 0 {
		t.Fatalf("l1=%v l2=%v, want both empty", l1.data, l2.data)
	}
}

func TestTiered_OneLevelDownDegrades(t *testing.T) {
	ctx := context.Background()

	t.Run("l2 down", func(t *testing.T) {
		l1 := newMemCache()
		c := tiered.New(l1, downCache{}, time.Minute)
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if val, found, err := c.Get(ctx, key); err != nil || !found || string(val) != "v" {
			t.Fatalf("Get = %q %t %v", val, found, err)
		}
		if _, found, err := c.Get(ctx, "absent"); found || err != nil {
			t.Fatalf("miss: found=%t err=%v", found, err)
		}
	})

	t.Run("l1 rejects", func(t *testing.T) {
		l2 := newMemCache()
		c := tiered.New(downCache{}, l2, time.Minute)
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
		if val, found, err := c.Get(ctx, key); err != nil || !found || string(val) != "v" {
			t.Fatalf("Get = %q %t %v", val, found, err)
		}
	})

	t.Run("both down", func(t *testing.T) {
		c := tiered.New(downCache{}, downCache{}, time.Minute)
		if err := c.Set(ctx, key, []byte("v"), time.Minute); err == nil {
			t.Fatal("expected an error when no level stores the value")
		}
	})
}
