package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bsvalues/TerraBuild-sub001/internal/adapter/tiered"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l1.data["export.c1.json"] = []byte("{}")

	val, found, err := c.Get(context.Background(), "export.c1.json")
	if err != nil || !found || string(val) != "{}" {
		t.Fatalf("expected L1 hit, got found=%v val=%q err=%v", found, val, err)
	}
}

func TestTiered_L2HitBackfills(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l2.data["export.c2.csv"] = []byte("input,output\n")

	val, found, err := c.Get(context.Background(), "export.c2.csv")
	if err != nil || !found {
		t.Fatalf("expected L2 hit, got found=%v err=%v", found, err)
	}
	if string(val) != "input,output\n" {
		t.Fatalf("unexpected value %q", val)
	}
	if _, ok := l1.data["export.c2.csv"]; !ok {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), time.Minute)
	_, found, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetAndDeleteBoth(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Fatal("expected k in L1")
	}
	if _, ok := l2.data["k"]; !ok {
		t.Fatal("expected k in L2")
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if len(l1.data) != 0 || len(l2.data) != 0 {
		t.Fatalf("expected both levels empty, got l1=%v l2=%v", l1.data, l2.data)
	}
}

func TestTiered_L2FailureDegradesToL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats: no responders")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set should tolerate L2 failure: %v", err)
	}
	if _, found, err := c.Get(ctx, "k"); err != nil || !found {
		t.Fatalf("expected L1 hit, got found=%v err=%v", found, err)
	}
	if _, found, err := c.Get(ctx, "other"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete should tolerate L2 failure: %v", err)
	}
}

func TestTiered_StatsAndL1TTLCap(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "long", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if l1.ttls["long"] != time.Minute || l2.ttls["long"] != time.Hour {
		t.Fatalf("ttl l1=%v l2=%v, want 1m and 1h", l1.ttls["long"], l2.ttls["long"])
	}

	l2.data["remote"] = []byte("r")
	_, _, _ = c.Get(ctx, "long")
	_, _, _ = c.Get(ctx, "remote")
	_, _, _ = c.Get(ctx, "nothing")

	st := c.Stats()
	if st.L1Hits != 1 || st.L2Hits != 1 || st.Misses != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
