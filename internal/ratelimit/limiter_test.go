package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newLimiter(store Store, limits Limits) (*FixedWindow, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := NewFixedWindow(store, limits)
	f.now = clock.Now
	return f, clock
}

func testRequestBoundary(t *testing.T, store Store) {
	ctx := context.Background()
	f, clock := newLimiter(store, Limits{MaxRequests: 10, MaxUnits: 1000, Window: time.Minute})

	for i := 0; i < 10; i++ {
		d, err := f.Allow(ctx, "u1", 5)
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed {
			t.Fatalf("request %d rejected: %+v", i+1, d)
		}
		clock.Advance(time.Second)
	}
	d, err := f.Allow(ctx, "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.Reason != ReasonRequests {
		t.Fatalf("11th request = %+v, want rejected for requests", d)
	}

	other, _ := f.Allow(ctx, "u2", 5)
	if !other.Allowed {
		t.Error("separate caller was limited")
	}

	clock.Advance(time.Minute - 11*time.Second)
	if d, _ := f.Allow(ctx, "u1", 5); d.Allowed {
		t.Errorf("request just before window end allowed: %+v", d)
	}
	clock.Advance(time.Second)
	if d, _ := f.Allow(ctx, "u1", 5); !d.Allowed {
		t.Errorf("request after window elapsed rejected: %+v", d)
	}
}

func TestFixedWindowRequestBoundary(t *testing.T) {
	testRequestBoundary(t, NewMemoryStore())
}

func TestFixedWindowUnits(t *testing.T) {
	ctx := context.Background()
	f, clock := newLimiter(NewMemoryStore(), Limits{MaxRequests: 10, MaxUnits: 1000, Window: time.Minute})

	if d, _ := f.Allow(ctx, "u1", 600); !d.Allowed {
		t.Fatal("first request rejected")
	}
	if d, _ := f.Allow(ctx, "u1", 400); !d.Allowed {
		t.Fatal("request reaching exactly the unit cap rejected")
	}
	d, _ := f.Allow(ctx, "u1", 1)
	if d.Allowed || d.Reason != ReasonUnits {
		t.Fatalf("over unit cap = %+v", d)
	}
	if !d.ResetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Errorf("reset at %v", d.ResetAt)
	}

	if d, _ := f.Allow(ctx, "big", 1001); d.Allowed || d.Reason != ReasonUnits {
		t.Errorf("oversize first request = %+v, want rejected", d)
	}
	if _, ok, _ := f.store.Get(ctx, "big"); ok {
		t.Error("rejected first request opened a window")
	}
}

func TestFixedWindowAtomicUnderConcurrency(t *testing.T) {
	f, _ := newLimiter(NewMemoryStore(), Limits{MaxRequests: 10, Window: time.Minute})
	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := f.Allow(context.Background(), "u1", 1); err == nil && d.Allowed {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	if allowed != 10 {
		t.Errorf("allowed %d concurrent requests, want 10", allowed)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f, clock := newLimiter(store, Limits{MaxRequests: 1, Window: time.Minute})
	f.Allow(ctx, "old", 1)
	clock.Advance(30 * time.Second)
	f.Allow(ctx, "new", 1)
	clock.Advance(45 * time.Second)

	n, err := f.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || store.Len() != 1 {
		t.Errorf("swept %d, %d left; want 1 and 1", n, store.Len())
	}
	if _, ok, _ := store.Get(ctx, "new"); !ok {
		t.Error("live window swept")
	}
}

func TestSweeper(t *testing.T) {
	if _, err := NewSweeper("every five minutes"); err == nil {
		t.Error("invalid schedule accepted")
	}
	s, err := NewSweeper("@every 5m")
	if err != nil {
		t.Fatal(err)
	}
	s.Add("windows", func(context.Context) (int, error) { return 3, nil })
	s.Add("broken", func(context.Context) (int, error) { return 0, errors.New("store down") })

	records := s.RunOnce(context.Background())
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Task != "windows" || records[0].Removed != 3 || records[0].Error != "" {
		t.Errorf("record[0] = %+v", records[0])
	}
	if records[1].Error != "store down" {
		t.Errorf("record[1] = %+v", records[1])
	}
	if len(s.Runs()) != 2 {
		t.Errorf("runs = %d", len(s.Runs()))
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()
}

func TestEdgeLimiter(t *testing.T) {
	ctx := context.Background()
	e := NewEdgeLimiter(map[string]int{"auth": 3, "api": 60})
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	e.now = clock.Now

	for i := 0; i < 3; i++ {
		if !e.Allow(ctx, "auth", "10.0.0.1") {
			t.Fatalf("auth request %d rejected", i+1)
		}
	}
	if e.Allow(ctx, "auth", "10.0.0.1") {
		t.Error("fourth auth request allowed")
	}
	if !e.Allow(ctx, "auth", "10.0.0.2") {
		t.Error("other address limited")
	}
	if !e.Allow(ctx, "api", "10.0.0.1") {
		t.Error("api class shares the auth window")
	}

	// A fixed window does not refill part way through.
	clock.Advance(59 * time.Second)
	if e.Allow(ctx, "auth", "10.0.0.1") {
		t.Error("request allowed before the window elapsed")
	}
	clock.Advance(time.Second)
	if !e.Allow(ctx, "auth", "10.0.0.1") {
		t.Error("request rejected after the window elapsed")
	}

	if got := e.Budget("unknown"); got != DefaultEdgeBudget {
		t.Errorf("unknown class budget = %d, want %d", got, DefaultEdgeBudget)
	}

	clock.Advance(2 * time.Minute)
	if n, err := e.Cleanup(ctx); err != nil || n != 3 {
		t.Errorf("Cleanup() = %d, %v, want 3 windows", n, err)
	}
}

func TestEdgeLimiterSetBudgets(t *testing.T) {
	ctx := context.Background()
	e := NewEdgeLimiter(map[string]int{"auth": 5})
	for i := 0; i < 2; i++ {
		e.Allow(ctx, "auth", "10.0.0.1")
	}
	e.SetBudgets(map[string]int{"auth": 2})
	if e.Budget("auth") != 2 {
		t.Fatalf("budget = %d, want 2", e.Budget("auth"))
	}
	if e.Allow(ctx, "auth", "10.0.0.1") {
		t.Error("request allowed over the lowered budget")
	}
}

func TestFixedWindowSetLimits(t *testing.T) {
	ctx := context.Background()
	f, _ := newLimiter(NewMemoryStore(), Limits{MaxRequests: 1, Window: time.Minute})
	f.Allow(ctx, "u1", 0)
	if d, _ := f.Allow(ctx, "u1", 0); d.Allowed {
		t.Fatal("second request allowed at limit 1")
	}
	f.SetLimits(Limits{MaxRequests: 3})
	if got := f.Limits(); got.MaxRequests != 3 || got.Window != time.Minute {
		t.Errorf("Limits() = %+v", got)
	}
	if d, _ := f.Allow(ctx, "u1", 0); !d.Allowed {
		t.Error("request rejected after raising the limit")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CITYCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CITYCHAT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	prefix := "citychat:test:" + time.Now().Format("150405.000000") + ":"
	store := NewRedisStore(client, prefix)
	defer store.Sweep(context.Background(), time.Now().Add(time.Hour))

	testRequestBoundary(t, store)

	f, _ := newLimiter(store, Limits{MaxRequests: 5, Window: time.Minute})
	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := f.Allow(context.Background(), "race", 1); err == nil && d.Allowed {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Errorf("allowed %d concurrent requests, want 5", allowed)
	}
}
