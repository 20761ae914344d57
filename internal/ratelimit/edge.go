package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultEdgeBudget applies to classes without a configured budget.
const DefaultEdgeBudget = 100

// EdgeLimiter applies a per-minute request budget to each client address,
// one fixed window per path class. Windows live in a process-local store.
type EdgeLimiter struct {
	mu      sync.RWMutex
	classes map[string]*FixedWindow
	store   *MemoryStore
	now     func() time.Time
}

// NewEdgeLimiter takes per-minute budgets by class.
func NewEdgeLimiter(perMinute map[string]int) *EdgeLimiter {
	e := &EdgeLimiter{
		classes: make(map[string]*FixedWindow),
		store:   NewMemoryStore(),
		now:     time.Now,
	}
	e.SetBudgets(perMinute)
	return e
}

func edgeLimits(n int) Limits {
	if n <= 0 {
		n = DefaultEdgeBudget
	}
	return Limits{MaxRequests: n, Window: time.Minute}
}

// SetBudgets replaces the per-minute budgets. Counts in open windows carry over.
func (e *EdgeLimiter) SetBudgets(perMinute map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for class, n := range perMinute {
		if fw, ok := e.classes[class]; ok {
			fw.SetLimits(edgeLimits(n))
			continue
		}
		e.classes[class] = e.newWindow(edgeLimits(n))
	}
}

func (e *EdgeLimiter) newWindow(l Limits) *FixedWindow {
	fw := NewFixedWindow(e.store, l)
	fw.now = func() time.Time { return e.now() }
	return fw
}

func (e *EdgeLimiter) window(class string) *FixedWindow {
	e.mu.RLock()
	fw, ok := e.classes[class]
	e.mu.RUnlock()
	if ok {
		return fw
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if fw, ok := e.classes[class]; ok {
		return fw
	}
	fw = e.newWindow(edgeLimits(0))
	e.classes[class] = fw
	return fw
}

// Budget returns the per-minute budget of class.
func (e *EdgeLimiter) Budget(class string) int {
	return e.window(class).Limits().MaxRequests
}

// Allow reports whether addr may make another request in class.
func (e *EdgeLimiter) Allow(ctx context.Context, class, addr string) bool {
	d, err := e.window(class).Allow(ctx, "edge:"+class+":"+addr, 0)
	if err != nil {
		slog.Warn("edge limiter store failed", "class", class, "error", err)
		return true
	}
	return d.Allowed
}

// Cleanup drops windows that have fully elapsed.
func (e *EdgeLimiter) Cleanup(ctx context.Context) (int, error) {
	return e.store.Sweep(ctx, e.now().Add(-time.Minute))
}
