package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// Rejection reasons.
const (
	ReasonRequests = "requests"
	ReasonUnits    = "units"
)

// Limits caps one caller per window. MaxUnits <= 0 disables the unit cap.
type Limits struct {
	MaxRequests int
	MaxUnits    int
	Window      time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Reason  string
	ResetAt time.Time
}

// FixedWindow counts requests and units (characters, bytes) per key. A
// window opens on the first request after the previous one has fully
// elapsed; it does not slide.
type FixedWindow struct {
	store  Store
	limits atomic.Pointer[Limits]
	now    func() time.Time
}

func NewFixedWindow(store Store, limits Limits) *FixedWindow {
	f := &FixedWindow{store: store, now: time.Now}
	f.SetLimits(limits)
	return f
}

// Limits returns the configured caps.
func (f *FixedWindow) Limits() Limits { return *f.limits.Load() }

// SetLimits replaces the caps. Open windows keep their counts and are judged
// against the new caps from the next request on.
func (f *FixedWindow) SetLimits(limits Limits) {
	if limits.Window <= 0 {
		limits.Window = time.Minute
	}
	f.limits.Store(&limits)
}

// Allow charges one request of the given units to key if both caps allow it.
func (f *FixedWindow) Allow(ctx context.Context, key string, units int) (Decision, error) {
	now := f.now()
	lim := f.Limits()
	var d Decision
	_, err := f.store.Update(ctx, key, lim.Window, func(cur Window, exists bool) (Window, bool) {
		if !exists || now.Sub(cur.Start) >= lim.Window {
			d.ResetAt = now.Add(lim.Window)
			if lim.MaxUnits > 0 && units > lim.MaxUnits {
				d.Reason = ReasonUnits
				return cur, false
			}
			d.Allowed = true
			return Window{Count: 1, Units: units, Start: now}, true
		}

		d.ResetAt = cur.Start.Add(lim.Window)
		if cur.Count >= lim.MaxRequests {
			d.Reason = ReasonRequests
			return cur, false
		}
		if lim.MaxUnits > 0 && cur.Units+units > lim.MaxUnits {
			d.Reason = ReasonUnits
			return cur, false
		}
		d.Allowed = true
		return Window{Count: cur.Count + 1, Units: cur.Units + units, Start: cur.Start}, true
	})
	if err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Sweep drops windows that have fully elapsed.
func (f *FixedWindow) Sweep(ctx context.Context) (int, error) {
	return f.store.Sweep(ctx, f.now().Add(-f.Limits().Window))
}
