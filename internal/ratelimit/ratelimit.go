// Package ratelimit bounds how many publishes may happen per rolling hour and
// per calendar day.
//
// Counters live in memory under one mutex (check-then-increment is a single
// critical section) and are written through to storage best-effort so a
// restart does not forget budget that was already spent. Expired windows are
// treated as absent on read; the sweep only bounds memory growth.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"threadcast/internal/storage"
	"threadcast/pkg/logx"
)

type Config struct {
	MaxPerHour int
	MaxPerDay  int
}

const (
	defaultMaxPerHour = 50
	defaultMaxPerDay  = 300

	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	persistTimeout = 250 * time.Millisecond
)

type window struct {
	count   int
	resetAt time.Time
}

// WindowStatus is a read-only view of one bucket.
type WindowStatus struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Status mirrors the caller-facing rate limit surface: current counts, reset
// times and ceilings.
type Status struct {
	Hourly     WindowStatus `json:"hourly"`
	Daily      WindowStatus `json:"daily"`
	MaxPerHour int          `json:"max_per_hour"`
	MaxPerDay  int          `json:"max_per_day"`
}

// Limiter tracks publish counts in hourly and daily buckets.
//
// It cannot fail; it only answers false.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string]window

	store storage.Store // optional write-through
	log   logx.Logger
}

// New builds a limiter, restoring unexpired windows from the store when one
// is provided.
func New(cfg Config, store storage.Store, log logx.Logger) *Limiter {
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = defaultMaxPerHour
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = defaultMaxPerDay
	}
	l := &Limiter{cfg: cfg, windows: map[string]window{}, store: store, log: log}

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ws, err := store.ListRateWindows(ctx, time.Now())
		if err != nil {
			log.Warn("rate windows restore failed", logx.Err(err))
		} else {
			for _, w := range ws {
				l.windows[w.Bucket] = window{count: w.Count, resetAt: w.ResetAt}
			}
			if len(ws) > 0 {
				log.Debug("rate windows restored", logx.Int("windows", len(ws)))
			}
		}
	}
	return l
}

// Apply swaps the ceilings. Existing window counts are kept; a lowered
// ceiling takes effect on the next Allow/Acquire.
func (l *Limiter) Apply(cfg Config) {
	if cfg.MaxPerHour <= 0 {
		cfg.MaxPerHour = defaultMaxPerHour
	}
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = defaultMaxPerDay
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func hourKey(now time.Time) string { return fmt.Sprintf("hourly_%02d", now.Hour()) }
func dayKey(now time.Time) string  { return "daily_" + now.Format("2006-01-02") }

// live returns the bucket's window, treating expired entries as absent.
func (l *Limiter) live(key string, now time.Time) (window, bool) {
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return window{}, false
	}
	return w, true
}

// Allow reports whether a publish may happen now. No side effects.
func (l *Limiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowLocked(now)
}

func (l *Limiter) allowLocked(now time.Time) bool {
	if w, ok := l.live(hourKey(now), now); ok && w.count >= l.cfg.MaxPerHour {
		return false
	}
	if w, ok := l.live(dayKey(now), now); ok && w.count >= l.cfg.MaxPerDay {
		return false
	}
	return true
}

// Record counts one publish against both buckets, creating them on first use.
func (l *Limiter) Record(now time.Time) {
	l.mu.Lock()
	h, d := l.recordLocked(now)
	l.mu.Unlock()
	l.persist(h, d)
}

func (l *Limiter) recordLocked(now time.Time) (hourly, daily storage.RateWindow) {
	hk, dk := hourKey(now), dayKey(now)

	hw, ok := l.live(hk, now)
	if !ok {
		hw = window{resetAt: now.Add(hourWindow)}
	}
	hw.count++
	l.windows[hk] = hw

	dw, ok := l.live(dk, now)
	if !ok {
		dw = window{resetAt: now.Add(dayWindow)}
	}
	dw.count++
	l.windows[dk] = dw

	return storage.RateWindow{Bucket: hk, Count: hw.count, ResetAt: hw.resetAt},
		storage.RateWindow{Bucket: dk, Count: dw.count, ResetAt: dw.resetAt}
}

// Acquire performs check-then-increment atomically: it records the publish
// only if both ceilings still have room. Concurrent publishers can never both
// pass a ceiling that only one can satisfy.
func (l *Limiter) Acquire(now time.Time) bool {
	l.mu.Lock()
	if !l.allowLocked(now) {
		l.mu.Unlock()
		return false
	}
	h, d := l.recordLocked(now)
	l.mu.Unlock()
	l.persist(h, d)
	return true
}

// persist writes both windows through to the store, best-effort.
func (l *Limiter) persist(ws ...storage.RateWindow) {
	if l.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, w := range ws {
		if err := l.store.PutRateWindow(ctx, w); err != nil {
			l.log.Debug("rate window persist failed", logx.String("bucket", w.Bucket), logx.Err(err))
		}
	}
}

// Status reports current counts and ceilings.
func (l *Limiter) Status(now time.Time) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{MaxPerHour: l.cfg.MaxPerHour, MaxPerDay: l.cfg.MaxPerDay}
	if w, ok := l.live(hourKey(now), now); ok {
		st.Hourly = WindowStatus{Count: w.count, ResetAt: w.resetAt}
	} else {
		st.Hourly = WindowStatus{ResetAt: now.Add(hourWindow)}
	}
	if w, ok := l.live(dayKey(now), now); ok {
		st.Daily = WindowStatus{Count: w.count, ResetAt: w.resetAt}
	} else {
		st.Daily = WindowStatus{ResetAt: now.Add(dayWindow)}
	}
	return st
}

// Sweep drops expired windows from memory and storage. Returns how many
// in-memory entries were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	l.mu.Unlock()

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		_, _ = l.store.PruneRateWindows(ctx, now)
		cancel()
	}
	return n
}
