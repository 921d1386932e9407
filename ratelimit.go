package main

import (
	"log"
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter counts requests per (route, identity) in fixed windows.
// A window's count is only compared while resetAt is in the future; an
// expired window is replaced, never incremented. Because windows are fixed
// rather than sliding, a client can land up to 2*max-1 requests across a
// window boundary. That is an accepted cost trade-off and is pinned by a
// test so it cannot regress silently.
//
// State is per-process only; horizontally scaled deployments get one
// independent limiter per instance.
type FixedWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string]*rateWindow
	maxEntries int

	stopOnce sync.Once
	done     chan struct{}
}

// NewFixedWindowLimiter creates a limiter whose backing map is hard-capped
// at maxEntries. When the cap is exceeded the whole map is cleared: under an
// identity-spoofing flood, bounded memory beats per-key precision.
func NewFixedWindowLimiter(maxEntries int) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		windows:    make(map[string]*rateWindow),
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}
}

// Allow reports whether the request fits within max requests per window for
// the given route and identity.
func (l *FixedWindowLimiter) Allow(route string, id ClientIdentity, max int, window time.Duration) bool {
	return l.allowAt(time.Now(), route, id, max, window)
}

func (l *FixedWindowLimiter) allowAt(now time.Time, route string, id ClientIdentity, max int, window time.Duration) bool {
	key := route + "|" + string(id)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > l.maxEntries {
		log.Printf("rate limiter over %d entries, clearing all windows", l.maxEntries)
		l.windows = make(map[string]*rateWindow)
	}

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &rateWindow{count: 1, resetAt: now.Add(window)}
		return true
	}
	if w.count >= max {
		return false
	}
	w.count++
	return true
}

func (l *FixedWindowLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartEviction runs a periodic sweep that deletes expired windows until
// Stop is called.
func (l *FixedWindowLimiter) StartEviction(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				l.evict(now)
			case <-l.done:
				return
			}
		}
	}()
}

// Stop terminates the eviction goroutine. Safe to call more than once.
func (l *FixedWindowLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *FixedWindowLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
