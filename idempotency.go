package main

import (
	"sync"
	"time"
)

// IdempotencyGuard suppresses duplicate submissions of the same logical
// request within a window. It protects effectful endpoints (checkout) from
// client retries and replays.
type IdempotencyGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

func NewIdempotencyGuard(window time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{
		seen:   make(map[string]time.Time),
		window: window,
		done:   make(chan struct{}),
	}
}

// CheckAndRecord reports whether key is a duplicate. An empty key is never a
// duplicate. A repeat inside the window reports true without resetting the
// window; an expired or unseen key is recorded with the current time.
func (g *IdempotencyGuard) CheckAndRecord(key string) bool {
	return g.checkAndRecordAt(time.Now(), key)
}

func (g *IdempotencyGuard) checkAndRecordAt(now time.Time, key string) bool {
	if key == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if first, ok := g.seen[key]; ok && now.Sub(first) < g.window {
		return true
	}
	g.seen[key] = now
	return false
}

func (g *IdempotencyGuard) evict(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, first := range g.seen {
		if now.Sub(first) >= g.window {
			delete(g.seen, key)
		}
	}
}

// StartEviction deletes expired records periodically until Stop is called.
func (g *IdempotencyGuard) StartEviction(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				g.evict(now)
			case <-g.done:
				return
			}
		}
	}()
}

// Stop terminates the eviction goroutine. Safe to call more than once.
func (g *IdempotencyGuard) Stop() {
	g.stopOnce.Do(func() { close(g.done) })
}
