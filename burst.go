package main

import (
	"sync"
	"time"
)

// BurstDetector flags identities that issue too many requests in a short
// micro-window, regardless of which routes they hit. It catches velocity
// that no single route's limiter sees, which is why the classifier runs it
// before any header inspection.
type BurstDetector struct {
	mu      sync.Mutex
	hits    map[ClientIdentity][]time.Time
	window  time.Duration
	maxHits int

	stopOnce sync.Once
	done     chan struct{}
}

func NewBurstDetector(window time.Duration, maxHits int) *BurstDetector {
	return &BurstDetector{
		hits:    make(map[ClientIdentity][]time.Time),
		window:  window,
		maxHits: maxHits,
		done:    make(chan struct{}),
	}
}

// IsAbusive records a hit for id and reports whether id has now exceeded
// maxHits within the window.
func (b *BurstDetector) IsAbusive(id ClientIdentity) bool {
	return b.isAbusiveAt(time.Now(), id)
}

func (b *BurstDetector) isAbusiveAt(now time.Time, id ClientIdentity) bool {
	cutoff := now.Add(-b.window)

	b.mu.Lock()
	defer b.mu.Unlock()

	recent := b.hits[id][:0]
	for _, t := range b.hits[id] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	b.hits[id] = recent
	return len(recent) > b.maxHits
}

func (b *BurstDetector) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ts := range b.hits {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(b.hits, id)
		}
	}
}

// StartEviction drops identities that have gone quiet, until Stop is called.
func (b *BurstDetector) StartEviction(interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				b.evict(now)
			case <-b.done:
				return
			}
		}
	}()
}

// Stop terminates the eviction goroutine. Safe to call more than once.
func (b *BurstDetector) Stop() {
	b.stopOnce.Do(func() { close(b.done) })
}
