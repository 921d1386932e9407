package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyGuardDuplicateWithinWindow(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	defer g.Stop()

	base := time.Now()
	require.False(t, g.checkAndRecordAt(base, "key-1"))
	require.True(t, g.checkAndRecordAt(base.Add(time.Second), "key-1"))
	require.True(t, g.checkAndRecordAt(base.Add(59*time.Second), "key-1"))
}

func TestIdempotencyGuardFreshAfterWindow(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	defer g.Stop()

	base := time.Now()
	require.False(t, g.checkAndRecordAt(base, "key-1"))
	require.False(t, g.checkAndRecordAt(base.Add(time.Minute), "key-1"))
	// the fresh call re-records, so the window restarts
	require.True(t, g.checkAndRecordAt(base.Add(time.Minute+time.Second), "key-1"))
}

func TestIdempotencyGuardDuplicateDoesNotResetWindow(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	defer g.Stop()

	base := time.Now()
	require.False(t, g.checkAndRecordAt(base, "key-1"))
	// duplicate halfway through must not push the expiry out
	require.True(t, g.checkAndRecordAt(base.Add(30*time.Second), "key-1"))
	require.False(t, g.checkAndRecordAt(base.Add(61*time.Second), "key-1"))
}

func TestIdempotencyGuardEmptyKeyIsNoop(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	defer g.Stop()

	now := time.Now()
	require.False(t, g.checkAndRecordAt(now, ""))
	require.False(t, g.checkAndRecordAt(now, ""))
}

func TestIdempotencyGuardEviction(t *testing.T) {
	g := NewIdempotencyGuard(time.Minute)
	defer g.Stop()

	base := time.Now()
	g.checkAndRecordAt(base, "old")
	g.checkAndRecordAt(base.Add(50*time.Second), "new")

	g.evict(base.Add(70 * time.Second))

	g.mu.Lock()
	_, oldKept := g.seen["old"]
	_, newKept := g.seen["new"]
	g.mu.Unlock()
	require.False(t, oldKept)
	require.True(t, newKept)
}
