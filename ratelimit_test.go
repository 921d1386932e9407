package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedWindowLimiterScenario(t *testing.T) {
	l := NewFixedWindowLimiter(1000)
	defer l.Stop()

	id := ClientIdentity("1.2.3.4")
	window := 60 * time.Second
	base := time.Now()

	// exactly 3 allowed within the first window
	for i := 0; i < 3; i++ {
		require.True(t, l.allowAt(base.Add(time.Duration(i)*time.Second), "checkout", id, 3, window))
	}
	require.False(t, l.allowAt(base.Add(30*time.Second), "checkout", id, 3, window))
	require.False(t, l.allowAt(base.Add(59*time.Second), "checkout", id, 3, window))

	// after the window resets, 3 more are allowed
	for i := 0; i < 3; i++ {
		require.True(t, l.allowAt(base.Add(61*time.Second+time.Duration(i)*time.Second), "checkout", id, 3, window))
	}
	require.False(t, l.allowAt(base.Add(65*time.Second), "checkout", id, 3, window))
}

// Fixed windows admit up to 2*max-1 requests in a short span straddling a
// window boundary. This is a deliberate trade-off, not a bug; the test
// exists so a silent switch to sliding windows shows up.
func TestFixedWindowLimiterBoundaryProperty(t *testing.T) {
	l := NewFixedWindowLimiter(1000)
	defer l.Stop()

	id := ClientIdentity("5.6.7.8")
	window := 60 * time.Second
	base := time.Now()

	// window opens at base; burn the budget right before it closes
	require.True(t, l.allowAt(base, "checkout", id, 3, window))
	require.True(t, l.allowAt(base.Add(58*time.Second), "checkout", id, 3, window))
	require.True(t, l.allowAt(base.Add(59*time.Second), "checkout", id, 3, window))
	require.False(t, l.allowAt(base.Add(59*time.Second+500*time.Millisecond), "checkout", id, 3, window))

	// fresh window right after the boundary admits max again: 5 requests
	// (2*max-1) landed within ~3 seconds
	for i := 0; i < 3; i++ {
		require.True(t, l.allowAt(base.Add(61*time.Second+time.Duration(i)*100*time.Millisecond), "checkout", id, 3, window))
	}
}

func TestFixedWindowLimiterRoutesAreIndependent(t *testing.T) {
	l := NewFixedWindowLimiter(1000)
	defer l.Stop()

	id := ClientIdentity("1.2.3.4")
	now := time.Now()
	require.True(t, l.allowAt(now, "checkout", id, 1, time.Minute))
	require.False(t, l.allowAt(now, "checkout", id, 1, time.Minute))
	require.True(t, l.allowAt(now, "orders_read", id, 1, time.Minute))
}

func TestFixedWindowLimiterEviction(t *testing.T) {
	l := NewFixedWindowLimiter(1000)
	defer l.Stop()

	now := time.Now()
	l.allowAt(now, "checkout", "a", 3, time.Minute)
	l.allowAt(now, "checkout", "b", 3, time.Minute)
	require.Equal(t, 2, l.size())

	l.evict(now.Add(30 * time.Second))
	require.Equal(t, 2, l.size())

	l.evict(now.Add(2 * time.Minute))
	require.Equal(t, 0, l.size())
}

func TestFixedWindowLimiterEntryCapClearsMap(t *testing.T) {
	l := NewFixedWindowLimiter(2)
	defer l.Stop()

	now := time.Now()
	l.allowAt(now, "checkout", "a", 3, time.Minute)
	l.allowAt(now, "checkout", "b", 3, time.Minute)
	l.allowAt(now, "checkout", "c", 3, time.Minute)
	require.Equal(t, 3, l.size())

	// over the cap: the whole map is dropped before the next entry
	require.True(t, l.allowAt(now, "checkout", "d", 3, time.Minute))
	require.Equal(t, 1, l.size())
}
