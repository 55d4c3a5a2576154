package countdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestClockRemaining(t *testing.T) {
	serverNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	startedAt := serverNow.Add(-2 * time.Minute)
	anchor := Anchor{ServerNow: serverNow, StartedAt: startedAt, Duration: 10 * time.Minute}

	tests := []struct {
		name     string
		localAt  time.Time // local clock reading at load
		checkAt  time.Time // local clock reading when asking for remaining
		expected time.Duration
	}{
		{
			name:     "local clock in sync",
			localAt:  serverNow,
			checkAt:  serverNow,
			expected: 8 * time.Minute,
		},
		{
			name:     "local clock three hours behind server",
			localAt:  serverNow.Add(-3 * time.Hour),
			checkAt:  serverNow.Add(-3 * time.Hour),
			expected: 8 * time.Minute,
		},
		{
			name:     "local clock ahead of server",
			localAt:  serverNow.Add(90 * time.Minute),
			checkAt:  serverNow.Add(90 * time.Minute).Add(5 * time.Minute),
			expected: 3 * time.Minute,
		},
		{
			name:     "past deadline floors at zero",
			localAt:  serverNow,
			checkAt:  serverNow.Add(20 * time.Minute),
			expected: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(anchor, tc.localAt)
			if got := clock.Remaining(tc.checkAt); got != tc.expected {
				t.Fatalf("expected remaining=%v, got=%v", tc.expected, got)
			}
		})
	}
}

func TestClockReloadReconstructsSameCountdown(t *testing.T) {
	serverNow := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	anchor := Anchor{ServerNow: serverNow, StartedAt: serverNow.Add(-time.Minute), Duration: 10 * time.Minute}

	first := NewClock(anchor, serverNow)

	// Simulate a reload 30 seconds later: the server issues a fresh epoch,
	// the local clock is wildly off, but the anchor math converges.
	reloadServer := serverNow.Add(30 * time.Second)
	reloadLocal := reloadServer.Add(-7 * time.Hour)
	second := NewClock(Anchor{ServerNow: reloadServer, StartedAt: anchor.StartedAt, Duration: anchor.Duration}, reloadLocal)

	a := first.Remaining(serverNow.Add(30 * time.Second))
	b := second.Remaining(reloadLocal)
	if a != b {
		t.Fatalf("reload changed the countdown: %v vs %v", a, b)
	}
}

func TestDriverFiresOnceAtZero(t *testing.T) {
	serverNow := time.Now()
	anchor := Anchor{ServerNow: serverNow, StartedAt: serverNow.Add(-time.Minute), Duration: time.Minute + 20*time.Millisecond}
	clock := NewClock(anchor, serverNow)

	var fires int32
	d := NewDriver(clock, 5*time.Millisecond, "attempt-1", nil, func(ctx context.Context) {
		atomic.AddInt32(&fires, 1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.Run(ctx)

	if got := atomic.LoadInt32(&fires); got != 1 {
		t.Fatalf("expected exactly one fire, got %d", got)
	}
	if !d.Fired() {
		t.Fatal("driver should report fired")
	}
}

func TestDriverFiresImmediatelyAfterSuspension(t *testing.T) {
	// Deadline long past: the first tick must fire without waiting a full
	// ticker interval.
	serverNow := time.Now()
	anchor := Anchor{ServerNow: serverNow, StartedAt: serverNow.Add(-time.Hour), Duration: time.Minute}
	clock := NewClock(anchor, serverNow)

	var fires int32
	d := NewDriver(clock, time.Hour, "attempt-2", nil, func(ctx context.Context) {
		atomic.AddInt32(&fires, 1)
	})

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("driver did not fire immediately on expired countdown")
	}
	if got := atomic.LoadInt32(&fires); got != 1 {
		t.Fatalf("expected exactly one fire, got %d", got)
	}
}

func TestLatchSuppressesDuplicateFireAcrossReloads(t *testing.T) {
	serverNow := time.Now()
	anchor := Anchor{ServerNow: serverNow, StartedAt: serverNow.Add(-time.Hour), Duration: time.Minute}
	latch := NewMemoryLatch()

	var fires int32
	fire := func(ctx context.Context) { atomic.AddInt32(&fires, 1) }

	// Two drivers for the same attempt identity, as after a page reload.
	first := NewDriver(NewClock(anchor, serverNow), time.Hour, "exam-1:student-9", latch, fire)
	second := NewDriver(NewClock(anchor, serverNow), time.Hour, "exam-1:student-9", latch, fire)

	first.Run(context.Background())
	second.Run(context.Background())

	if got := atomic.LoadInt32(&fires); got != 1 {
		t.Fatalf("latch should allow exactly one fire, got %d", got)
	}
}
