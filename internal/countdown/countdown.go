// Package countdown implements the client-side timing contract for exam
// attempts. The server hands out a single authoritative epoch alongside the
// attempt's start time and the exam duration; everything here derives
// remaining time from that anchor, so a page reload, a duplicated tab, or a
// skewed local clock all reconstruct the identical countdown. The driver is
// a display-and-trigger mechanism only: the server independently enforces
// the deadline and its finalize is idempotent, so a duplicate or missing
// fire is never a correctness problem.
package countdown

import (
	"context"
	"sync"
	"time"
)

// Anchor is the server-issued timing contract for one attempt.
type Anchor struct {
	ServerNow time.Time
	StartedAt time.Time
	Duration  time.Duration
}

// EndsAt returns the absolute deadline of the attempt.
func (a Anchor) EndsAt() time.Time {
	return a.StartedAt.Add(a.Duration)
}

// Clock converts local wall-clock readings into server-anchored remaining
// time. The offset between the local clock and the server epoch is captured
// once at construction; later manipulation of the local clock shifts both
// "now" and the correction equally only if the clock is honest. A jump
// backwards simply yields a larger remaining value than the server will
// accept, which the server-side deadline check absorbs.
type Clock struct {
	anchor Anchor
	offset time.Duration // serverTime - localTime at load
}

// NewClock captures the local-vs-server offset at load time.
func NewClock(anchor Anchor, localNow time.Time) *Clock {
	return &Clock{
		anchor: anchor,
		offset: anchor.ServerNow.Sub(localNow),
	}
}

// Remaining returns the time left on the attempt as of the given local
// reading, floored at zero.
func (c *Clock) Remaining(localNow time.Time) time.Duration {
	serverNow := localNow.Add(c.offset)
	remaining := c.anchor.EndsAt().Sub(serverNow)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the deadline has passed as of the given local
// reading.
func (c *Clock) Expired(localNow time.Time) bool {
	return c.Remaining(localNow) == 0
}

// Latch suppresses duplicate finalize fires for the same attempt across
// reloads. It is a UX nicety, not a correctness guarantee.
type Latch interface {
	// TryAcquire returns true exactly once per key.
	TryAcquire(key string) bool
}

// MemoryLatch is an in-process Latch.
type MemoryLatch struct {
	mu    sync.Mutex
	fired map[string]struct{}
}

func NewMemoryLatch() *MemoryLatch {
	return &MemoryLatch{fired: make(map[string]struct{})}
}

func (l *MemoryLatch) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.fired[key]; ok {
		return false
	}
	l.fired[key] = struct{}{}
	return true
}

// Driver ticks against a Clock and fires the finalize callback exactly once
// when remaining time reaches zero. If the process wakes from suspension
// past the deadline, the very first tick detects expiry and fires
// immediately rather than resuming a stale countdown.
type Driver struct {
	clock    *Clock
	interval time.Duration
	key      string
	latch    Latch
	fire     func(ctx context.Context)
	now      func() time.Time

	mu    sync.Mutex
	fired bool
}

// NewDriver creates a Driver. key scopes the latch to one attempt identity;
// latch may be nil, in which case only the in-process single-fire guard
// applies.
func NewDriver(clock *Clock, interval time.Duration, key string, latch Latch, fire func(ctx context.Context)) *Driver {
	return &Driver{
		clock:    clock,
		interval: interval,
		key:      key,
		latch:    latch,
		fire:     fire,
		now:      time.Now,
	}
}

// Run blocks until the countdown fires or ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	// Immediate check covers resume-after-suspend.
	if d.tick(ctx) {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.tick(ctx) {
				return
			}
		}
	}
}

// Fired reports whether this driver has triggered its finalize callback.
func (d *Driver) Fired() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// tick returns true once the countdown has reached zero, firing at most once.
func (d *Driver) tick(ctx context.Context) bool {
	if !d.clock.Expired(d.now()) {
		return false
	}

	d.mu.Lock()
	already := d.fired
	d.fired = true
	d.mu.Unlock()
	if already {
		return true
	}

	if d.latch != nil && !d.latch.TryAcquire(d.key) {
		return true
	}

	d.fire(ctx)
	return true
}
