package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestGovernor() (*Governor, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewGovernor(GovernorOptions{Clock: clock.Now}), clock
}

func intPtr(v int) *int { return &v }

func TestAdmissionAllowsByDefault(t *testing.T) {
	g, _ := newTestGovernor()
	if got := g.CheckAdmission(); !got.Allow {
		t.Fatalf("expected fresh governor to allow, got %+v", got)
	}
}

func TestAdmissionIsIdempotentWithoutObserve(t *testing.T) {
	g, clock := newTestGovernor()
	resetAt := clock.Now().Add(time.Minute)
	g.Observe(Metadata{Limited: true, RetryAfter: 30 * time.Second, ResetAt: &resetAt})
	first := g.CheckAdmission()
	second := g.CheckAdmission()
	if first.Allow || second.Allow {
		t.Fatalf("expected denial while limited, got %+v then %+v", first, second)
	}
	if first.Delay != second.Delay {
		t.Fatalf("expected repeated verdicts to match, got %v then %v", first.Delay, second.Delay)
	}
}

func TestZeroRemainingDeniesUntilReset(t *testing.T) {
	g, clock := newTestGovernor()
	resetAt := clock.Now().Add(time.Minute)
	g.Observe(Metadata{Limit: intPtr(3), Remaining: intPtr(0), ResetAt: &resetAt})

	got := g.CheckAdmission()
	if got.Allow {
		t.Fatalf("expected denial with remaining=0, got allow")
	}
	if got.Delay != time.Minute {
		t.Fatalf("expected delay until reset (1m), got %v", got.Delay)
	}

	clock.Advance(61 * time.Second)
	if got := g.CheckAdmission(); !got.Allow {
		t.Fatalf("expected allow after window reset, got %+v", got)
	}
	snap := g.Snapshot()
	if snap.Remaining == nil || *snap.Remaining != 3 {
		t.Fatalf("expected remaining restored to limit after reset, got %+v", snap)
	}
}

func TestRateLimitClearedBySuccessfulObserve(t *testing.T) {
	g, _ := newTestGovernor()
	g.Observe(Metadata{Limited: true, RetryAfter: time.Minute})
	if g.CheckAdmission().Allow {
		t.Fatalf("expected denial after rate-limit observation")
	}
	g.Observe(Metadata{Limit: intPtr(3), Remaining: intPtr(2)})
	if !g.CheckAdmission().Allow {
		t.Fatalf("expected allow after successful observation")
	}
}

func TestRetryAfterIsClamped(t *testing.T) {
	g, clock := newTestGovernor()
	g.Observe(Metadata{Limited: true, RetryAfter: 4 * time.Hour})
	got := g.CheckAdmission()
	if got.Allow {
		t.Fatalf("expected denial")
	}
	if got.Delay > DefaultMaxRetryAfter {
		t.Fatalf("expected advisory delay clamped to %v, got %v", DefaultMaxRetryAfter, got.Delay)
	}
	clock.Advance(DefaultMaxRetryAfter + time.Second)
	if got := g.CheckAdmission(); !got.Allow {
		t.Fatalf("expected allow once clamped window elapsed, got %+v", got)
	}
}

func TestTimeUntilReset(t *testing.T) {
	g, clock := newTestGovernor()
	if g.TimeUntilReset() != 0 {
		t.Fatalf("expected zero with no window")
	}
	resetAt := clock.Now().Add(90 * time.Second)
	g.Observe(Metadata{Remaining: intPtr(1), ResetAt: &resetAt})
	if got := g.TimeUntilReset(); got != 90*time.Second {
		t.Fatalf("expected 90s until reset, got %v", got)
	}
	clock.Advance(2 * time.Minute)
	if got := g.TimeUntilReset(); got != 0 {
		t.Fatalf("expected zero after reset passed, got %v", got)
	}
}

func TestObservePublishesSnapshot(t *testing.T) {
	g, _ := newTestGovernor()
	var seen []State
	g.Subscribe(func(s State) { seen = append(seen, s) })
	g.Observe(Metadata{Limit: intPtr(3), Remaining: intPtr(1)})
	g.Observe(Metadata{Limited: true, RetryAfter: time.Second})
	if len(seen) != 2 {
		t.Fatalf("expected 2 published snapshots, got %d", len(seen))
	}
	if seen[0].IsLimited || !seen[1].IsLimited {
		t.Fatalf("expected second snapshot limited, got %+v", seen)
	}
	if seen[0].Remaining == nil || *seen[0].Remaining != 1 {
		t.Fatalf("expected remaining=1 in first snapshot, got %+v", seen[0])
	}
}
