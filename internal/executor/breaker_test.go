package executor

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreakers(t *testing.T) (*Breakers, *fakeClock, *[]BreakerState) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []BreakerState
	b := NewBreakers(3, 2, time.Minute, func(_ string, s BreakerState) {
		changes = append(changes, s)
	})
	b.now = clock.Now
	return b, clock, &changes
}

func TestBreakers_opensAfterThreshold(t *testing.T) {
	b, _, changes := newTestBreakers(t)

	b.RecordFailure("api.example.com")
	b.RecordFailure("api.example.com")
	if s := b.State("api.example.com"); s != BreakerClosed {
		t.Errorf("state after 2 failures = %v, want closed", s)
	}
	b.RecordFailure("api.example.com")
	if s := b.State("api.example.com"); s != BreakerOpen {
		t.Errorf("state after 3 failures = %v, want open", s)
	}
	if err := b.Allow("api.example.com"); err != ErrBreakerOpen {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
	if len(*changes) != 1 || (*changes)[0] != BreakerOpen {
		t.Errorf("state changes = %v, want [open]", *changes)
	}
}

func TestBreakers_hostsAreIndependent(t *testing.T) {
	b, _, _ := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("down.example.com")
	}
	if err := b.Allow("up.example.com"); err != nil {
		t.Errorf("Allow(up) = %v, want nil", err)
	}
}

func TestBreakers_successResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreakers(t)
	b.RecordFailure("h")
	b.RecordFailure("h")
	b.RecordSuccess("h")
	b.RecordFailure("h")
	b.RecordFailure("h")
	if s := b.State("h"); s != BreakerClosed {
		t.Errorf("state = %v, want closed after reset", s)
	}
}

func TestBreakers_halfOpenRecovery(t *testing.T) {
	b, clock, changes := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("h")
	}

	clock.Advance(2 * time.Minute)
	if s := b.State("h"); s != BreakerHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", s)
	}
	if err := b.Allow("h"); err != nil {
		t.Fatalf("Allow() in half-open = %v", err)
	}
	b.RecordSuccess("h")
	b.RecordSuccess("h")
	if s := b.State("h"); s != BreakerClosed {
		t.Errorf("state after probes = %v, want closed", s)
	}
	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(*changes) != len(want) {
		t.Fatalf("changes = %v, want %v", *changes, want)
	}
	for i := range want {
		if (*changes)[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, (*changes)[i], want[i])
		}
	}
}

func TestBreakers_halfOpenFailureReopens(t *testing.T) {
	b, clock, _ := newTestBreakers(t)
	for i := 0; i < 3; i++ {
		b.RecordFailure("h")
	}
	clock.Advance(2 * time.Minute)
	_ = b.Allow("h")
	b.RecordFailure("h")
	if err := b.Allow("h"); err != ErrBreakerOpen {
		t.Errorf("Allow() after half-open failure = %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	for s, want := range map[BreakerState]string{
		BreakerClosed: "closed", BreakerOpen: "open", BreakerHalfOpen: "half-open", BreakerState(9): "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
