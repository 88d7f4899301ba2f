package executor

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of one host's circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen lets probe calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while a host's breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// hostBreaker trips after failureThreshold consecutive failures and closes
// again after successThreshold consecutive half-open successes.
type hostBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// Breakers keeps one circuit breaker per upstream host so a failing
// endpoint does not slow every execution that calls it. Safe for
// concurrent use.
type Breakers struct {
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onChange         func(host string, state BreakerState)

	mu    sync.Mutex
	hosts map[string]*hostBreaker
}

// NewBreakers creates a per-host breaker set. onChange, if non-nil, is
// called whenever a host's state changes.
func NewBreakers(failureThreshold, successThreshold int, cooldown time.Duration, onChange func(string, BreakerState)) *Breakers {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breakers{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		onChange:         onChange,
		hosts:            make(map[string]*hostBreaker),
	}
}

func (b *Breakers) host(name string) *hostBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	hb, ok := b.hosts[name]
	if !ok {
		hb = &hostBreaker{}
		b.hosts[name] = hb
	}
	return hb
}

// Allow reports whether a call to host may proceed.
func (b *Breakers) Allow(host string) error {
	hb := b.host(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.state == BreakerOpen {
		if b.now().Sub(hb.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.transition(host, hb, BreakerHalfOpen)
	}
	return nil
}

// RecordSuccess notes a successful call to host.
func (b *Breakers) RecordSuccess(host string) {
	hb := b.host(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()

	switch hb.state {
	case BreakerClosed:
		hb.failures = 0
	case BreakerHalfOpen:
		hb.successes++
		if hb.successes >= b.successThreshold {
			b.transition(host, hb, BreakerClosed)
		}
	}
}

// RecordFailure notes a failed call to host.
func (b *Breakers) RecordFailure(host string) {
	hb := b.host(host)
	hb.mu.Lock()
	defer hb.mu.Unlock()

	switch hb.state {
	case BreakerClosed:
		hb.failures++
		if hb.failures >= b.failureThreshold {
			b.transition(host, hb, BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(host, hb, BreakerOpen)
	}
}

// State returns host's current state. Unknown hosts are closed.
func (b *Breakers) State(host string) BreakerState {
	b.mu.Lock()
	hb, ok := b.hosts[host]
	b.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	hb.mu.Lock()
	defer hb.mu.Unlock()
	if hb.state == BreakerOpen && b.now().Sub(hb.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return hb.state
}

// transition must be called with hb.mu held.
func (b *Breakers) transition(host string, hb *hostBreaker, to BreakerState) {
	hb.state = to
	hb.failures = 0
	hb.successes = 0
	if to == BreakerOpen {
		hb.openedAt = b.now()
	}
	if b.onChange != nil {
		b.onChange(host, to)
	}
}
