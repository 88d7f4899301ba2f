package trigger

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiters holds one token bucket per trigger. A nil *Limiters allows
// everything.
type Limiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewLimiters returns per-key limiters refilling at perSecond with the
// given burst, or nil when perSecond is not positive.
func NewLimiters(perSecond float64, burst int) *Limiters {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiters{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow takes one token from key's bucket.
func (l *Limiters) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
