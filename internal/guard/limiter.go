package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited marks a client that exhausted its window budget.
var ErrRateLimited = errors.New("rate limited")

// DefaultWindow is the fixed rate-limit window.
const DefaultWindow = 60 * time.Second

// Limiter is a fixed-window rate limiter keyed by client id. Counts
// are per-process; no distributed coordination.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	clock  func() time.Time
	counts map[string]*windowCount
}

type windowCount struct {
	start time.Time
	n     int
}

// NewLimiter allows limit requests per client per 60-second window.
// A non-positive limit disables limiting.
func NewLimiter(limit int) *Limiter {
	return &Limiter{
		limit:  limit,
		window: DefaultWindow,
		clock:  time.Now,
		counts: make(map[string]*windowCount),
	}
}

// SetClock overrides the time source so tests can roll windows.
func (l *Limiter) SetClock(clock func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = clock
}

// Allow consumes one request for clientID, or returns ErrRateLimited
// until the window rolls.
func (l *Limiter) Allow(clientID string) error {
	if l.limit <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	wc := l.counts[clientID]
	if wc == nil || now.Sub(wc.start) >= l.window {
		wc = &windowCount{start: now}
		l.counts[clientID] = wc
	}
	if wc.n >= l.limit {
		return fmt.Errorf("%w: client %q exceeded %d per %s", ErrRateLimited, clientID, l.limit, l.window)
	}
	wc.n++
	return nil
}
