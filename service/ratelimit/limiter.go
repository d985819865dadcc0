package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a fixed-window per-user event counter. The window resets
// the count; it does not slide.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit int
	size  time.Duration
	clock func() time.Time // injectable for tests
}

type window struct {
	count   int
	resetAt time.Time
}

const (
	DefaultLimit  = 100
	DefaultWindow = 60 * time.Second
)

func New(limit int, size time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= 0 {
		size = DefaultWindow
	}
	return &Limiter{
		windows: make(map[string]*window),
		limit:   limit,
		size:    size,
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Call before use.
func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	l.clock = clock
	return l
}

// Allow admits the event and increments the counter, or rejects it
// without incrementing once the limit is reached inside the active
// window. The first event of a fresh window always succeeds.
func (l *Limiter) Allow(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	w, ok := l.windows[user]
	if !ok || !now.Before(w.resetAt) {
		l.windows[user] = &window{count: 1, resetAt: now.Add(l.size)}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Remaining reports how many events the user may still send in the
// current window.
func (l *Limiter) Remaining(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[user]
	if !ok || !l.clock().Before(w.resetAt) {
		return l.limit
	}
	if w.count >= l.limit {
		return 0
	}
	return l.limit - w.count
}

// Tracked reports how many user windows are currently held, expired or
// not. Observability hook for the sweeper.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweep drops windows that expired before the horizon. Called
// periodically so churned users do not leak entries.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	n := 0
	for user, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, user)
			n++
		}
	}
	return n
}
