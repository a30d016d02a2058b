// Package ratelimit bounds per-user command invocation frequency with a
// fixed counting window.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to Capacity invocations per user within each Window.
// The first call after a window expires starts a fresh window. The counter
// never increments past the cap, so a burst of denied calls cannot extend
// the penalty.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	users    map[string]*userWindow

	// now is swappable for tests.
	now func() time.Time
}

type userWindow struct {
	count    int
	start    time.Time
	lastSeen time.Time
}

// New creates a limiter with the given capacity and window duration.
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		users:    make(map[string]*userWindow),
		now:      time.Now,
	}
}

// Allow records one invocation attempt for the user and reports whether it
// is within the limit. Check-and-increment is atomic, so concurrent calls
// from the same user cannot over- or under-count.
func (l *Limiter) Allow(user string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	w, ok := l.users[user]
	if !ok || now.Sub(w.start) >= l.window {
		l.users[user] = &userWindow{count: 1, start: now, lastSeen: now}
		return true
	}

	w.lastSeen = now
	if w.count >= l.capacity {
		return false
	}
	w.count++
	return true
}

// RetryAfter returns how long until the user's current window resets.
// Zero means the next call is already allowed.
func (l *Limiter) RetryAfter(user string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[user]
	if !ok {
		return 0
	}
	remaining := l.window - l.now().Sub(w.start)
	if remaining < 0 || w.count < l.capacity {
		return 0
	}
	return remaining
}

// Remaining returns how many invocations the user has left in the current
// window.
func (l *Limiter) Remaining(user string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[user]
	if !ok || l.now().Sub(w.start) >= l.window {
		return l.capacity
	}
	return l.capacity - w.count
}

// Reset clears the user's window. Used by admin tooling and tests.
func (l *Limiter) Reset(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, user)
}

// Sweep removes windows idle longer than the window duration. Returns the
// number of entries removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for user, w := range l.users {
		if now.Sub(w.lastSeen) > l.window {
			delete(l.users, user)
			removed++
		}
	}
	return removed
}

// Janitor sweeps idle windows every interval until stop is closed.
func (l *Limiter) Janitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
