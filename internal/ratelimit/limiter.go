// Package ratelimit provides in-process rate limiting using a rolling-window
// counter per key. The window is measured from the first action in the
// current window, not from a fixed clock boundary. State is process-local and
// is not shared across server instances; each instance enforces its own
// budget independently.
package ratelimit

import (
	"sync"
	"time"
)

// Rule defines a rate limiting policy: the key prefix that namespaces the
// counter, the maximum number of actions allowed in the window, and the
// window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "swipe:", "chat:", "register:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rules used across the application.
var (
	// RuleSwipe allows 100 swipes per rolling hour per user.
	RuleSwipe = Rule{Key: "swipe:", Limit: 100, Window: time.Hour}

	// RuleMessage allows 30 chat messages per rolling minute per user.
	RuleMessage = Rule{Key: "chat:", Limit: 30, Window: time.Minute}

	// RuleRegister allows 5 realtime registrations per rolling minute per
	// remote IP.
	RuleRegister = Rule{Key: "register:", Limit: 5, Window: time.Minute}
)

// window tracks the counter state for one key.
type window struct {
	start time.Time
	count int
}

// Limiter is a goroutine-safe rolling-window counter keyed by
// (rule prefix, identifier).
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow reports whether the identifier is within the budget defined by rule,
// counting this call. The first call in a window always succeeds; once the
// count exceeds rule.Limit inside the window, calls fail until the window
// elapses and the counter resets.
func (l *Limiter) Allow(identifier string, rule Rule) bool {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= rule.Window {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}

	w.count++
	return w.count <= rule.Limit
}

// Remaining returns how many actions the identifier has left in the current
// window. Returns the full limit if no window is active.
func (l *Limiter) Remaining(identifier string, rule Rule) int {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= rule.Window {
		return rule.Limit
	}
	remaining := rule.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// RetryAfter returns the number of seconds until the identifier's current
// window elapses, rounded up. Returns 0 if no window is active.
func (l *Limiter) RetryAfter(identifier string, rule Rule) int {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	left := rule.Window - now.Sub(w.start)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Cleanup removes windows whose window started more than maxAge ago. maxAge
// should be at least as large as the longest rule window in use.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if now.Sub(w.start) > maxAge {
			delete(l.windows, key)
		}
	}
}

// StartCleanup launches a background sweep that evicts stale windows every
// interval until done is closed.
func (l *Limiter) StartCleanup(done <-chan struct{}, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Cleanup(maxAge)
			}
		}
	}()
}
