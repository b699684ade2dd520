package analyses

import (
	"sync"
	"time"
)

const (
	pollLimitWindow    = 1 * time.Second
	pollLimitSweepSize = 4096
)

// pollLimiter throttles status polling per client and analysis. Clients are
// expected to poll on the order of seconds; anything faster is a tight loop.
type pollLimiter struct {
	mu      sync.Mutex
	lastHit map[string]time.Time
	now     func() time.Time
	window  time.Duration
}

func newPollLimiter(window time.Duration, now func() time.Time) *pollLimiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = pollLimitWindow
	}
	return &pollLimiter{
		lastHit: make(map[string]time.Time),
		now:     now,
		window:  window,
	}
}

// Allow reports whether this client may poll the given analysis now.
func (l *pollLimiter) Allow(clientIP, analysisID string) bool {
	if l == nil {
		return true
	}
	key := clientIP + "|" + analysisID
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastHit[key]; ok {
		if now.Sub(last) < l.window {
			return false
		}
	}
	if len(l.lastHit) >= pollLimitSweepSize {
		l.sweep(now)
	}
	l.lastHit[key] = now
	return true
}

func (l *pollLimiter) RetryAfterSeconds() int {
	if l == nil {
		return int(pollLimitWindow.Seconds())
	}
	return int(l.window.Seconds())
}

// sweep drops entries old enough that they no longer throttle anything.
// Caller must hold the mutex.
func (l *pollLimiter) sweep(now time.Time) {
	for key, last := range l.lastHit {
		if now.Sub(last) >= l.window {
			delete(l.lastHit, key)
		}
	}
}
