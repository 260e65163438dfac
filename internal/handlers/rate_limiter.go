package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// slidingWindowLimiter caps how many orders an actor may place per window. It
// keeps a log of recent placement times per actor and admits a request only
// when fewer than limit fall inside the window, so a burst at a window edge
// cannot double the effective rate the way a fixed-window counter would.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	history   map[string][]time.Time
	lastSweep time.Time
}

func newSlidingWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &slidingWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		history: make(map[string][]time.Time),
	}
}

func (l *slidingWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := trimBefore(l.history[key], cutoff)
	if len(recent) >= l.limit {
		l.history[key] = recent
		return false
	}
	l.history[key] = append(recent, now)

	if now.Sub(l.lastSweep) >= l.window {
		l.sweepIdleLocked(cutoff)
		l.lastSweep = now
	}
	return true
}

// trimBefore drops timestamps at or before the cutoff, keeping order.
func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// sweepIdleLocked forgets actors with no placements inside the window so the
// map does not grow with every caller the service has ever seen.
func (l *slidingWindowLimiter) sweepIdleLocked(cutoff time.Time) {
	for key, stamps := range l.history {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.history, key)
		}
	}
}
