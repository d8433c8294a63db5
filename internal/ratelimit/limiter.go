// Package ratelimit throttles bid attempts per bidder.
//
// Each bidder may make one attempt per window. The limiter only remembers the
// timestamp of the last allowed attempt, so its state is cheap and can be lost
// on restart without affecting correctness.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"live-auction/utils"
)

const (
	DefaultWindow    = time.Second
	DefaultRetention = 5 * time.Minute

	// pruneThreshold triggers an opportunistic prune from the hot path
	pruneThreshold = 1000
)

// Decision is the outcome of one CheckAndRecord call
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Stats describes the current limiter state
type Stats struct {
	TrackedBidders int
	OldestEntryAge time.Duration
}

// Limiter is a per-bidder one-attempt-per-window throttle
type Limiter struct {
	mu        sync.Mutex
	window    time.Duration
	retention time.Duration
	last      map[string]time.Time // key: bidderID -> value: last allowed attempt
	now       func() time.Time
}

// New creates a limiter. Zero values fall back to the defaults.
func New(window, retention time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Limiter{
		window:    window,
		retention: retention,
		last:      make(map[string]time.Time),
		now:       time.Now,
	}
}

// CheckAndRecord allows the attempt and records it, or rejects it with the
// remaining wait.
func (l *Limiter) CheckAndRecord(bidderID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[bidderID]; ok {
		if elapsed := now.Sub(last); elapsed < l.window {
			return Decision{Allowed: false, RetryAfter: l.window - elapsed}
		}
	}

	l.last[bidderID] = now
	if len(l.last) > pruneThreshold {
		l.pruneLocked(now)
	}
	return Decision{Allowed: true}
}

// Prune drops entries older than the retention window and returns how many
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

func (l *Limiter) pruneLocked(now time.Time) int {
	cutoff := now.Add(-l.retention)
	removed := 0
	for id, ts := range l.last {
		if ts.Before(cutoff) {
			delete(l.last, id)
			removed++
		}
	}
	return removed
}

// Reset forgets a single bidder
func (l *Limiter) Reset(bidderID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.last, bidderID)
}

// Stats returns the number of tracked bidders and the age of the oldest entry
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	s := Stats{TrackedBidders: len(l.last)}
	for _, ts := range l.last {
		if age := now.Sub(ts); age > s.OldestEntryAge {
			s.OldestEntryAge = age
		}
	}
	return s
}

// Run prunes on every interval tick until ctx is cancelled
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Prune(); removed > 0 {
				utils.Debug("rate limiter pruned stale entries", map[string]any{
					"component": "ratelimit",
					"removed":   removed,
				})
			}
		}
	}
}
