// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tollgate Contributors

// Package ratelimit provides per-identity sliding-window request limiting.
//
// The limiter counts only requests inside the trailing window, pruning
// older entries on every check. State is in-memory and per-process; the
// Limiter interface keeps the call contract stable so a distributed
// backend can be swapped in without touching callers.
package ratelimit

import (
	"sync"
	"time"
)

// Defaults matching the protected API surface: 60 requests per 60 seconds.
const (
	DefaultWindow = time.Minute
	DefaultLimit  = 60
)

// Result describes the outcome of a rate limit check.
type Result struct {
	// Allowed is false when the request exceeds the limit.
	Allowed bool

	// Remaining is the quota left in the current window. Zero when the
	// request was rejected.
	Remaining int

	// RetryAfter is how long the caller should wait before retrying.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter checks whether a request from the given identity key is within
// its quota at the given instant. Keys are authenticated user ids when
// available, network origins otherwise.
type Limiter interface {
	Allow(key string, now time.Time) Result
}

// SlidingWindow is an in-memory Limiter keeping an ordered timestamp log
// per key. Key cardinality is unbounded over time (a production hardening
// note, not a blocking defect); RemoveIdle lets callers sweep dead keys.
type SlidingWindow struct {
	window time.Duration
	limit  int

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per window.
// Non-positive arguments fall back to the defaults.
func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &SlidingWindow{
		window: window,
		limit:  limit,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records a request for key at now and reports whether it fits the
// window. The per-key log is pruned and appended under the limiter lock so
// concurrent requests from the same identity cannot lose updates.
func (l *SlidingWindow) Allow(key string, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	log := l.hits[key]

	// Prune entries that fell out of the window. Timestamps are appended
	// in order, so the first kept index bounds the live region.
	kept := 0
	for kept < len(log) && !log[kept].After(cutoff) {
		kept++
	}
	log = append(log[kept:], now)
	l.hits[key] = log

	if len(log) > l.limit {
		// Quota frees up when the oldest live entry leaves the window.
		return Result{
			Allowed:    false,
			RetryAfter: log[0].Add(l.window).Sub(now),
		}
	}

	return Result{
		Allowed:   true,
		Remaining: l.limit - len(log),
	}
}

// RemoveIdle drops keys whose newest entry is older than the window at
// now, returning the number of keys removed.
func (l *SlidingWindow) RemoveIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	removed := 0
	for key, log := range l.hits {
		if len(log) == 0 || !log[len(log)-1].After(cutoff) {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}

// Limit returns the configured per-window request limit.
func (l *SlidingWindow) Limit() int { return l.limit }

// Window returns the configured window duration.
func (l *SlidingWindow) Window() time.Duration { return l.window }
