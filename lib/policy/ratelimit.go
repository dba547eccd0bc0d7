// Copyright 2026 The Outpost Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"sync"
	"time"

	"github.com/outpost-labs/outpost/lib/clock"
)

// RateLimiter enforces per-operation, per-caller sliding-window caps.
// Windows are tracked in memory: a process restart resets them, which
// is acceptable because the cap defends against runaway callers, not
// against restarts.
type RateLimiter struct {
	clock clock.Clock

	mu      sync.Mutex
	windows map[rateKey][]time.Time
}

type rateKey struct {
	operation string
	subject   string
}

// NewRateLimiter builds a limiter on the given clock.
func NewRateLimiter(clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		clock:   clk,
		windows: make(map[rateKey][]time.Time),
	}
}

// Allow records one invocation and reports whether it fits the limit.
// A zero limit.Max always allows.
func (l *RateLimiter) Allow(operation, subject string, limit RateLimit) bool {
	if limit.Max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	key := rateKey{operation: operation, subject: subject}
	cutoff := now.Add(-limit.Window)

	kept := l.windows[key][:0]
	for _, stamp := range l.windows[key] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}

	if len(kept) >= limit.Max {
		l.windows[key] = kept
		return false
	}

	l.windows[key] = append(kept, now)
	return true
}
