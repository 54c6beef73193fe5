// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ratelimit implements the per-client request gate in front of
// the generation pipeline.
//
// # Design
//
// The limiter is a fixed-window counter per key, chosen deliberately
// over a sliding window for simplicity. The accepted tradeoff is that
// bursts are possible at window boundaries, bounded to 2x MaxRequests
// in the worst case. Admit never errors; it only denies.
//
// A periodic sweep deletes windows whose reset time has passed by more
// than one window length, bounding memory to the active-client count.
//
// # Thread Safety
//
// Limiter is safe for concurrent use.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Limiter.
type Config struct {
	// Window is the fixed window length. Zero means one minute.
	Window time.Duration

	// MaxRequests is the number of admits allowed per window.
	// Zero means 10.
	MaxRequests int

	// SweepInterval controls how often stale windows are collected.
	// Zero means 5 minutes.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = 10
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
}

// =============================================================================
// Decision
// =============================================================================

// Decision is the outcome of one Admit call.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of admits left in the current window.
	Remaining int

	// ResetAt is when the current window rolls over.
	ResetAt time.Time

	// RetryAfterSeconds is the client-facing retry hint, zero when
	// Allowed.
	RetryAfterSeconds int
}

// =============================================================================
// Limiter
// =============================================================================

// windowState is the per-key fixed-window counter. It is created lazily
// on the first request in a window and replaced wholesale on rollover.
type windowState struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window per-key rate limiter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*windowState
	config  Config
	logger  *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLimiter creates a limiter and starts its sweep goroutine.
// Call Close when done to stop the sweeper.
func NewLimiter(config Config, logger *slog.Logger) *Limiter {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		windows: make(map[string]*windowState),
		config:  config,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Admit records one request for key and decides whether it may proceed.
//
// If no window exists for the key, or the existing window has rolled
// over, a fresh window is initialized. The call is a map lookup plus an
// increment; it never blocks on anything else and never errors.
func (l *Limiter) Admit(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.windows[key]
	if !ok || !now.Before(state.resetAt) {
		state = &windowState{resetAt: now.Add(l.config.Window)}
		l.windows[key] = state
	}
	state.count++

	allowed := state.count <= l.config.MaxRequests
	remaining := l.config.MaxRequests - state.count
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   state.resetAt,
	}
	if !allowed {
		retry := int(state.resetAt.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		decision.RetryAfterSeconds = retry
	}
	return decision
}

// Close stops the sweep goroutine. Safe to call more than once.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			removed := l.sweep()
			if removed > 0 {
				l.logger.Debug("rate limit windows swept", "removed", removed)
			}
		}
	}
}

// sweep deletes windows stale by more than one window length.
func (l *Limiter) sweep() int {
	cutoff := l.now().Add(-l.config.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, state := range l.windows {
		if state.resetAt.Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// activeWindows reports the current window count, for tests and stats.
func (l *Limiter) activeWindows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
