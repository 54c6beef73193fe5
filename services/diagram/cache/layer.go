// Copyright (C) 2026 VisuaLearn (team@visualearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides the multi-layer TTL cache that shields the
// generation backend from duplicate load.
//
// # Design Principles
//
// Cached results are ephemeral and always regenerable; the cache is a
// performance optimization, not a source of truth. Expiry is lazy: Get
// never sweeps, it only evicts the entry it just found expired, keeping
// the read path O(1).
//
// Eviction on a full layer is score-based rather than strict LRU: the
// entry with the lowest hitCount + ageInDays is dropped. This favors
// keeping entries that are both young and frequently hit over a
// very-recently-inserted-but-unused entry, trading strict recency for
// query-pattern locality. The formula is configurable because its
// threshold sensitivity (when one more hit outweighs one more day) is a
// tuning knob, not a law.
//
// # Thread Safety
//
// Layer and MultiLayerCache are safe for concurrent use.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Entry
// =============================================================================

// Entry is the stored record for one key.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int64
}

// Age returns how long the entry has existed relative to now.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// =============================================================================
// Scoring
// =============================================================================

// ScoreFunc computes an eviction score for an entry; the entry with the
// lowest score is evicted when the layer is full.
type ScoreFunc func(hitCount int64, age time.Duration) float64

// DefaultScore is hitCount + ageInDays.
func DefaultScore(hitCount int64, age time.Duration) float64 {
	return float64(hitCount) + age.Hours()/24
}

// =============================================================================
// Layer
// =============================================================================

// LayerConfig configures one cache layer.
type LayerConfig struct {
	// MaxSize is the maximum entry count. Zero means 128.
	MaxSize int

	// DefaultTTL applies to Set calls without an explicit TTL.
	// Zero means one hour.
	DefaultTTL time.Duration

	// Score overrides the eviction scoring function. Nil means
	// DefaultScore.
	Score ScoreFunc
}

func (c *LayerConfig) applyDefaults() {
	if c.MaxSize <= 0 {
		c.MaxSize = 128
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.Score == nil {
		c.Score = DefaultScore
	}
}

// Layer is one independently configured TTL cache.
type Layer[T any] struct {
	mu      sync.Mutex
	entries map[string]*Entry[T]
	config  LayerConfig

	// now is replaceable in tests.
	now func() time.Time

	// Stats
	hits      int64
	misses    int64
	evictions int64
}

// NewLayer creates a cache layer with the given configuration.
func NewLayer[T any](config LayerConfig) *Layer[T] {
	config.applyDefaults()
	return &Layer[T]{
		entries: make(map[string]*Entry[T]),
		config:  config,
		now:     time.Now,
	}
}

// Get returns the value for key, lazily evicting it if expired.
//
// A hit increments the entry's hit count. Expired entries are removed
// on access and reported as misses; no proactive sweep happens here.
func (l *Layer[T]) Get(key string) (T, bool) {
	var zero T

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		atomic.AddInt64(&l.misses, 1)
		return zero, false
	}
	if l.now().After(entry.ExpiresAt) {
		delete(l.entries, key)
		atomic.AddInt64(&l.misses, 1)
		return zero, false
	}

	entry.HitCount++
	atomic.AddInt64(&l.hits, 1)
	return entry.Value, true
}

// Set stores value under key with the layer's default TTL.
func (l *Layer[T]) Set(key string, value T) {
	l.SetTTL(key, value, l.config.DefaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
//
// If the layer is full and key is new, the entry with the lowest
// eviction score is removed first.
func (l *Layer[T]) SetTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.config.DefaultTTL
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[key]; !exists && len(l.entries) >= l.config.MaxSize {
		l.evictLowestLocked()
	}

	now := l.now()
	l.entries[key] = &Entry[T]{
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Delete removes key from the layer.
func (l *Layer[T]) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Clear removes all entries.
func (l *Layer[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*Entry[T])
}

// Len returns the current entry count, including not-yet-swept expired
// entries.
func (l *Layer[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stats reports cumulative hit/miss/eviction counters.
func (l *Layer[T]) Stats() (hits, misses, evictions int64) {
	return atomic.LoadInt64(&l.hits), atomic.LoadInt64(&l.misses), atomic.LoadInt64(&l.evictions)
}

// evictLowestLocked removes the entry with the minimum eviction score.
// Expired entries score as guaranteed-lowest so they go first.
// Caller must hold l.mu.
func (l *Layer[T]) evictLowestLocked() {
	now := l.now()
	var victim string
	lowest := 0.0
	first := true

	for key, entry := range l.entries {
		if now.After(entry.ExpiresAt) {
			victim = key
			break
		}
		score := l.config.Score(entry.HitCount, entry.Age(now))
		if first || score < lowest {
			victim = key
			lowest = score
			first = false
		}
	}

	if victim != "" {
		delete(l.entries, victim)
		atomic.AddInt64(&l.evictions, 1)
	}
}
