// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit enforces tiered per-identity admission control.
//
// Two conditions must both hold for a request to be admitted:
//
//   - a fixed-window counter over the configured window must be below the
//     identity's tier capacity, and
//   - the per-identity minimum interval (an x/time rate.Limiter with burst
//     one) must have elapsed since the last admitted request.
//
// The bucket table is bounded; when full, the least-recently-touched
// bucket is evicted. Admissions for one identity serialize through that
// identity's bucket, which preserves the minimum-interval guarantee under
// concurrency.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// DefaultMaxBuckets bounds the bucket table when no cap is configured.
const DefaultMaxBuckets = 10000

// =============================================================================
// Limiter
// =============================================================================

// Options configures a Limiter.
type Options struct {
	// Window is the fixed-window length. Required.
	Window time.Duration

	// Tiers maps tier name to per-window capacity. The "default" tier
	// must be present; unknown tiers use it.
	Tiers map[string]int

	// MinInterval is the per-identity minimum inter-arrival time.
	// Zero disables the check.
	MinInterval time.Duration

	// MaxBuckets bounds the bucket table. Zero uses DefaultMaxBuckets.
	MaxBuckets int
}

// bucket is the per-identity admission state.
type bucket struct {
	identity    string
	windowStart time.Time
	count       int
	interval    *rate.Limiter // nil when MinInterval is zero
	lastRequest time.Time
	mu          sync.Mutex
}

// Limiter is the tiered fixed-window limiter. Safe for concurrent use.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	buckets map[string]*list.Element
	lru     *list.List // front = most recently touched
}

// New builds a Limiter.
func New(opts Options) *Limiter {
	if opts.MaxBuckets <= 0 {
		opts.MaxBuckets = DefaultMaxBuckets
	}
	if opts.Tiers == nil {
		opts.Tiers = map[string]int{"default": 100}
	}
	return &Limiter{
		opts:    opts,
		buckets: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Admit decides one request for identity id with the given tier.
//
// The decision mutates the bucket: an admitted request consumes one window
// slot and one interval token. Middleware is the single consumer; the
// orchestrator only reads the identity afterwards, so a request is never
// double-charged.
func (l *Limiter) Admit(id datatypes.UserIdentity) datatypes.RateDecision {
	b := l.bucketFor(id.UserID)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	// Fixed window roll-over.
	if now.Sub(b.windowStart) >= l.opts.Window {
		b.windowStart = now
		b.count = 0
	}

	limit := l.tierLimit(id.Tier)
	if b.count >= limit {
		return datatypes.DecisionRejectRate
	}

	// Minimum interval. Allow() consumes the token only when it passes,
	// so a rejected request does not push the next allowed time out.
	if b.interval != nil && !b.interval.Allow() {
		return datatypes.DecisionRejectInterval
	}

	b.count++
	b.lastRequest = now
	return datatypes.DecisionAccept
}

// tierLimit resolves a tier name to its capacity.
func (l *Limiter) tierLimit(tier string) int {
	if limit, ok := l.opts.Tiers[tier]; ok {
		return limit
	}
	return l.opts.Tiers["default"]
}

// bucketFor returns the bucket for identity, creating or reviving it and
// touching LRU order. Evicts the coldest bucket when the table is full.
func (l *Limiter) bucketFor(identity string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.buckets[identity]; ok {
		l.lru.MoveToFront(el)
		return el.Value.(*bucket)
	}

	if l.lru.Len() >= l.opts.MaxBuckets {
		oldest := l.lru.Back()
		if oldest != nil {
			l.lru.Remove(oldest)
			delete(l.buckets, oldest.Value.(*bucket).identity)
		}
	}

	b := &bucket{
		identity:    identity,
		windowStart: time.Now(),
	}
	if l.opts.MinInterval > 0 {
		b.interval = rate.NewLimiter(rate.Every(l.opts.MinInterval), 1)
	}
	l.buckets[identity] = l.lru.PushFront(b)
	return b
}

// Cleanup drops buckets idle longer than maxIdle and returns the count.
// Intended for a periodic sweep; LRU eviction alone already bounds memory.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for el := l.lru.Back(); el != nil; {
		prev := el.Prev()
		b := el.Value.(*bucket)
		if b.lastRequest.Before(cutoff) {
			l.lru.Remove(el)
			delete(l.buckets, b.identity)
			removed++
		}
		el = prev
	}
	return removed
}

// Size returns the current bucket count.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}
