// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Health Checker
// =============================================================================

// Dependency is one named health probe.
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthReport is the outcome of one health pass.
type HealthReport struct {
	Status       string            `json:"status"` // healthy | degraded
	Dependencies map[string]string `json:"dependencies"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// healthBudget bounds one full health pass.
const healthBudget = 3 * time.Second

// probeCacheTTL keeps expensive probes (embedding TCP dial) from running
// on every poll.
const probeCacheTTL = 15 * time.Second

// HealthChecker runs dependency probes under the health budget, caching
// the last report briefly.
type HealthChecker struct {
	deps []Dependency

	mu     sync.Mutex
	last   *HealthReport
	lastAt time.Time
}

// NewHealthChecker builds a checker over the given dependencies.
func NewHealthChecker(deps ...Dependency) *HealthChecker {
	return &HealthChecker{deps: deps}
}

// Check runs every probe (or returns the cached report when fresh).
// Status is healthy only when every dependency passes within the budget.
func (h *HealthChecker) Check(ctx context.Context) *HealthReport {
	h.mu.Lock()
	if h.last != nil && time.Since(h.lastAt) < probeCacheTTL {
		cached := *h.last
		h.mu.Unlock()
		return &cached
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, healthBudget)
	defer cancel()

	report := &HealthReport{
		Status:       "healthy",
		Dependencies: make(map[string]string, len(h.deps)),
		CheckedAt:    time.Now().UTC(),
	}

	type outcome struct {
		name string
		err  error
	}
	results := make(chan outcome, len(h.deps))
	for _, dep := range h.deps {
		go func() {
			results <- outcome{name: dep.Name, err: dep.Check(ctx)}
		}()
	}
collect:
	for range h.deps {
		select {
		case r := <-results:
			if r.err != nil {
				report.Status = "degraded"
				report.Dependencies[r.name] = r.err.Error()
			} else {
				report.Dependencies[r.name] = "ok"
			}
		case <-ctx.Done():
			report.Status = "degraded"
			for _, dep := range h.deps {
				if _, seen := report.Dependencies[dep.Name]; !seen {
					report.Dependencies[dep.Name] = "timeout"
				}
			}
			break collect
		}
	}

	h.mu.Lock()
	h.last = report
	h.lastAt = time.Now()
	h.mu.Unlock()
	return report
}
