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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Metrics
// =============================================================================

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Observe("POST", "/api/v1/query", "default", 200, 100*time.Millisecond, 50, 500)
	m.Observe("POST", "/api/v1/query", "free", 500, 300*time.Millisecond, 50, 100)
	m.Observe("GET", "/api/v1/health", "default", 200, 5*time.Millisecond, 0, 20)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap["total_requests"])
	assert.Equal(t, uint64(1), snap["total_errors"])

	byRoute := snap["by_route"].(map[string]uint64)
	assert.Equal(t, uint64(2), byRoute["/api/v1/query"])

	latency := snap["latency_seconds"].(map[string]float64)
	assert.Greater(t, latency["p99"], 0.0)
	assert.LessOrEqual(t, latency["p50"], latency["p99"])
}

func TestMetricsErrorCounter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveError("/api/v1/query", "rate-limited")
	// Vector mutation must not panic with fresh label values.
	m.ObserveError("/api/v1/query", "bad-input")
}

// =============================================================================
// Health
// =============================================================================

func TestHealthAllPassing(t *testing.T) {
	h := NewHealthChecker(
		Dependency{Name: "a", Check: func(context.Context) error { return nil }},
		Dependency{Name: "b", Check: func(context.Context) error { return nil }},
	)

	report := h.Check(context.Background())
	assert.Equal(t, "healthy", report.Status)
	assert.Equal(t, "ok", report.Dependencies["a"])
	assert.Equal(t, "ok", report.Dependencies["b"])
}

func TestHealthNamesFailingDependency(t *testing.T) {
	h := NewHealthChecker(
		Dependency{Name: "good", Check: func(context.Context) error { return nil }},
		Dependency{Name: "embedding_service", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
	)

	report := h.Check(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Contains(t, report.Dependencies["embedding_service"], "connection refused")
	assert.Equal(t, "ok", report.Dependencies["good"])
}

func TestHealthCachesReport(t *testing.T) {
	calls := 0
	h := NewHealthChecker(
		Dependency{Name: "counted", Check: func(context.Context) error {
			calls++
			return nil
		}},
	)

	h.Check(context.Background())
	h.Check(context.Background())
	assert.Equal(t, 1, calls, "fresh reports come from the cache")
}

// =============================================================================
// Log Buffer
// =============================================================================

func TestLogBufferTail(t *testing.T) {
	b := NewLogBuffer(5)
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}

	tail := b.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, []string{"line 6", "line 7", "line 8"}, tail)

	all := b.Tail(0)
	assert.Len(t, all, 5, "ring keeps only the last capacity lines")
	assert.Equal(t, "line 4", all[0])
}

func TestLogBufferPartialLines(t *testing.T) {
	b := NewLogBuffer(10)
	b.Write([]byte("partial "))
	b.Write([]byte("line\nnext\n"))

	tail := b.Tail(0)
	require.Len(t, tail, 2)
	assert.Equal(t, "partial line", tail[0])
	assert.Equal(t, "next", tail[1])
}
