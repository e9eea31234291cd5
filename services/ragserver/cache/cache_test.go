// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

func TestCacheGetSetMiss(t *testing.T) {
	c := New("test", 10, 0, 0)

	_, ok := c.Get("absent")
	assert.False(t, ok)

	require.True(t, c.Set("k", "v", 1, 0))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New("test", 10, 0, 10*time.Millisecond)
	c.Set("k", "v", 1, 0)

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expired entries are misses")
	assert.Equal(t, 0, c.Stats().ItemCount, "expired entries are removed on access")
}

func TestCacheLRUEvictionByCount(t *testing.T) {
	c := New("test", 3, 0, 0)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 1, 0)
	}
	assert.Equal(t, 3, c.Stats().ItemCount)

	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestCacheEvictionByBytes(t *testing.T) {
	c := New("test", 0, 100, 0)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v", 25, 0)
	}

	stats := c.Stats()
	assert.Equal(t, 4, stats.ItemCount, "byte bound evicts the oldest entry")
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestCacheRefusesOversize(t *testing.T) {
	c := New("test", 0, 100, 0)
	assert.False(t, c.Set("huge", "v", 80, 0), "over a quarter of the budget is refused")
	assert.True(t, c.Set("ok", "v", 10, 0))
}

func TestCacheClearReportsFreed(t *testing.T) {
	c := New("test", 0, 0, 0)
	c.Set("a", "x", 100, 0)
	c.Set("b", "y", 50, 0)

	n, freed := c.Clear()
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(150), freed)
	assert.Equal(t, 0, c.Stats().ItemCount)
}

func TestCacheHitRate(t *testing.T) {
	c := New("test", 0, 0, 0)
	c.Set("k", "v", 1, 0)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.01)
}

func TestCoordinatorClearTypeUnknown(t *testing.T) {
	coord := NewCoordinator(nil, 0, 0)
	_, _, err := coord.ClearType("bogus")
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}

func TestCoordinatorClearTypeAlias(t *testing.T) {
	coord := NewCoordinator(nil, 0, 0)
	coord.LLM().Set("k", "v", 1, 0)

	n, _, err := coord.ClearType("llm")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCoordinatorClearAll(t *testing.T) {
	coord := NewCoordinator(nil, 0, 0)
	coord.Queries().Set("q", "v", 10, 0)
	coord.Vector().Set("v", "v", 20, 0)
	coord.LLM().Set("l", "v", 30, 0)

	result := coord.ClearAll()
	assert.Equal(t, int64(60), result.FreedBytes)
	assert.Len(t, result.Cleared, 5, "every named cache appears in the report")
	assert.Equal(t, 1, result.Cleared[TypeQueries])
}

func TestCoordinatorStatsAll(t *testing.T) {
	coord := NewCoordinator(nil, 0, 0)
	stats := coord.StatsAll()

	assert.Contains(t, stats, "caches")
	assert.Contains(t, stats, "process_memory")
	perCache := stats["caches"].(map[string]Stats)
	assert.Len(t, perCache, 5)
}
