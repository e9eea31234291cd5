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
	"runtime"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Cache Names
// =============================================================================

// The five coordinated caches.
const (
	TypeLLMResponse    = "llm_response"
	TypeVector         = "vector"
	TypeKnowledgeGraph = "knowledge_graph"
	TypeDocuments      = "documents"
	TypeQueries        = "queries"
)

// clearOrder is the coordinator-wide clearing sequence: cheapest and most
// derivative first, so a partial failure still leaves the most expensive
// caches intact.
var clearOrder = []string{
	TypeQueries, TypeDocuments, TypeLLMResponse, TypeKnowledgeGraph, TypeVector,
}

// Aliases accepted on the clear route.
var typeAliases = map[string]string{
	"llm": TypeLLMResponse,
}

// =============================================================================
// Coordinator
// =============================================================================

// Coordinator owns the five named caches and the coordinator-level
// operations over them. Only the coordinator mutates its caches; other
// components hold a *Coordinator and use the published operations.
type Coordinator struct {
	caches  map[string]*Cache
	started time.Time
}

// NewCoordinator builds the five caches. sizeLimits maps cache name to
// max entry count (zero = unbounded); maxBytes and ttl apply uniformly.
func NewCoordinator(sizeLimits map[string]int, maxBytes int64, ttl time.Duration) *Coordinator {
	c := &Coordinator{
		caches:  make(map[string]*Cache, 5),
		started: time.Now(),
	}
	for _, name := range clearOrder {
		c.caches[name] = New(name, sizeLimits[name], maxBytes, ttl)
	}
	return c
}

// Get returns the named cache, or nil for unknown names.
func (c *Coordinator) Get(name string) *Cache {
	if canonical, ok := typeAliases[name]; ok {
		name = canonical
	}
	return c.caches[name]
}

// LLM, Vector, Graph, Documents, Queries are typed accessors for the
// pipeline's hot paths.
func (c *Coordinator) LLM() *Cache       { return c.caches[TypeLLMResponse] }
func (c *Coordinator) Vector() *Cache    { return c.caches[TypeVector] }
func (c *Coordinator) Graph() *Cache     { return c.caches[TypeKnowledgeGraph] }
func (c *Coordinator) Documents() *Cache { return c.caches[TypeDocuments] }
func (c *Coordinator) Queries() *Cache   { return c.caches[TypeQueries] }

// ClearAllResult reports a coordinator-wide clear.
type ClearAllResult struct {
	Cleared    map[string]int `json:"cleared"`
	FreedBytes int64          `json:"freed_bytes"`
}

// ClearAll empties every cache in the fixed order, then hints the runtime
// to return freed memory to the OS.
func (c *Coordinator) ClearAll() ClearAllResult {
	result := ClearAllResult{Cleared: make(map[string]int, len(clearOrder))}
	for _, name := range clearOrder {
		n, freed := c.caches[name].Clear()
		result.Cleared[name] = n
		result.FreedBytes += freed
	}
	debug.FreeOSMemory()
	return result
}

// ClearType empties one cache by name or alias. Unknown names answer
// datatypes.ErrNotFound.
func (c *Coordinator) ClearType(name string) (int, int64, error) {
	cache := c.Get(name)
	if cache == nil {
		return 0, 0, datatypes.NotFoundf("unknown cache type %q", name)
	}
	n, freed := cache.Clear()
	return n, freed, nil
}

// StatsAll returns per-cache statistics plus a process memory snapshot.
func (c *Coordinator) StatsAll() map[string]any {
	perCache := make(map[string]Stats, len(c.caches))
	for name, cache := range c.caches {
		perCache[name] = cache.Stats()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]any{
		"caches": perCache,
		"process_memory": map[string]any{
			"heap_alloc_mb": float64(mem.HeapAlloc) / (1024 * 1024),
			"heap_sys_mb":   float64(mem.HeapSys) / (1024 * 1024),
			"sys_mb":        float64(mem.Sys) / (1024 * 1024),
			"num_gc":        mem.NumGC,
			"goroutines":    runtime.NumGoroutine(),
		},
		"uptime_seconds": time.Since(c.started).Seconds(),
	}
}
