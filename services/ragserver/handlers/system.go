// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// System Routes
// =============================================================================

// Health serves GET /health: healthy only when every dependency answers
// within the budget.
func Health(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := deps.Health.Check(c.Request.Context())
		status := http.StatusOK
		if report.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, datatypes.OK("health", report))
	}
}

// SystemStatus serves GET /system/status: the verbose snapshot.
func SystemStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		kbs, _ := deps.KB.List(c.Request.Context())
		respond(c, "system status", gin.H{
			"health":          deps.Health.Check(c.Request.Context()),
			"current_kb":      deps.KB.CurrentName(),
			"knowledge_bases": kbs,
			"cache":           deps.Caches.StatsAll(),
			"metrics":         deps.Metrics.Snapshot(),
			"intent":          deps.Intent.Status(),
			"config": gin.H{
				"llm_model":       deps.Config.LLMModel,
				"embedding_model": deps.Config.EmbeddingModel,
				"embedding_dim":   deps.Config.EmbeddingDim,
				"rerank_enabled":  deps.Config.RerankEnabled,
				"cache_enabled":   deps.Config.EnableCache,
			},
		})
	}
}

// MetricsSnapshot serves GET /metrics in the common envelope.
func MetricsSnapshot(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, "metrics", deps.Metrics.Snapshot())
	}
}

// Logs serves GET /logs?lines=N.
func Logs(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := intQuery(c, "lines", 100)
		lines := deps.LogTail.Tail(n)
		respond(c, "log tail", gin.H{"lines": lines, "count": len(lines)})
	}
}

// =============================================================================
// Cache Routes
// =============================================================================

// CacheStats serves GET /cache/stats.
func CacheStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, "cache statistics", deps.Caches.StatsAll())
	}
}

// CacheClearAll serves DELETE /cache/clear.
func CacheClearAll(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, "all caches cleared", deps.Caches.ClearAll())
	}
}

// CacheClearType serves DELETE /cache/clear/{type}.
func CacheClearType(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("type")
		count, freed, err := deps.Caches.ClearType(name)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "cache cleared", gin.H{
			"type":        name,
			"cleared":     count,
			"freed_bytes": freed,
		})
	}
}
