// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes mounts the API surface under /api/v1.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/handlers"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/identity"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/middleware"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/ratelimit"
)

// registerValidators installs the custom binding checks used by the
// request structs. Repeated registration overwrites, so calling Setup
// more than once (tests) is harmless.
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("querymode", func(fl validator.FieldLevel) bool {
		return datatypes.QueryMode(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("perfmode", func(fl validator.FieldLevel) bool {
		return datatypes.PerformanceMode(fl.Field().String()).Valid()
	})
}

// Setup wires the middleware chain and every route group onto router.
// Middleware order is fixed: CORS → identity → rate gate → logging →
// recovery → tracing → handler.
func Setup(router *gin.Engine, deps *handlers.Deps,
	extractor *identity.Extractor, limiter *ratelimit.Limiter) {

	registerValidators()

	router.Use(middleware.CORS())
	router.Use(middleware.Identity(extractor))
	router.Use(middleware.RateGate(limiter))
	router.Use(middleware.RequestLogger(deps.Log, deps.Metrics))
	router.Use(middleware.Recovery(deps.Log))
	router.Use(otelgin.Middleware("ragserver"))

	v1 := router.Group("/api/v1")
	{
		// System
		v1.GET("/health", handlers.Health(deps))
		v1.GET("/system/status", handlers.SystemStatus(deps))
		v1.GET("/metrics", handlers.MetricsSnapshot(deps))
		v1.GET("/logs", handlers.Logs(deps))

		// Query
		v1.POST("/query", handlers.Query(deps))
		v1.POST("/query/analyze", handlers.QueryAnalyze(deps))
		v1.POST("/query/safe", handlers.QuerySafe(deps))
		v1.POST("/query/batch", handlers.QueryBatch(deps))
		v1.GET("/query/modes", handlers.QueryModes(deps))

		// Ingest
		v1.POST("/insert/text", handlers.InsertText(deps))
		v1.POST("/insert/texts", handlers.InsertTexts(deps))
		v1.POST("/insert/file", handlers.InsertFile(deps))
		v1.POST("/insert/files", handlers.InsertFiles(deps))
		v1.POST("/insert/directory", handlers.InsertDirectory(deps))

		// Knowledge bases
		v1.GET("/knowledge-bases", handlers.KBList(deps))
		v1.POST("/knowledge-bases", handlers.KBCreate(deps))
		v1.POST("/knowledge-bases/switch", handlers.KBSwitch(deps))
		v1.GET("/knowledge-bases/current", handlers.KBCurrent(deps))
		v1.DELETE("/knowledge-bases/:name", handlers.KBDelete(deps))
		v1.PUT("/knowledge-bases/:name/config", handlers.KBUpdateConfig(deps))
		v1.POST("/knowledge-bases/:name/backup", handlers.KBBackup(deps))
		v1.POST("/knowledge-bases/:name/restore", handlers.KBRestore(deps))

		// Knowledge graph
		v1.POST("/knowledge-graph", handlers.GraphSubgraph(deps))
		v1.GET("/knowledge-graph/stats", handlers.GraphStats(deps))
		v1.DELETE("/knowledge-graph/clear", handlers.GraphClear(deps))

		// Intent
		v1.POST("/intent/analyze", handlers.IntentAnalyze(deps))
		v1.POST("/intent/safety-check", handlers.IntentSafetyCheck(deps))
		v1.POST("/intent/status", handlers.IntentStatus(deps))
		v1.GET("/intent-config", handlers.IntentConfigGet(deps))
		v1.POST("/intent-config/update", handlers.IntentConfigUpdate(deps))

		// QA store
		v1.POST("/qa/pairs", handlers.QAAddPair(deps))
		v1.POST("/qa/pairs/batch", handlers.QAAddBatch(deps))
		v1.GET("/qa/pairs", handlers.QAListPairs(deps))
		v1.GET("/qa/pairs/:id", handlers.QAGetPair(deps))
		v1.PUT("/qa/pairs/:id", handlers.QAUpdatePair(deps))
		v1.DELETE("/qa/pairs/:id", handlers.QADeletePair(deps))
		v1.POST("/qa/query", handlers.QAQuery(deps))
		v1.POST("/qa/query/batch", handlers.QAQueryBatch(deps))
		v1.POST("/qa/import", handlers.QAImport(deps))
		v1.GET("/qa/export", handlers.QAExport(deps))
		v1.GET("/qa/statistics", handlers.QAStatistics(deps))
		v1.GET("/qa/categories", handlers.QACategories(deps))
		v1.DELETE("/qa/categories/:category", handlers.QADeleteCategory(deps))

		// Caches
		v1.GET("/cache/stats", handlers.CacheStats(deps))
		v1.DELETE("/cache/clear", handlers.CacheClearAll(deps))
		v1.DELETE("/cache/clear/:type", handlers.CacheClearType(deps))
	}
}
