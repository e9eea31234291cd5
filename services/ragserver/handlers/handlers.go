// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers behind /api/v1.
//
// Handlers bind and validate requests, call the owning component, and
// wrap the outcome in the common envelope. All state rides in Deps: one
// owner value constructed at startup and threaded through explicitly; no
// package-level singletons.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/cache"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/config"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/documents"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/intent"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/observability"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/orchestrator"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/qa"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Dependencies
// =============================================================================

// Deps is the handler layer's view of the application: every component
// the routes need, owned by the server and passed in at mount time.
type Deps struct {
	Config       *config.Config
	Log          *logging.Logger
	Orchestrator *orchestrator.Orchestrator
	Intent       *intent.Engine
	QA           *qa.Store
	KB           *kb.Manager
	Ingestor     *documents.Ingestor
	Retrieval    *retrieval.Engine
	Caches       *cache.Coordinator
	Locks        *locks.KeyedTable
	Metrics      *observability.Metrics
	Health       *observability.HealthChecker
	LogTail      *observability.LogBuffer
}

// =============================================================================
// Response Helpers
// =============================================================================

// respond writes a success envelope.
func respond(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, datatypes.OK(message, data))
}

// fail maps err onto the taxonomy and writes the failure envelope. Safety
// rejections answer 200 with success=false; everything else uses the
// taxonomy's status.
func fail(c *gin.Context, deps *Deps, err error, details any) {
	status := datatypes.HTTPStatus(err)
	envelope := datatypes.Fail(err, details)

	if status >= http.StatusInternalServerError {
		deps.Log.Error("request failed",
			"trace_id", traceID(c), "route", c.FullPath(), "error", err.Error())
		// Internal detail stays in the logs, not the body.
		envelope = datatypes.FailMessage(err, "internal error")
		if errors.Is(err, datatypes.ErrStorageFailure) {
			envelope = datatypes.FailMessage(err, "storage failure")
		}
	}
	if deps.Metrics != nil {
		deps.Metrics.ObserveError(c.FullPath(), datatypes.ErrorCode(err))
	}
	c.JSON(status, envelope)
}

// badRequest writes a bad-input envelope from a binding error.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, datatypes.Fail(
		datatypes.BadInputf("invalid request: %v", err), nil))
}

// traceID mirrors middleware.GetTraceID without importing the package
// (handlers must not depend on middleware ordering to respond).
func traceID(c *gin.Context) string {
	if v, ok := c.Get("ragserver_trace_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// intQuery parses an integer query parameter with a default.
func intQuery(c *gin.Context, name string, def int) int {
	if raw := c.Query(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}

// floatQuery parses a float query parameter with a default.
func floatQuery(c *gin.Context, name string, def float64) float64 {
	if raw := c.Query(name); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return def
}
