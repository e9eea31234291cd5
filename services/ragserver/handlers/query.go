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
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/middleware"
)

// =============================================================================
// Query Routes
// =============================================================================

// Query serves POST /query: full retrieval, streamed when stream=true.
func Query(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		if !req.Stream {
			result, err := deps.Orchestrator.Execute(c.Request.Context(), req)
			if err != nil {
				var details any
				if result != nil {
					details = result.Analysis
				}
				fail(c, deps, err, details)
				return
			}
			respond(c, "query completed", result)
			return
		}

		streamQuery(c, deps, req)
	}
}

// streamQuery runs the streaming pipeline and writes the SSE events.
// Client disconnects cancel the downstream LLM call via the request
// context; no done event is written after a disconnect.
func streamQuery(c *gin.Context, deps *Deps, req datatypes.QueryRequest) {
	start := time.Now()
	ctx := c.Request.Context()

	stream, analysis, err := deps.Orchestrator.ExecuteStream(ctx, req)
	if err != nil {
		if errors.Is(err, datatypes.ErrRejectedBySafety) {
			fail(c, deps, err, analysis)
			return
		}
		fail(c, deps, err, nil)
		return
	}
	defer stream.Close()

	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		fail(c, deps, datatypes.ErrInternal, nil)
		return
	}

	deps.Metrics.ActiveStreams.Inc()
	defer deps.Metrics.ActiveStreams.Dec()

	meta := stream.Metadata
	meta.TraceID = middleware.GetTraceID(c)
	if err := writer.WriteMetadata(meta); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			deps.Log.Info("stream cancelled by client",
				"trace_id", meta.TraceID, "kb", meta.KnowledgeBase)
			return
		default:
		}

		fragment, ok, err := stream.Next()
		if err != nil {
			if errors.Is(err, ctx.Err()) && ctx.Err() != nil {
				deps.Log.Info("stream cancelled by client",
					"trace_id", meta.TraceID, "kb", meta.KnowledgeBase)
				return
			}
			deps.Log.Error("stream failed mid-flight",
				"trace_id", meta.TraceID, "error", err.Error())
			_ = writer.WriteError("generation failed", datatypes.ErrorCode(err))
			return
		}
		if !ok {
			_ = writer.WriteDone(time.Since(start).Seconds())
			return
		}
		if err := writer.WriteContent(fragment); err != nil {
			// Broken pipe: the client went away between the context
			// check and the write.
			deps.Log.Info("stream cancelled by client",
				"trace_id", meta.TraceID, "kb", meta.KnowledgeBase)
			return
		}
	}
}

// QueryAnalyze serves POST /query/analyze: analysis only; the retrieval
// engine is never invoked.
func QueryAnalyze(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		analysis, err := deps.Orchestrator.Analyze(c.Request.Context(), req.Query, req.Context)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "analysis completed", analysis)
	}
}

// QuerySafe serves POST /query/safe: analyze, then retrieve iff allowed.
// A rejected query answers success=true with should_reject in the data so
// gateway clients read one shape for both outcomes.
func QuerySafe(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		result, analysis, err := deps.Orchestrator.SafeQuery(c.Request.Context(), req)
		if err != nil {
			if errors.Is(err, datatypes.ErrRejectedBySafety) {
				respond(c, "query rejected by safety check", analysis)
				return
			}
			fail(c, deps, err, nil)
			return
		}
		respond(c, "query completed", result)
	}
}

// QueryBatch serves POST /query/batch.
func QueryBatch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BatchQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		respond(c, "batch completed", deps.Orchestrator.ExecuteBatch(c.Request.Context(), req))
	}
}

// QueryModes serves GET /query/modes.
func QueryModes(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		modes := make([]gin.H, 0, len(datatypes.ValidQueryModes))
		for _, m := range datatypes.ValidQueryModes {
			modes = append(modes, gin.H{
				"mode":        m,
				"description": datatypes.ModeDescription[m],
			})
		}
		respond(c, "supported query modes", gin.H{"modes": modes})
	}
}
