// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the HTTP middleware chain of the RAG
// server, outermost first: CORS → identity extraction → rate gate →
// request logging → recovery. Every middleware is non-optional.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/identity"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/observability"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/ratelimit"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	identityKey = "ragserver_identity"
	traceIDKey  = "ragserver_trace_id"
)

// GetIdentity returns the request identity set by the identity
// middleware. The zero identity is returned when the middleware has not
// run (tests hitting handlers directly).
func GetIdentity(c *gin.Context) datatypes.UserIdentity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(datatypes.UserIdentity); ok {
			return id
		}
	}
	return datatypes.UserIdentity{UserID: "unknown", Tier: "default"}
}

// GetTraceID returns the request trace id set by the logging middleware.
func GetTraceID(c *gin.Context) string {
	if v, ok := c.Get(traceIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// =============================================================================
// CORS
// =============================================================================

// CORS answers preflight requests and sets the cross-origin headers. The
// upstream gateway fronts real browsers; the permissive policy here keeps
// local tooling working.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-User-Id, X-Client-Id, X-User-Tier, X-Requested-With")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// =============================================================================
// Identity Extraction
// =============================================================================

// Identity derives the per-request user identity and stores it in the
// context for the rate gate and handlers.
func Identity(extractor *identity.Extractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(identityKey, extractor.FromRequest(c.Request))
		c.Next()
	}
}

// =============================================================================
// Rate Gate
// =============================================================================

// RateGate admits or rejects the request against the identity's bucket.
// The gate consumes the window slot here; downstream components only read
// the identity, so a request is charged exactly once.
func RateGate(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		decision := limiter.Admit(id)
		if decision == datatypes.DecisionAccept {
			c.Next()
			return
		}

		reason := "rate limit exceeded for tier " + id.Tier
		if decision == datatypes.DecisionRejectInterval {
			reason = "minimum request interval not elapsed"
		}
		err := fmt.Errorf("%s: %w", reason, datatypes.ErrRateLimited)
		c.AbortWithStatusJSON(http.StatusTooManyRequests,
			datatypes.Fail(err, gin.H{"decision": decision.String(), "tier": id.Tier}))
	}
}

// =============================================================================
// Request Logging
// =============================================================================

// RequestLogger generates the trace id, logs request start/end, and feeds
// the metrics. It sits after the rate gate, so requests the gate rejects
// with 429 are neither logged nor counted here.
func RequestLogger(log *logging.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := uuid.New().String()
		c.Set(traceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		id := GetIdentity(c)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		metrics.Observe(c.Request.Method, route, id.Tier, status, latency,
			c.Request.ContentLength, int64(c.Writer.Size()))

		fields := []any{
			"trace_id", traceID,
			"method", c.Request.Method,
			"route", route,
			"identity", id.UserID,
			"tier", id.Tier,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		}
		if span := trace.SpanContextFromContext(c.Request.Context()); span.IsValid() {
			fields = append(fields, "otel_trace_id", span.TraceID().String())
		}
		log.Info("request", fields...)
	}
}

// =============================================================================
// Panic Recovery
// =============================================================================

// Recovery converts handler panics into internal-error envelopes without
// taking the process down. The trace id ties the log line to the failed
// response.
func Recovery(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					"trace_id", GetTraceID(c),
					"route", c.Request.URL.Path,
					"panic", fmt.Sprint(r),
				)
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError,
						datatypes.FailMessage(datatypes.ErrInternal, "internal error"))
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}
