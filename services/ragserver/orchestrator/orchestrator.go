// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator glues the query pipeline together: identity is
// already admitted by middleware, intent analysis and the safety gate run
// first, then enhancement, then retrieval and generation, streamed or
// collected.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Interfaces
// =============================================================================

// RetrievalEngine is the slice of the retrieval engine the orchestrator
// uses. Tests substitute a counting stub to verify the analyze/safe
// contract.
type RetrievalEngine interface {
	Query(ctx context.Context, req datatypes.QueryRequest) (*datatypes.QueryResult, error)
	QueryStream(ctx context.Context, req datatypes.QueryRequest) (*retrieval.Stream, error)
}

// IntentEngine is the slice of the intent engine the orchestrator uses.
type IntentEngine interface {
	Analyze(ctx context.Context, query string, context map[string]any) (*datatypes.QueryAnalysis, error)
}

// =============================================================================
// Orchestrator
// =============================================================================

// Defaults are the flag values applied when a request leaves them unset.
type Defaults struct {
	EnableIntentAnalysis   bool
	EnableQueryEnhancement bool
	SafetyCheck            bool
}

// Orchestrator runs the per-request pipeline. It holds no mutable state;
// everything request-scoped flows through arguments.
type Orchestrator struct {
	engine   RetrievalEngine
	intent   IntentEngine
	defaults Defaults
	log      *logging.Logger
}

// New builds an orchestrator.
func New(engine RetrievalEngine, intentEngine IntentEngine, defaults Defaults, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		intent:   intentEngine,
		defaults: defaults,
		log:      log.With("component", "orchestrator"),
	}
}

// flag resolves a tri-state request flag against its default.
func flag(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// analyzeIfNeeded runs intent analysis when any flag asks for it. Returns
// nil when analysis is off.
func (o *Orchestrator) analyzeIfNeeded(ctx context.Context, req *datatypes.QueryRequest) (*datatypes.QueryAnalysis, error) {
	wantAnalysis := flag(req.EnableIntentAnalysis, o.defaults.EnableIntentAnalysis)
	wantSafety := flag(req.SafetyCheck, o.defaults.SafetyCheck)
	wantEnhancement := flag(req.EnableQueryEnhancement, o.defaults.EnableQueryEnhancement)
	if !wantAnalysis && !wantSafety && !wantEnhancement {
		return nil, nil
	}
	return o.intent.Analyze(ctx, req.Query, nil)
}

// gate enforces the safety decision. A rejectable analysis terminates the
// pipeline with ErrRejectedBySafety; the analysis rides along for the
// response body.
func (o *Orchestrator) gate(req *datatypes.QueryRequest, analysis *datatypes.QueryAnalysis) error {
	if analysis == nil {
		return nil
	}
	if flag(req.SafetyCheck, o.defaults.SafetyCheck) && analysis.ShouldReject {
		return fmt.Errorf("query rejected, safety level %s: %w",
			analysis.SafetyLevel, datatypes.ErrRejectedBySafety)
	}
	if flag(req.EnableQueryEnhancement, o.defaults.EnableQueryEnhancement) && analysis.EnhancedQuery != "" {
		req.Query = analysis.EnhancedQuery
	}
	return nil
}

// Execute runs the non-streaming pipeline.
func (o *Orchestrator) Execute(ctx context.Context, req datatypes.QueryRequest) (*datatypes.QueryResult, error) {
	analysis, err := o.analyzeIfNeeded(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := o.gate(&req, analysis); err != nil {
		return &datatypes.QueryResult{
			Query:    req.Query,
			Mode:     req.Mode,
			Analysis: analysis,
		}, err
	}

	result, err := o.engine.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Analysis = analysis
	return result, nil
}

// ExecuteStream runs the streaming pipeline. The safety gate fires before
// the stream opens, so a rejected query never reaches the engine.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req datatypes.QueryRequest) (*retrieval.Stream, *datatypes.QueryAnalysis, error) {
	analysis, err := o.analyzeIfNeeded(ctx, &req)
	if err != nil {
		return nil, nil, err
	}
	if err := o.gate(&req, analysis); err != nil {
		return nil, analysis, err
	}

	stream, err := o.engine.QueryStream(ctx, req)
	if err != nil {
		return nil, analysis, err
	}
	return stream, analysis, nil
}

// Analyze serves /query/analyze: analysis only, the retrieval engine is
// never invoked.
func (o *Orchestrator) Analyze(ctx context.Context, query string, queryContext map[string]any) (*datatypes.QueryAnalysis, error) {
	return o.intent.Analyze(ctx, query, queryContext)
}

// SafeQuery serves /query/safe: analyze, then retrieve iff the safety
// result allows it. The returned analysis is always present.
func (o *Orchestrator) SafeQuery(ctx context.Context, req datatypes.QueryRequest) (*datatypes.QueryResult, *datatypes.QueryAnalysis, error) {
	start := time.Now()

	analysis, err := o.intent.Analyze(ctx, req.Query, nil)
	if err != nil {
		return nil, nil, err
	}
	if analysis.ShouldReject {
		return nil, analysis, fmt.Errorf("query rejected, safety level %s: %w",
			analysis.SafetyLevel, datatypes.ErrRejectedBySafety)
	}

	if flag(req.EnableQueryEnhancement, o.defaults.EnableQueryEnhancement) && analysis.EnhancedQuery != "" {
		req.Query = analysis.EnhancedQuery
	}

	result, err := o.engine.Query(ctx, req)
	if err != nil {
		return nil, analysis, err
	}
	result.Analysis = analysis
	result.ResponseTime = time.Since(start).Seconds()
	return result, analysis, nil
}

// ExecuteBatch runs each query of a batch independently; one failure does
// not fail the batch.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, req datatypes.BatchQueryRequest) *datatypes.BatchQueryResult {
	out := &datatypes.BatchQueryResult{Results: make([]datatypes.BatchQueryItem, len(req.Queries))}
	for i, q := range req.Queries {
		q.Stream = false
		result, err := o.Execute(ctx, q)
		if err != nil {
			out.Results[i] = datatypes.BatchQueryItem{
				Index:     i,
				ErrorCode: datatypes.ErrorCode(err),
				Message:   err.Error(),
			}
			continue
		}
		out.Results[i] = datatypes.BatchQueryItem{Index: i, Success: true, Result: result}
	}
	return out
}
