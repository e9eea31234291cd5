// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Stubs
// =============================================================================

// countingEngine records how often the retrieval engine is reached.
type countingEngine struct {
	calls atomic.Int64
}

func (e *countingEngine) Query(_ context.Context, req datatypes.QueryRequest) (*datatypes.QueryResult, error) {
	e.calls.Add(1)
	return &datatypes.QueryResult{Query: req.Query, Mode: req.Mode, Answer: "stub answer"}, nil
}

func (e *countingEngine) QueryStream(_ context.Context, req datatypes.QueryRequest) (*retrieval.Stream, error) {
	e.calls.Add(1)
	return nil, errors.New("streaming not exercised here")
}

// scriptedIntent returns a fixed analysis.
type scriptedIntent struct {
	analysis datatypes.QueryAnalysis
	calls    atomic.Int64
}

func (s *scriptedIntent) Analyze(_ context.Context, _ string, _ map[string]any) (*datatypes.QueryAnalysis, error) {
	s.calls.Add(1)
	copied := s.analysis
	return &copied, nil
}

func safeAnalysis() datatypes.QueryAnalysis {
	return datatypes.QueryAnalysis{
		IntentType:  datatypes.IntentKnowledgeQuery,
		SafetyLevel: datatypes.SafetySafe,
		Confidence:  0.6,
	}
}

func illegalAnalysis() datatypes.QueryAnalysis {
	return datatypes.QueryAnalysis{
		IntentType:       datatypes.IntentIllegalContent,
		SafetyLevel:      datatypes.SafetyIllegal,
		ShouldReject:     true,
		SafetyTips:       []string{"tip"},
		SafeAlternatives: []string{"alternative"},
	}
}

func newOrch(engine RetrievalEngine, intent IntentEngine) *Orchestrator {
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	return New(engine, intent, Defaults{SafetyCheck: true, EnableIntentAnalysis: true}, log)
}

// =============================================================================
// Analyze vs Safe Contract
// =============================================================================

func TestAnalyzeNeverInvokesEngine(t *testing.T) {
	engine := &countingEngine{}
	orch := newOrch(engine, &scriptedIntent{analysis: safeAnalysis()})

	_, err := orch.Analyze(context.Background(), "any question", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), engine.calls.Load(), "/query/analyze performs analysis only")
}

func TestSafeQueryInvokesEngineWhenSafe(t *testing.T) {
	engine := &countingEngine{}
	orch := newOrch(engine, &scriptedIntent{analysis: safeAnalysis()})

	result, analysis, err := orch.SafeQuery(context.Background(), datatypes.QueryRequest{Query: "fine"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), engine.calls.Load())
	assert.Equal(t, "stub answer", result.Answer)
	assert.NotNil(t, analysis)
}

func TestSafeQuerySuspiciousStillRetrieves(t *testing.T) {
	engine := &countingEngine{}
	suspicious := safeAnalysis()
	suspicious.SafetyLevel = datatypes.SafetySuspicious
	orch := newOrch(engine, &scriptedIntent{analysis: suspicious})

	_, _, err := orch.SafeQuery(context.Background(), datatypes.QueryRequest{Query: "hmm"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), engine.calls.Load(), "suspicious passes the gate")
}

func TestSafeQueryRejectedSkipsEngine(t *testing.T) {
	engine := &countingEngine{}
	orch := newOrch(engine, &scriptedIntent{analysis: illegalAnalysis()})

	_, analysis, err := orch.SafeQuery(context.Background(), datatypes.QueryRequest{Query: "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrRejectedBySafety))
	assert.Equal(t, int64(0), engine.calls.Load(), "rejected queries never reach retrieval")
	assert.True(t, analysis.ShouldReject)
	assert.NotEmpty(t, analysis.SafeAlternatives)
}

// =============================================================================
// Execute Pipeline
// =============================================================================

func TestExecuteSafetyGate(t *testing.T) {
	engine := &countingEngine{}
	orch := newOrch(engine, &scriptedIntent{analysis: illegalAnalysis()})

	result, err := orch.Execute(context.Background(), datatypes.QueryRequest{Query: "bad"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrRejectedBySafety))
	assert.Equal(t, int64(0), engine.calls.Load())
	require.NotNil(t, result)
	assert.NotNil(t, result.Analysis, "the analysis rides along for the response body")
}

func TestExecuteSkipsAnalysisWhenAllFlagsOff(t *testing.T) {
	engine := &countingEngine{}
	intent := &scriptedIntent{analysis: safeAnalysis()}
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	orch := New(engine, intent, Defaults{}, log)

	_, err := orch.Execute(context.Background(), datatypes.QueryRequest{Query: "plain"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), intent.calls.Load())
	assert.Equal(t, int64(1), engine.calls.Load())
}

func TestExecuteAppliesEnhancement(t *testing.T) {
	engine := &countingEngine{}
	enhanced := safeAnalysis()
	enhanced.EnhancedQuery = "enhanced form of the query"
	orch := newOrch(engine, &scriptedIntent{analysis: enhanced})

	on := true
	result, err := orch.Execute(context.Background(), datatypes.QueryRequest{
		Query:                  "original",
		EnableQueryEnhancement: &on,
	})
	require.NoError(t, err)
	assert.Equal(t, "enhanced form of the query", result.Query,
		"the engine sees the enhanced query body")
}

func TestExecuteRequestFlagsOverrideDefaults(t *testing.T) {
	engine := &countingEngine{}
	intent := &scriptedIntent{analysis: illegalAnalysis()}
	orch := newOrch(engine, intent)

	off := false
	_, err := orch.Execute(context.Background(), datatypes.QueryRequest{
		Query:                "bad",
		SafetyCheck:          &off,
		EnableIntentAnalysis: &off,
	})
	require.NoError(t, err, "request-level flags disable the gate")
	assert.Equal(t, int64(1), engine.calls.Load())
}

// =============================================================================
// Batch
// =============================================================================

func TestExecuteBatchPartialFailure(t *testing.T) {
	engine := &countingEngine{}
	intent := &scriptedIntent{analysis: safeAnalysis()}
	orch := newOrch(engine, intent)

	out := orch.ExecuteBatch(context.Background(), datatypes.BatchQueryRequest{
		Queries: []datatypes.QueryRequest{
			{Query: "first"},
			{Query: "second"},
		},
	})
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Success)
	assert.True(t, out.Results[1].Success)
	assert.Equal(t, int64(2), engine.calls.Load())
}
