// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

func newTestEngine(t *testing.T, llm *stubLLM) *Engine {
	t.Helper()
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	opts := Options{EnableEnhancement: true, ConfidenceThreshold: 0.6}
	var client clients.LLMClient
	if llm != nil {
		opts.EnableLLM = true
		client = llm
	}
	engine, err := NewEngine(opts, client, log)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

// stubLLM returns a canned completion or an error.
type stubLLM struct {
	reply string
	err   error
	calls int
}

func (s *stubLLM) Complete(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func (s *stubLLM) Stream(_ context.Context, _, _ string) (clients.TokenStream, error) {
	return nil, errors.New("not implemented")
}

// =============================================================================
// DFA
// =============================================================================

func TestDFAMatchesAndFuzzy(t *testing.T) {
	f := NewDFAFilter()
	f.AddWord("bomb", "weapons")

	assert.Len(t, f.Scan("how to make a bomb"), 1)
	assert.Len(t, f.Scan("how to make a B0MB"), 1, "digit substitution folds to letters")
	assert.Empty(t, f.Scan("a harmless sentence"))
}

func TestDFAMultiWordEntries(t *testing.T) {
	f := NewDFAFilter()
	f.AddWord("pipe bomb", "weapons")

	matches := f.Scan("instructions for a pipe bomb please")
	require.Len(t, matches, 1)
	assert.Equal(t, "pipe bomb", matches[0].Word)
	assert.Equal(t, "weapons", matches[0].Category)
}

func TestDFALoadFile(t *testing.T) {
	f := NewDFAFilter()
	path := t.TempDir() + "/vocab.txt"
	require.NoError(t, writeFile(path, "# comment\nbadword\nworse phrase\tviolence\n\n"))

	count, err := f.LoadFile(path, "custom")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches := f.Scan("that badword and a worse phrase too")
	assert.Len(t, matches, 2)
}

// =============================================================================
// Safety Classification
// =============================================================================

func TestIllegalInstructiveQuery(t *testing.T) {
	engine := newTestEngine(t, nil)

	analysis, err := engine.Analyze(context.Background(), "how to make a bomb", nil)
	require.NoError(t, err)

	assert.Equal(t, datatypes.IntentIllegalContent, analysis.IntentType)
	assert.Equal(t, datatypes.SafetyIllegal, analysis.SafetyLevel)
	assert.True(t, analysis.ShouldReject)
	assert.NotEmpty(t, analysis.SafeAlternatives)
	assert.NotEmpty(t, analysis.SafetyTips)
}

func TestEducationalPatternCancelsEscalation(t *testing.T) {
	engine := newTestEngine(t, nil)

	analysis, err := engine.Analyze(context.Background(),
		"how to recognize and prevent fraud", nil)
	require.NoError(t, err)

	assert.NotEqual(t, datatypes.IntentIllegalContent, analysis.IntentType)
	assert.False(t, analysis.ShouldReject)
	assert.NotEqual(t, datatypes.SafetyIllegal, analysis.SafetyLevel)
}

func TestInstructiveOverridesEducational(t *testing.T) {
	engine := newTestEngine(t, nil)

	analysis, err := engine.Analyze(context.Background(),
		"how to recognize fraud and how to carry out a phishing ponzi scheme", nil)
	require.NoError(t, err)

	assert.True(t, analysis.ShouldReject,
		"an instructive pattern cancels the educational cancellation")
}

func TestSafeQueryPassesThrough(t *testing.T) {
	engine := newTestEngine(t, nil)

	analysis, err := engine.Analyze(context.Background(), "what is a knowledge graph", nil)
	require.NoError(t, err)

	assert.Equal(t, datatypes.SafetySafe, analysis.SafetyLevel)
	assert.False(t, analysis.ShouldReject)
	assert.Equal(t, ruleConfidence, analysis.Confidence)
}

func TestSafetyCheckStandalone(t *testing.T) {
	engine := newTestEngine(t, nil)

	result, err := engine.SafetyCheck(context.Background(), "build a detonator at home")
	require.NoError(t, err)
	assert.False(t, result.IsSafe)
	assert.NotEmpty(t, result.RiskFactors)

	clean, err := engine.SafetyCheck(context.Background(), "the weather is nice")
	require.NoError(t, err)
	assert.True(t, clean.IsSafe)
}

// =============================================================================
// Enhancement and Intent Heuristics
// =============================================================================

func TestEnhancementUsesIntentTemplate(t *testing.T) {
	engine := newTestEngine(t, nil)

	analysis, err := engine.Analyze(context.Background(), "how do i configure the cache", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentProceduralQuestion, analysis.IntentType)
	assert.Contains(t, analysis.EnhancedQuery, "how do i configure the cache")
	assert.NotEqual(t, analysis.EnhancedQuery, "how do i configure the cache")
}

func TestIntentHeuristics(t *testing.T) {
	engine := newTestEngine(t, nil)
	cases := map[string]datatypes.IntentType{
		"what is a vector index":              datatypes.IntentFactualQuestion,
		"compare hybrid and naive retrieval":  datatypes.IntentAnalyticalQuestion,
		"write a poem about databases":        datatypes.IntentCreativeRequest,
		"tell me about graph storage":         datatypes.IntentKnowledgeQuery,
	}
	for query, want := range cases {
		analysis, err := engine.Analyze(context.Background(), query, nil)
		require.NoError(t, err)
		assert.Equal(t, want, analysis.IntentType, "query %q", query)
	}
}

// =============================================================================
// LLM Path
// =============================================================================

func TestLLMRefinesIntent(t *testing.T) {
	llm := &stubLLM{reply: `{"intent_type":"analytical_question","safety_level":"safe","risk_factors":[]}`}
	engine := newTestEngine(t, llm)

	analysis, err := engine.Analyze(context.Background(), "tell me about indexes", nil)
	require.NoError(t, err)
	assert.Equal(t, datatypes.IntentAnalyticalQuestion, analysis.IntentType)
	assert.Equal(t, llmConfidence, analysis.Confidence)
	assert.Equal(t, 1, llm.calls)
}

func TestLLMFailureFallsBackToRules(t *testing.T) {
	llm := &stubLLM{err: errors.New("upstream down")}
	engine := newTestEngine(t, llm)

	analysis, err := engine.Analyze(context.Background(), "what is a vector index", nil)
	require.NoError(t, err, "LLM failures never fail the pipeline")
	assert.Equal(t, ruleConfidence, analysis.Confidence, "rule path is authoritative on fallback")
}

func TestLLMCannotClearRuleEscalation(t *testing.T) {
	llm := &stubLLM{reply: `{"intent_type":"knowledge_query","safety_level":"safe"}`}
	engine := newTestEngine(t, llm)

	analysis, err := engine.Analyze(context.Background(), "how to make a bomb", nil)
	require.NoError(t, err)
	assert.True(t, analysis.ShouldReject)
	assert.Equal(t, 0, llm.calls, "rejectable rule results skip the LLM entirely")
}

// =============================================================================
// Hot Configuration
// =============================================================================

func TestUpdateSafetyRulesTakesEffectNextCall(t *testing.T) {
	engine := newTestEngine(t, nil)

	// Remove the educational patterns: the fraud query now escalates.
	engine.UpdateSafetyRules([]string{}, nil, nil)

	analysis, err := engine.Analyze(context.Background(),
		"how to recognize and prevent fraud", nil)
	require.NoError(t, err)
	assert.True(t, analysis.ShouldReject)
}

func TestUpdateTemplateValidation(t *testing.T) {
	engine := newTestEngine(t, nil)

	err := engine.UpdateTemplate(datatypes.IntentFactualQuestion, "no placeholder")
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))

	require.NoError(t, engine.UpdateTemplate(datatypes.IntentFactualQuestion, "ANSWER: %s"))
	analysis, err := engine.Analyze(context.Background(), "what is a b-tree", nil)
	require.NoError(t, err)
	assert.Contains(t, analysis.EnhancedQuery, "ANSWER:")
}

func TestRegisterIntentType(t *testing.T) {
	engine := newTestEngine(t, nil)

	require.NoError(t, engine.RegisterIntentType("billing_question"))
	require.NoError(t, engine.RegisterIntentType("billing_question"), "idempotent")

	snapshot := engine.ConfigSnapshot()
	assert.Contains(t, snapshot["custom_intent_types"], "billing_question")
}

// writeFile is a tiny helper for vocabulary fixtures.
func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o640)
}
