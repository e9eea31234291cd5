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
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// Rule and LLM path confidences. The response surfaces which path ran.
const (
	ruleConfidence = 0.6
	llmConfidence  = 0.9
)

// =============================================================================
// Config Bundle
// =============================================================================

// Bundle is the engine's hot configuration: the DFA, pattern lists, and
// templates. It is immutable once published; updates build a new bundle
// and swap the pointer, taking effect atomically on the next call.
type Bundle struct {
	filter              *DFAFilter
	illegalCategories   map[string]bool
	educationalPatterns []string
	instructivePatterns []string
	templates           map[datatypes.IntentType]string
	customIntentTypes   []string
	vocabularyPath      string
	vocabularyWords     int
}

// clone deep-copies the mutable parts of a bundle for copy-on-write
// updates. The DFA is shared: it is itself replaced wholesale on reload.
func (b *Bundle) clone() *Bundle {
	nb := &Bundle{
		filter:            b.filter,
		illegalCategories: make(map[string]bool, len(b.illegalCategories)),
		templates:         make(map[datatypes.IntentType]string, len(b.templates)),
		vocabularyPath:    b.vocabularyPath,
		vocabularyWords:   b.vocabularyWords,
	}
	for k, v := range b.illegalCategories {
		nb.illegalCategories[k] = v
	}
	for k, v := range b.templates {
		nb.templates[k] = v
	}
	nb.educationalPatterns = append([]string(nil), b.educationalPatterns...)
	nb.instructivePatterns = append([]string(nil), b.instructivePatterns...)
	nb.customIntentTypes = append([]string(nil), b.customIntentTypes...)
	return nb
}

// =============================================================================
// Engine
// =============================================================================

// Options configures an Engine.
type Options struct {
	// VocabularyPath points at the sensitive-word file. Empty uses the
	// built-in seed list only.
	VocabularyPath string

	// EnableLLM turns on the LLM analysis path. The rule path always
	// runs; the LLM refines it and is never load-bearing.
	EnableLLM bool

	// ConfidenceThreshold is reported in Status; callers below it may
	// choose to ignore the classification.
	ConfidenceThreshold float64

	// EnableEnhancement controls whether enhanced_query is produced.
	EnableEnhancement bool
}

// Engine is the intent and safety classifier. Safe for concurrent use;
// configuration updates are copy-on-write.
type Engine struct {
	opts    Options
	llm     clients.LLMClient // may be nil
	log     *logging.Logger
	bundle  atomic.Pointer[Bundle]
	watcher *fsnotify.Watcher

	// Counters for Status.
	analyses  atomic.Uint64
	llmFallbacks atomic.Uint64
}

// NewEngine builds the engine, loading the vocabulary file when present
// and starting a watcher that hot-reloads it on change.
func NewEngine(opts Options, llm clients.LLMClient, log *logging.Logger) (*Engine, error) {
	e := &Engine{
		opts: opts,
		llm:  llm,
		log:  log.With("component", "intent_engine"),
	}

	bundle := &Bundle{
		filter:              buildBuiltinFilter(),
		illegalCategories:   illegalCategories,
		educationalPatterns: educationalPatterns,
		instructivePatterns: instructivePatterns,
		templates:           enhancementTemplates,
		vocabularyPath:      opts.VocabularyPath,
	}

	if opts.VocabularyPath != "" {
		count, err := bundle.filter.LoadFile(opts.VocabularyPath, "custom")
		if err != nil {
			e.log.Warn("sensitive vocabulary not loaded, using built-in list",
				"path", opts.VocabularyPath, "error", err.Error())
		} else {
			bundle.vocabularyWords = count
			e.log.Info("sensitive vocabulary loaded",
				"path", opts.VocabularyPath, "words", count)
		}
	}
	e.bundle.Store(bundle)

	if opts.VocabularyPath != "" {
		if err := e.watchVocabulary(opts.VocabularyPath); err != nil {
			e.log.Warn("vocabulary watcher unavailable", "error", err.Error())
		}
	}
	return e, nil
}

// buildBuiltinFilter seeds a DFA from the compiled word list.
func buildBuiltinFilter() *DFAFilter {
	f := NewDFAFilter()
	for category, words := range builtinSensitiveWords {
		f.AddWords(words, category)
	}
	return f
}

// watchVocabulary hot-reloads the DFA when the vocabulary file changes.
func (e *Engine) watchVocabulary(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}
	e.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				filter := buildBuiltinFilter()
				count, err := filter.LoadFile(path, "custom")
				if err != nil {
					e.log.Warn("vocabulary reload failed", "error", err.Error())
					continue
				}
				next := e.bundle.Load().clone()
				next.filter = filter
				next.vocabularyWords = count
				e.bundle.Store(next)
				e.log.Info("sensitive vocabulary reloaded", "words", count)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.log.Warn("vocabulary watcher error", "error", err.Error())
			}
		}
	}()
	return nil
}

// Close stops the vocabulary watcher.
func (e *Engine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

// =============================================================================
// Analysis Pipeline
// =============================================================================

// Analyze runs the full pipeline: normalize, rule scan, optional LLM
// refinement, enhancement.
func (e *Engine) Analyze(ctx context.Context, query string, _ map[string]any) (*datatypes.QueryAnalysis, error) {
	if strings.TrimSpace(query) == "" {
		return nil, datatypes.BadInputf("query must not be empty")
	}
	e.analyses.Add(1)
	bundle := e.bundle.Load()

	analysis := e.ruleAnalysis(bundle, query)

	if e.opts.EnableLLM && e.llm != nil && !analysis.SafetyLevel.Rejectable() {
		if refined, err := e.llmAnalysis(ctx, query); err == nil {
			// The rule scan still wins on risk: the LLM may only narrow,
			// never clear, a rule-detected escalation.
			refined.RiskFactors = analysis.RiskFactors
			if safetyRank(analysis.SafetyLevel) > safetyRank(refined.SafetyLevel) {
				refined.SafetyLevel = analysis.SafetyLevel
			}
			analysis = refined
		} else {
			e.llmFallbacks.Add(1)
			e.log.Warn("llm analysis failed, rule result authoritative", "error", err.Error())
		}
	}

	analysis.ShouldReject = analysis.SafetyLevel.Rejectable()
	if analysis.ShouldReject {
		analysis.IntentType = datatypes.IntentIllegalContent
		analysis.SafetyTips = safetyTips
		analysis.SafeAlternatives = safeAlternatives
		return analysis, nil
	}

	if e.opts.EnableEnhancement {
		if template, ok := bundle.templates[analysis.IntentType]; ok && template != "%s" {
			analysis.EnhancedQuery = fmt.Sprintf(template, query)
		}
	}
	analysis.Suggestions = defaultSuggestions[analysis.IntentType]
	return analysis, nil
}

// SafetyCheck runs only the safety part of the pipeline.
func (e *Engine) SafetyCheck(_ context.Context, content string) (*datatypes.SafetyCheckResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, datatypes.BadInputf("content must not be empty")
	}
	bundle := e.bundle.Load()
	level, risks := e.classifySafety(bundle, content)
	return &datatypes.SafetyCheckResult{
		IsSafe:      !level.Rejectable(),
		SafetyLevel: level,
		RiskFactors: risks,
	}, nil
}

// ruleAnalysis is the DFA + pattern classification path.
func (e *Engine) ruleAnalysis(bundle *Bundle, query string) *datatypes.QueryAnalysis {
	level, risks := e.classifySafety(bundle, query)
	return &datatypes.QueryAnalysis{
		IntentType:  classifyIntent(query, level),
		SafetyLevel: level,
		Confidence:  ruleConfidence,
		RiskFactors: risks,
	}
}

// classifySafety applies the escalation rule: an illegal-category match
// escalates to illegal unless an educational pattern cancels it; an
// instructive pattern cancels the educational cancellation.
func (e *Engine) classifySafety(bundle *Bundle, text string) (datatypes.SafetyLevel, []string) {
	matches := bundle.filter.Scan(text)
	if len(matches) == 0 {
		return datatypes.SafetySafe, nil
	}

	var risks []string
	illegal := false
	for _, m := range matches {
		risks = append(risks, fmt.Sprintf("sensitive term %q (%s)", m.Word, m.Category))
		if bundle.illegalCategories[m.Category] {
			illegal = true
		}
	}

	if !illegal {
		return datatypes.SafetySuspicious, risks
	}

	lower := strings.ToLower(text)
	educational := containsAny(lower, bundle.educationalPatterns)
	instructive := containsAny(lower, bundle.instructivePatterns)

	if educational && !instructive {
		return datatypes.SafetySuspicious, risks
	}
	return datatypes.SafetyIllegal, risks
}

// classifyIntent is the heuristic intent rule used when the LLM path is
// off or unavailable.
func classifyIntent(query string, level datatypes.SafetyLevel) datatypes.IntentType {
	if level.Rejectable() {
		return datatypes.IntentIllegalContent
	}
	lower := strings.ToLower(strings.TrimSpace(query))

	switch {
	case containsAny(lower, []string{"how to", "how do i", "how can i", "steps to", "procedure"}):
		return datatypes.IntentProceduralQuestion
	case containsAny(lower, []string{"why ", "analyze", "compare", "difference between", "pros and cons", "evaluate"}):
		return datatypes.IntentAnalyticalQuestion
	case containsAny(lower, []string{"write a", "compose", "poem", "story about", "imagine"}):
		return datatypes.IntentCreativeRequest
	case strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "who is") ||
		strings.HasPrefix(lower, "when") || strings.HasPrefix(lower, "where"):
		return datatypes.IntentFactualQuestion
	case strings.Contains(lower, "?") || len(lower) > 0:
		return datatypes.IntentKnowledgeQuery
	default:
		return datatypes.IntentOther
	}
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func safetyRank(l datatypes.SafetyLevel) int {
	switch l {
	case datatypes.SafetySafe:
		return 0
	case datatypes.SafetySuspicious:
		return 1
	case datatypes.SafetyUnsafe:
		return 2
	case datatypes.SafetyIllegal:
		return 3
	default:
		return 1
	}
}

// =============================================================================
// LLM Path
// =============================================================================

// llmReply is the expected JSON shape of the analysis prompt's answer.
type llmReply struct {
	IntentType  string   `json:"intent_type"`
	SafetyLevel string   `json:"safety_level"`
	RiskFactors []string `json:"risk_factors"`
}

// llmAnalysis sends the analysis prompt and parses the structured reply.
func (e *Engine) llmAnalysis(ctx context.Context, query string) (*datatypes.QueryAnalysis, error) {
	raw, err := e.llm.Complete(ctx, "", fmt.Sprintf(analysisPromptTemplate, query))
	if err != nil {
		return nil, err
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return nil, fmt.Errorf("unparseable analysis reply: %w", err)
	}

	return &datatypes.QueryAnalysis{
		IntentType:  datatypes.ParseIntentType(reply.IntentType),
		SafetyLevel: datatypes.ParseSafetyLevel(reply.SafetyLevel),
		Confidence:  llmConfidence,
		RiskFactors: reply.RiskFactors,
	}, nil
}

// extractJSON pulls the first {...} block out of a possibly chatty reply.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// =============================================================================
// Hot Configuration
// =============================================================================

// Status reports the engine's configuration and counters.
func (e *Engine) Status() map[string]any {
	bundle := e.bundle.Load()
	return map[string]any{
		"llm_enabled":          e.opts.EnableLLM && e.llm != nil,
		"enhancement_enabled":  e.opts.EnableEnhancement,
		"confidence_threshold": e.opts.ConfidenceThreshold,
		"vocabulary_path":      bundle.vocabularyPath,
		"vocabulary_words":     bundle.vocabularyWords,
		"builtin_words":        bundle.filter.WordCount(),
		"custom_intent_types":  bundle.customIntentTypes,
		"analyses":             e.analyses.Load(),
		"llm_fallbacks":        e.llmFallbacks.Load(),
	}
}

// RegisterIntentType records a custom intent type label. The label rides
// through HTTP I/O; rule classification maps it to "other".
func (e *Engine) RegisterIntentType(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return datatypes.BadInputf("intent type label must not be empty")
	}
	next := e.bundle.Load().clone()
	for _, existing := range next.customIntentTypes {
		if existing == label {
			return nil
		}
	}
	next.customIntentTypes = append(next.customIntentTypes, label)
	e.bundle.Store(next)
	return nil
}

// UpdateSafetyRules replaces the educational/instructive pattern lists
// and/or the illegal category set. Nil slices keep the current values.
func (e *Engine) UpdateSafetyRules(educational, instructive []string, illegal map[string]bool) {
	next := e.bundle.Load().clone()
	if educational != nil {
		next.educationalPatterns = educational
	}
	if instructive != nil {
		next.instructivePatterns = instructive
	}
	if illegal != nil {
		next.illegalCategories = illegal
	}
	e.bundle.Store(next)
}

// UpdateTemplate sets the enhancement template for one intent type. The
// template must contain a %s placeholder for the query.
func (e *Engine) UpdateTemplate(intentType datatypes.IntentType, template string) error {
	if !strings.Contains(template, "%s") {
		return datatypes.BadInputf("template must contain a %%s placeholder")
	}
	next := e.bundle.Load().clone()
	next.templates[intentType] = template
	e.bundle.Store(next)
	return nil
}

// ConfigSnapshot returns the current pattern lists and templates for the
// intent-config API.
func (e *Engine) ConfigSnapshot() map[string]any {
	bundle := e.bundle.Load()
	templates := make(map[string]string, len(bundle.templates))
	for k, v := range bundle.templates {
		templates[string(k)] = v
	}
	illegal := make([]string, 0, len(bundle.illegalCategories))
	for c, on := range bundle.illegalCategories {
		if on {
			illegal = append(illegal, c)
		}
	}
	return map[string]any{
		"educational_patterns": bundle.educationalPatterns,
		"instructive_patterns": bundle.instructivePatterns,
		"illegal_categories":   illegal,
		"templates":            templates,
		"custom_intent_types":  bundle.customIntentTypes,
	}
}
