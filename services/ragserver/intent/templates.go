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

import "github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"

// =============================================================================
// Built-in Vocabulary and Patterns
// =============================================================================

// builtinSensitiveWords seeds the DFA when no vocabulary file is
// configured. Production deployments ship a much larger list on disk; this
// floor keeps the safety gate meaningful out of the box.
var builtinSensitiveWords = map[string][]string{
	"weapons": {
		"bomb", "explosive", "detonator", "grenade", "firearm",
		"make a bomb", "build a bomb", "pipe bomb",
	},
	"drugs": {
		"methamphetamine", "synthesize meth", "cook meth", "fentanyl synthesis",
	},
	"cybercrime": {
		"ransomware", "keylogger", "credential stuffing", "ddos attack",
		"sql injection attack",
	},
	"fraud": {
		"fraud", "phishing", "money laundering", "identity theft", "ponzi scheme",
	},
	"violence": {
		"kill someone", "hurt someone", "poison someone",
	},
}

// illegalCategories marks which DFA categories escalate to the illegal
// safety level. Other categories mark the text suspicious.
var illegalCategories = map[string]bool{
	"weapons":    true,
	"drugs":      true,
	"cybercrime": true,
	"violence":   true,
	"fraud":      true,
}

// educationalPatterns cancel an illegal escalation: the query is about
// recognizing or defending against the harm.
var educationalPatterns = []string{
	"how to prevent", "how to recognize", "how to identify", "how to avoid",
	"how to protect", "how to detect", "how to report", "how to defend",
	"warning signs of", "awareness of", "protect yourself from",
	"recognize and prevent",
}

// instructivePatterns re-escalate: the query asks for operational
// instructions, which overrides an educational phrasing.
var instructivePatterns = []string{
	"how to make", "how to build", "how to create", "how to manufacture",
	"how to synthesize", "how to carry out", "how to commit", "how to execute",
	"step by step to", "instructions for making", "recipe for",
}

// =============================================================================
// Enhancement Templates
// =============================================================================

// enhancementTemplates map intent type to the query-enhancement template.
// The %s placeholder receives the original query. Templates live in code,
// not config; runtime overrides go through the engine's config bundle.
var enhancementTemplates = map[datatypes.IntentType]string{
	datatypes.IntentKnowledgeQuery:     "Please provide a comprehensive, well-sourced answer: %s",
	datatypes.IntentFactualQuestion:    "Please answer precisely and cite the relevant facts: %s",
	datatypes.IntentAnalyticalQuestion: "Please analyze step by step, comparing the relevant factors: %s",
	datatypes.IntentProceduralQuestion: "Please explain the procedure clearly, step by step: %s",
	datatypes.IntentCreativeRequest:    "Please respond creatively while staying grounded in the source material: %s",
	datatypes.IntentOther:              "%s",
}

// defaultSuggestions are returned alongside an analysis to guide callers.
var defaultSuggestions = map[datatypes.IntentType][]string{
	datatypes.IntentKnowledgeQuery: {
		"Narrow the question to a specific aspect for a more focused answer",
	},
	datatypes.IntentProceduralQuestion: {
		"Mention your starting point so steps can be tailored",
	},
}

// safetyTips are returned on rejection.
var safetyTips = []string{
	"This service answers knowledge questions; requests for harmful instructions are refused",
	"If you are researching safety topics, phrase the question around prevention or detection",
}

// safeAlternatives suggest reformulations on rejection.
var safeAlternatives = []string{
	"How can I recognize and protect against this kind of threat?",
	"What are the warning signs and prevention measures for this risk?",
	"What does the law say about this topic?",
}

// analysisPromptTemplate is the LLM analysis prompt. The reply must be a
// JSON object with intent_type and safety_level fields.
const analysisPromptTemplate = `You are a query-intent classifier for a retrieval service.
Classify the user query below.

Respond with ONLY a JSON object of this exact shape:
{"intent_type": "<one of: knowledge_query, factual_question, analytical_question, procedural_question, creative_request, illegal_content, other>",
 "safety_level": "<one of: safe, suspicious, unsafe, illegal>",
 "risk_factors": ["<short reason>", ...]}

Query: %s`
