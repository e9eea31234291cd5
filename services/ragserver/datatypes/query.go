// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// Query Modes
// =============================================================================

// QueryMode selects one of the six retrieval pipelines.
type QueryMode string

const (
	// ModeNaive is plain top-k vector search.
	ModeNaive QueryMode = "naive"

	// ModeLocal expands vector hits by their one-hop graph neighbors.
	ModeLocal QueryMode = "local"

	// ModeGlobal traverses the graph by community/summary structure
	// without consulting the vector index.
	ModeGlobal QueryMode = "global"

	// ModeHybrid merges local and global results and re-ranks.
	ModeHybrid QueryMode = "hybrid"

	// ModeMix interleaves retrieval with generation planning.
	ModeMix QueryMode = "mix"

	// ModeBypass returns the raw input without retrieval or LLM calls.
	ModeBypass QueryMode = "bypass"
)

// ValidQueryModes lists every accepted mode in display order.
var ValidQueryModes = []QueryMode{
	ModeNaive, ModeLocal, ModeGlobal, ModeHybrid, ModeMix, ModeBypass,
}

// Valid reports whether m is a recognized query mode.
func (m QueryMode) Valid() bool {
	for _, v := range ValidQueryModes {
		if m == v {
			return true
		}
	}
	return false
}

// ModeDescription maps each mode to the human description served by
// GET /query/modes.
var ModeDescription = map[QueryMode]string{
	ModeNaive:  "Plain top-k vector similarity search over chunks",
	ModeLocal:  "Vector hits expanded by one-hop knowledge-graph neighbors",
	ModeGlobal: "Community and summary traversal over the knowledge graph",
	ModeHybrid: "Local and global results merged and re-ranked",
	ModeMix:    "Retrieval interleaved with generation planning",
	ModeBypass: "Echoes the input without retrieval; debugging only",
}

// PerformanceMode trades answer quality against latency.
type PerformanceMode string

const (
	// PerfFast minimizes latency: small fanout, no rerank depth.
	PerfFast PerformanceMode = "fast"

	// PerfBalanced is the default tuning.
	PerfBalanced PerformanceMode = "balanced"

	// PerfQuality maximizes answer quality: wide fanout, deep rerank.
	PerfQuality PerformanceMode = "quality"
)

// Valid reports whether p is a recognized performance mode.
func (p PerformanceMode) Valid() bool {
	return p == PerfFast || p == PerfBalanced || p == PerfQuality
}

// =============================================================================
// Query Request / Response
// =============================================================================

// QueryRequest is the body of POST /query, /query/safe, and each element of
// /query/batch.
type QueryRequest struct {
	Query           string          `json:"query" binding:"required"`
	Mode            QueryMode       `json:"mode" binding:"omitempty,querymode"`
	TopK            int             `json:"top_k" binding:"omitempty,min=1,max=100"`
	Stream          bool            `json:"stream"`
	KnowledgeBase   string          `json:"knowledge_base"`
	Language        string          `json:"language"`
	PerformanceMode PerformanceMode `json:"performance_mode" binding:"omitempty,perfmode"`
	Filters         map[string]any  `json:"filters"`

	// Orchestration flags. Pointers distinguish "absent" from "false" so
	// the orchestrator can apply configured defaults.
	EnableIntentAnalysis   *bool `json:"enable_intent_analysis"`
	EnableQueryEnhancement *bool `json:"enable_query_enhancement"`
	SafetyCheck            *bool `json:"safety_check"`
}

// RetrievedChunk is one context fragment selected by the retrieval engine.
type RetrievedChunk struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
	Document string  `json:"document_id,omitempty"`
	Source   string  `json:"source,omitempty"`
}

// QueryResult is the non-streaming answer of the retrieval pipeline.
type QueryResult struct {
	Query         string           `json:"query"`
	Mode          QueryMode        `json:"mode"`
	Answer        string           `json:"answer"`
	KnowledgeBase string           `json:"knowledge_base"`
	Language      string           `json:"language,omitempty"`
	Chunks        []RetrievedChunk `json:"chunks,omitempty"`
	ResponseTime  float64          `json:"response_time"`

	// Intent analysis outcome, present when analysis ran.
	Analysis *QueryAnalysis `json:"analysis,omitempty"`
}

// BatchQueryRequest is the body of POST /query/batch.
type BatchQueryRequest struct {
	Queries []QueryRequest `json:"queries" binding:"required,min=1,dive"`
}

// BatchQueryResult pairs each request with its outcome.
type BatchQueryResult struct {
	Results []BatchQueryItem `json:"results"`
}

// BatchQueryItem is one entry of a batch result. Failed items carry the
// error code instead of an answer; the batch itself never fails wholesale.
type BatchQueryItem struct {
	Index     int          `json:"index"`
	Success   bool         `json:"success"`
	Result    *QueryResult `json:"result,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
	Message   string       `json:"message,omitempty"`
}
