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

import "time"

// =============================================================================
// QA Pairs
// =============================================================================

// QAPair is one curated question→answer unit.
//
// The embedding vector of Question is stored alongside the pair in its
// category's matrix, not on the pair itself; Vector is populated only on
// export when requested.
type QAPair struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	Keywords   []string  `json:"keywords,omitempty"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QAPairRequest is the body of POST /qa/pairs and PUT /qa/pairs/{id}.
type QAPairRequest struct {
	Question   string   `json:"question" binding:"required"`
	Answer     string   `json:"answer" binding:"required"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Keywords   []string `json:"keywords"`
	Source     string   `json:"source"`
}

// QABatchRequest is the body of POST /qa/pairs/batch.
type QABatchRequest struct {
	Pairs []QAPairRequest `json:"pairs" binding:"required,min=1,dive"`
}

// QABatchOutcome reports the per-pair result of a batch add. Failures do
// not roll back successes.
type QABatchOutcome struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []QABatchItem    `json:"results"`
}

// QABatchItem is one entry of a batch outcome.
type QABatchItem struct {
	Index   int    `json:"index"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// =============================================================================
// QA Query
// =============================================================================

// QAQueryRequest is the body of POST /qa/query.
type QAQueryRequest struct {
	Question      string  `json:"question" binding:"required"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
	Category      string  `json:"category"`
}

// QAQueryBatchRequest is the body of POST /qa/query/batch.
type QAQueryBatchRequest struct {
	Questions     []string `json:"questions" binding:"required,min=1"`
	TopK          int      `json:"top_k"`
	MinSimilarity float64  `json:"min_similarity"`
	Category      string   `json:"category"`
}

// QAMatch is one similarity hit.
type QAMatch struct {
	Pair       QAPair  `json:"pair"`
	Similarity float64 `json:"similarity"`
}

// QAQueryResult is the outcome of a similarity query. Found is true iff the
// best match clears the similarity floor; Answer then repeats the best
// pair's answer for convenience.
type QAQueryResult struct {
	Found      bool      `json:"found"`
	Answer     string    `json:"answer,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	Matches    []QAMatch `json:"matches,omitempty"`
}

// =============================================================================
// QA Import / Export / Statistics
// =============================================================================

// QAImportOutcome reports an import run.
type QAImportOutcome struct {
	Processed        int              `json:"processed"`
	Succeeded        int              `json:"succeeded"`
	Failed           int              `json:"failed"`
	DuplicateSkipped int              `json:"duplicate_skipped"`
	FailedRecords    []QAFailedRecord `json:"failed_records,omitempty"`
}

// QAFailedRecord names one import record that could not be stored.
type QAFailedRecord struct {
	Index   int    `json:"index"`
	Reason  string `json:"reason"`
	Question string `json:"question,omitempty"`
}

// QAStatistics aggregates the store for GET /qa/statistics.
type QAStatistics struct {
	TotalPairs          int            `json:"total_pairs"`
	Categories          map[string]int `json:"categories"`
	AverageConfidence   float64        `json:"average_confidence"`
	SimilarityThreshold float64        `json:"similarity_threshold"`
	VectorDimension     int            `json:"vector_dimension"`
}

// QADeleteCategoryOutcome reports a category removal.
type QADeleteCategoryOutcome struct {
	DeletedCount  int  `json:"deleted_count"`
	FolderDeleted bool `json:"folder_deleted"`
}
