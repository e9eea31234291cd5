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
// Knowledge Bases
// =============================================================================

// KBConfig carries the per-KB tuning knobs. Changing it never rewrites
// stored documents; it only affects future ingest and retrieval.
type KBConfig struct {
	ChunkSize    int  `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int  `json:"chunk_overlap" yaml:"chunk_overlap"`
	AutoUpdate   bool `json:"auto_update" yaml:"auto_update"`
}

// KnowledgeBase is the metadata of one named tenant space.
type KnowledgeBase struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	WorkingDir  string    `json:"working_dir"`
	Config      KBConfig  `json:"config"`
	IsCurrent   bool      `json:"is_current"`
}

// KBCreateRequest is the body of POST /knowledge-bases.
type KBCreateRequest struct {
	Name        string         `json:"name" binding:"required"`
	Description string         `json:"description"`
	Language    string         `json:"language"`
	Config      map[string]any `json:"config"`
}

// KBSwitchRequest is the body of POST /knowledge-bases/switch.
type KBSwitchRequest struct {
	Name string `json:"name" binding:"required"`
}

// KBRestoreRequest is the body of POST /knowledge-bases/{name}/restore.
type KBRestoreRequest struct {
	Path string `json:"path" binding:"required"`
}

// =============================================================================
// Documents
// =============================================================================

// DocStatus tracks a document through the ingest pipeline.
type DocStatus string

const (
	DocPending    DocStatus = "pending"
	DocProcessing DocStatus = "processing"
	DocReady      DocStatus = "ready"
	DocFailed     DocStatus = "failed"
)

// Document is one ingested text with its processing state.
type Document struct {
	ID         string    `json:"id"`
	Content    string    `json:"content,omitempty"`
	SourcePath string    `json:"source_path,omitempty"`
	TrackID    string    `json:"track_id,omitempty"`
	Status     DocStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is one immutable fragment of a document with byte offsets into the
// original text. Its embedding lives in the KB vector store, keyed by ID.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
}

// InsertTextRequest is the body of POST /insert/text.
type InsertTextRequest struct {
	Text          string `json:"text" binding:"required"`
	DocID         string `json:"doc_id"`
	SourcePath    string `json:"source_path"`
	KnowledgeBase string `json:"knowledge_base"`
	Language      string `json:"language"`
	TrackID       string `json:"track_id"`
}

// InsertTextsRequest is the body of POST /insert/texts.
type InsertTextsRequest struct {
	Texts         []string `json:"texts" binding:"required,min=1"`
	KnowledgeBase string   `json:"knowledge_base"`
	Language      string   `json:"language"`
	TrackID       string   `json:"track_id"`
}

// InsertDirectoryRequest is the body of POST /insert/directory.
type InsertDirectoryRequest struct {
	Path          string `json:"path" binding:"required"`
	KnowledgeBase string `json:"knowledge_base"`
	Recursive     bool   `json:"recursive"`
	TrackID       string `json:"track_id"`
}

// InsertOutcome reports one ingest operation.
type InsertOutcome struct {
	DocumentIDs []string `json:"document_ids"`
	TrackID     string   `json:"track_id"`
	Accepted    int      `json:"accepted"`
	Rejected    int      `json:"rejected"`
	Messages    []string `json:"messages,omitempty"`
}

// =============================================================================
// Knowledge Graph
// =============================================================================

// GraphNode is one extracted entity.
type GraphNode struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	SourceChunk string `json:"source_chunk,omitempty"`
}

// GraphEdge is one extracted relation between two nodes.
type GraphEdge struct {
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Relation    string  `json:"relation,omitempty"`
	Description string  `json:"description,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
}

// SubgraphRequest is the body of POST /knowledge-graph.
type SubgraphRequest struct {
	Label         string `json:"label" binding:"required"`
	MaxDepth      int    `json:"max_depth"`
	KnowledgeBase string `json:"knowledge_base"`
}

// Subgraph is the neighborhood around one label.
type Subgraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphStats counts the persisted graph.
type GraphStats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}
