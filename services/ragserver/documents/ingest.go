// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package documents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Ingestor
// =============================================================================

// Ingestor turns raw texts into stored documents: chunks, embeddings, KV
// records, and an asynchronously built knowledge graph.
//
// Per-KB data access serializes through the keyed lock "kbdoc:<name>"; the
// vector and graph stores add their own fences.
type Ingestor struct {
	manager  *kb.Manager
	embedder clients.EmbeddingClient
	locks    *locks.KeyedTable
	log      *logging.Logger

	// AllowedTypes and MaxFileSize bound the file-based routes.
	AllowedTypes []string
	MaxFileSize  int64
}

// NewIngestor builds the ingest pipeline.
func NewIngestor(manager *kb.Manager, embedder clients.EmbeddingClient, table *locks.KeyedTable,
	allowedTypes []string, maxFileSize int64, log *logging.Logger) *Ingestor {
	return &Ingestor{
		manager:      manager,
		embedder:     embedder,
		locks:        table,
		log:          log.With("component", "ingestor"),
		AllowedTypes: allowedTypes,
		MaxFileSize:  maxFileSize,
	}
}

func docLockName(kbName string) string { return "kbdoc:" + kbName }

// =============================================================================
// Text Ingest
// =============================================================================

// InsertText ingests one text into the named KB (empty = current KB).
// The document is persisted with status pending, processed synchronously
// to ready/failed, and its graph is built in the background.
func (in *Ingestor) InsertText(ctx context.Context, req datatypes.InsertTextRequest) (*datatypes.InsertOutcome, error) {
	kbName := req.KnowledgeBase
	if kbName == "" {
		kbName = in.manager.CurrentName()
	}
	if err := in.manager.EnsureInitialized(ctx, kbName); err != nil {
		return nil, err
	}

	trackID := req.TrackID
	if trackID == "" {
		trackID = "track-" + uuid.New().String()
	}

	doc := datatypes.Document{
		ID:         req.DocID,
		Content:    req.Text,
		SourcePath: req.SourcePath,
		TrackID:    trackID,
		Status:     datatypes.DocPending,
		CreatedAt:  time.Now().UTC(),
	}
	if doc.ID == "" {
		doc.ID = "doc-" + uuid.New().String()
	}

	if err := in.process(ctx, kbName, &doc); err != nil {
		return nil, err
	}

	return &datatypes.InsertOutcome{
		DocumentIDs: []string{doc.ID},
		TrackID:     trackID,
		Accepted:    1,
	}, nil
}

// InsertTexts ingests many texts under one track id. Each text is tried
// individually; the outcome reports per-text acceptance.
func (in *Ingestor) InsertTexts(ctx context.Context, req datatypes.InsertTextsRequest) (*datatypes.InsertOutcome, error) {
	trackID := req.TrackID
	if trackID == "" {
		trackID = "track-" + uuid.New().String()
	}

	outcome := &datatypes.InsertOutcome{TrackID: trackID}
	for i, text := range req.Texts {
		res, err := in.InsertText(ctx, datatypes.InsertTextRequest{
			Text:          text,
			KnowledgeBase: req.KnowledgeBase,
			Language:      req.Language,
			TrackID:       trackID,
		})
		if err != nil {
			outcome.Rejected++
			outcome.Messages = append(outcome.Messages, fmt.Sprintf("text %d: %v", i, err))
			continue
		}
		outcome.Accepted++
		outcome.DocumentIDs = append(outcome.DocumentIDs, res.DocumentIDs...)
	}
	return outcome, nil
}

// InsertFile ingests one uploaded file's text content.
func (in *Ingestor) InsertFile(ctx context.Context, name string, content []byte, req datatypes.InsertTextRequest) (*datatypes.InsertOutcome, error) {
	if err := in.CheckFile(name, int64(len(content))); err != nil {
		return nil, err
	}
	req.Text = string(content)
	if req.DocID == "" {
		req.DocID = "doc-" + strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)) + "-" + uuid.New().String()[:8]
	}
	outcome, err := in.InsertText(ctx, req)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// InsertDirectory walks a server-local path and ingests every allowed
// file. Files ingest concurrently, bounded, under one track id.
func (in *Ingestor) InsertDirectory(ctx context.Context, req datatypes.InsertDirectoryRequest) (*datatypes.InsertOutcome, error) {
	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		return nil, datatypes.BadInputf("path %q is not a readable directory", req.Path)
	}

	trackID := req.TrackID
	if trackID == "" {
		trackID = "track-" + uuid.New().String()
	}

	var paths []string
	err = filepath.WalkDir(req.Path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != req.Path && !req.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if in.CheckFile(path, 0) == nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %v: %w", req.Path, err, datatypes.ErrStorageFailure)
	}

	outcome := &datatypes.InsertOutcome{TrackID: trackID}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range paths {
		g.Go(func() error {
			content, err := os.ReadFile(path)
			var res *datatypes.InsertOutcome
			if err == nil {
				res, err = in.InsertFile(gctx, path, content, datatypes.InsertTextRequest{
					KnowledgeBase: req.KnowledgeBase,
					SourcePath:    path,
					TrackID:       trackID,
				})
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Rejected++
				outcome.Messages = append(outcome.Messages, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			outcome.Accepted++
			outcome.DocumentIDs = append(outcome.DocumentIDs, res.DocumentIDs...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcome, nil
}

// CheckFile validates extension and size against the configured bounds.
// A size of zero skips the size check (used during directory scans).
func (in *Ingestor) CheckFile(name string, size int64) error {
	ext := strings.ToLower(filepath.Ext(name))
	allowed := false
	for _, t := range in.AllowedTypes {
		if ext == strings.ToLower(t) {
			allowed = true
			break
		}
	}
	if !allowed {
		return datatypes.BadInputf("file type %q not allowed", ext)
	}
	if size > 0 && in.MaxFileSize > 0 && size > in.MaxFileSize {
		return fmt.Errorf("file %s exceeds %d bytes: %w", name, in.MaxFileSize, datatypes.ErrBadInput)
	}
	return nil
}

// =============================================================================
// Processing
// =============================================================================

// process runs one document through chunk → embed → persist. Any failure
// marks the document failed and leaves no half-ingested chunks behind.
func (in *Ingestor) process(ctx context.Context, kbName string, doc *datatypes.Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return datatypes.BadInputf("document text must not be empty")
	}

	info, err := in.manager.Info(ctx, kbName)
	if err != nil {
		return err
	}

	if err := in.setRecords(ctx, kbName, doc, datatypes.DocPending, ""); err != nil {
		return err
	}
	_ = in.setRecords(ctx, kbName, doc, datatypes.DocProcessing, "")

	chunks, err := splitDocument(doc, info.Config.ChunkSize, info.Config.ChunkOverlap)
	if err != nil {
		_ = in.setRecords(ctx, kbName, doc, datatypes.DocFailed, err.Error())
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		_ = in.setRecords(ctx, kbName, doc, datatypes.DocFailed, err.Error())
		return err
	}

	store := retrieval.NewVectorStore(in.manager, kbName, in.embedder.Dimension(), in.locks)
	if err := store.Append(ctx, chunks, vectors); err != nil {
		_ = in.setRecords(ctx, kbName, doc, datatypes.DocFailed, err.Error())
		return err
	}

	if err := in.writeChunksKV(ctx, kbName, chunks); err != nil {
		// Chunks are in the index but not in the KV record: roll the
		// vector rows back so the KB stays consistent.
		_, _ = store.DeleteDocument(ctx, doc.ID)
		_ = in.setRecords(ctx, kbName, doc, datatypes.DocFailed, err.Error())
		return err
	}

	if err := in.setRecords(ctx, kbName, doc, datatypes.DocReady, ""); err != nil {
		return err
	}

	// Graph construction runs after the document is queryable; its
	// failure degrades graph modes only.
	go in.buildGraph(kbName, doc.ID, chunks)

	in.log.Info("document ingested", "kb", kbName, "doc_id", doc.ID,
		"track_id", doc.TrackID, "chunks", len(chunks))
	return nil
}

// splitDocument chunks the text with byte offsets.
func splitDocument(doc *datatypes.Document, chunkSize, overlap int) ([]datatypes.Chunk, error) {
	if chunkSize <= 0 {
		chunkSize = 1200
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
	)
	parts, err := splitter.SplitText(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("split document: %v: %w", err, datatypes.ErrInternal)
	}

	chunks := make([]datatypes.Chunk, 0, len(parts))
	cursor := 0
	for i, part := range parts {
		start := strings.Index(doc.Content[cursor:], part)
		if start >= 0 {
			start += cursor
		} else {
			start = cursor
		}
		end := start + len(part)
		cursor = start
		chunks = append(chunks, datatypes.Chunk{
			ID:         fmt.Sprintf("%s-chunk-%04d", doc.ID, i),
			DocumentID: doc.ID,
			Content:    part,
			Start:      start,
			End:        end,
		})
	}
	return chunks, nil
}

// setRecords updates the full-doc and status KV files under the KB's
// document lock.
func (in *Ingestor) setRecords(ctx context.Context, kbName string, doc *datatypes.Document, status datatypes.DocStatus, errMsg string) error {
	h, err := in.locks.Acquire(ctx, docLockName(kbName), "records")
	if err != nil {
		return err
	}
	defer h.Release()

	dir := in.manager.Dir(kbName)
	doc.Status = status
	doc.Error = errMsg

	docs := map[string]datatypes.Document{}
	docsPath := filepath.Join(dir, kb.FullDocsFile)
	if err := readKV(docsPath, &docs); err != nil {
		return err
	}
	docs[doc.ID] = *doc
	if err := writeKV(docsPath, docs); err != nil {
		return err
	}

	statuses := map[string]string{}
	statusPath := filepath.Join(dir, kb.DocStatusFile)
	if err := readKV(statusPath, &statuses); err != nil {
		return err
	}
	statuses[doc.ID] = string(status)
	return writeKV(statusPath, statuses)
}

// writeChunksKV records the chunk texts in kv_store_text_chunks.json.
func (in *Ingestor) writeChunksKV(ctx context.Context, kbName string, chunks []datatypes.Chunk) error {
	h, err := in.locks.Acquire(ctx, docLockName(kbName), "chunks")
	if err != nil {
		return err
	}
	defer h.Release()

	path := filepath.Join(in.manager.Dir(kbName), kb.TextChunksFile)
	stored := map[string]datatypes.Chunk{}
	if err := readKV(path, &stored); err != nil {
		return err
	}
	for _, c := range chunks {
		stored[c.ID] = c
	}
	return writeKV(path, stored)
}

// Status returns one document's record.
func (in *Ingestor) Status(ctx context.Context, kbName, docID string) (*datatypes.Document, error) {
	if kbName == "" {
		kbName = in.manager.CurrentName()
	}
	h, err := in.locks.Acquire(ctx, docLockName(kbName), "status")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	docs := map[string]datatypes.Document{}
	if err := readKV(filepath.Join(in.manager.Dir(kbName), kb.FullDocsFile), &docs); err != nil {
		return nil, err
	}
	doc, ok := docs[docID]
	if !ok {
		return nil, datatypes.NotFoundf("document %q", docID)
	}
	return &doc, nil
}

// =============================================================================
// Graph Construction
// =============================================================================

// buildGraph extracts entities and co-occurrence relations from the
// chunks and merges them into the KB graph. Runs detached; errors are
// logged, not surfaced.
func (in *Ingestor) buildGraph(kbName, docID string, chunks []datatypes.Chunk) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var nodes []datatypes.GraphNode
	var edges []datatypes.GraphEdge
	seen := map[string]bool{}

	for _, chunk := range chunks {
		entities := extractEntities(chunk.Content)
		for _, entity := range entities {
			id := strings.ToLower(entity)
			if !seen[id] {
				seen[id] = true
				nodes = append(nodes, datatypes.GraphNode{
					ID:          id,
					Label:       entity,
					Type:        "entity",
					SourceChunk: chunk.ID,
				})
			}
		}
		// Entities sharing a chunk are related.
		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				edges = append(edges, datatypes.GraphEdge{
					Source:   strings.ToLower(entities[i]),
					Target:   strings.ToLower(entities[j]),
					Relation: "co_occurs",
					Weight:   1,
				})
			}
		}
	}
	if len(nodes) == 0 {
		return
	}

	graph := retrieval.NewGraphStore(in.manager, kbName, in.locks)
	if err := graph.Merge(ctx, nodes, edges); err != nil {
		in.log.Warn("graph build failed", "kb", kbName, "doc_id", docID, "error", err.Error())
		return
	}
	in.log.Info("graph updated", "kb", kbName, "doc_id", docID,
		"nodes", len(nodes), "edges", len(edges))
}

// extractEntities pulls capitalized token runs out of a chunk: a cheap
// deterministic stand-in for model-based entity extraction that keeps the
// graph modes functional without another upstream dependency.
func extractEntities(text string) []string {
	var entities []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			entity := strings.Join(current, " ")
			if len(entity) > 2 {
				entities = append(entities, entity)
			}
			current = nil
		}
	}

	for _, token := range strings.Fields(text) {
		cleaned := strings.Trim(token, ".,;:!?()[]\"'")
		if cleaned == "" {
			flush()
			continue
		}
		first := rune(cleaned[0])
		if first >= 'A' && first <= 'Z' {
			current = append(current, cleaned)
		} else {
			flush()
		}
	}
	flush()

	// Dedup in order.
	seen := map[string]bool{}
	out := entities[:0]
	for _, e := range entities {
		key := strings.ToLower(e)
		if !seen[key] {
			seen[key] = true
			out = append(out, e)
		}
	}
	return out
}
