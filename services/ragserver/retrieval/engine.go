// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/cache"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
)

// =============================================================================
// Tuning
// =============================================================================

// perfKnobs are the internal tuning values behind performance_mode.
type perfKnobs struct {
	fanout         int // candidate multiplier before rerank/truncate
	rerankDepth    int
	maxTotalTokens int
}

var perfTable = map[datatypes.PerformanceMode]perfKnobs{
	datatypes.PerfFast:     {fanout: 2, rerankDepth: 0, maxTotalTokens: 3000},
	datatypes.PerfBalanced: {fanout: 3, rerankDepth: 20, maxTotalTokens: 6000},
	datatypes.PerfQuality:  {fanout: 5, rerankDepth: 50, maxTotalTokens: 12000},
}

// Token budget split for graph material; the remainder goes to chunks.
const (
	entityTokenShare   = 0.15
	relationTokenShare = 0.15
)

// answerPrompt frames the assembled context for generation.
const answerPrompt = `You are a knowledgeable assistant answering from a curated knowledge base.
Use ONLY the context below. If the context does not contain the answer, say so.

%s

Question: %s`

// planningPrompt is the mix-mode preamble generated from graph structure.
const planningPrompt = `You are a knowledgeable assistant. First outline how the key entities below
relate to the question, then answer from the retrieved context.

%s

Question: %s`

// =============================================================================
// Engine
// =============================================================================

// Options configures the retrieval engine.
type Options struct {
	EnableRerank bool
	Dimension    int
}

// Engine runs the six retrieval pipelines over the per-KB stores.
type Engine struct {
	opts     Options
	manager  *kb.Manager
	embedder clients.EmbeddingClient
	llm      clients.LLMClient
	reranker clients.RerankClient // nil disables rerank regardless of opts
	caches   *cache.Coordinator
	locks    *locks.KeyedTable
	log      *logging.Logger
}

// NewEngine assembles the engine from its collaborators.
func NewEngine(opts Options, manager *kb.Manager, embedder clients.EmbeddingClient,
	llm clients.LLMClient, reranker clients.RerankClient,
	caches *cache.Coordinator, table *locks.KeyedTable, log *logging.Logger) *Engine {
	return &Engine{
		opts:     opts,
		manager:  manager,
		embedder: embedder,
		llm:      llm,
		reranker: reranker,
		caches:   caches,
		locks:    table,
		log:      log.With("component", "retrieval_engine"),
	}
}

// Stream is the lazy answer sequence of a streaming query. Next yields
// fragments until ok=false: err=nil is clean termination, err!=nil is a
// mid-stream failure. Close is idempotent and cancels upstream work.
type Stream struct {
	Metadata datatypes.StreamMetadata
	Chunks   []datatypes.RetrievedChunk
	next     func() (string, bool, error)
	close    func()
	closed   bool
}

// Next returns the next answer fragment.
func (s *Stream) Next() (string, bool, error) { return s.next() }

// Close releases upstream resources.
func (s *Stream) Close() {
	if !s.closed {
		s.closed = true
		if s.close != nil {
			s.close()
		}
	}
}

// =============================================================================
// Query Entry Points
// =============================================================================

// validate normalizes and checks the request bounds.
func (e *Engine) validate(req *datatypes.QueryRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return datatypes.BadInputf("query must not be empty")
	}
	if req.Mode == "" {
		req.Mode = datatypes.ModeHybrid
	}
	if !req.Mode.Valid() {
		return datatypes.BadInputf("unknown query mode %q", req.Mode)
	}
	if req.TopK == 0 {
		req.TopK = 10
	}
	if req.TopK < 1 || req.TopK > 100 {
		return datatypes.BadInputf("top_k %d out of [1,100]", req.TopK)
	}
	if req.PerformanceMode == "" {
		req.PerformanceMode = datatypes.PerfBalanced
	}
	if !req.PerformanceMode.Valid() {
		return datatypes.BadInputf("unknown performance mode %q", req.PerformanceMode)
	}
	if req.KnowledgeBase == "" {
		req.KnowledgeBase = e.manager.CurrentName()
	}
	return nil
}

// Query runs a non-streaming retrieval and generation pass.
func (e *Engine) Query(ctx context.Context, req datatypes.QueryRequest) (*datatypes.QueryResult, error) {
	start := time.Now()
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	if req.Mode == datatypes.ModeBypass {
		return &datatypes.QueryResult{
			Query:         req.Query,
			Mode:          req.Mode,
			Answer:        req.Query,
			KnowledgeBase: req.KnowledgeBase,
			Language:      req.Language,
			ResponseTime:  time.Since(start).Seconds(),
		}, nil
	}

	chunks, graphContext, err := e.retrieve(ctx, &req)
	if err != nil {
		return nil, err
	}

	prompt := e.assemble(req, chunks, graphContext)
	answer, err := e.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return &datatypes.QueryResult{
		Query:         req.Query,
		Mode:          req.Mode,
		Answer:        answer,
		KnowledgeBase: req.KnowledgeBase,
		Language:      req.Language,
		Chunks:        chunks,
		ResponseTime:  time.Since(start).Seconds(),
	}, nil
}

// QueryStream runs a streaming retrieval pass. Retrieval completes before
// the stream starts; only generation is streamed.
func (e *Engine) QueryStream(ctx context.Context, req datatypes.QueryRequest) (*Stream, error) {
	if err := e.validate(&req); err != nil {
		return nil, err
	}

	metadata := datatypes.StreamMetadata{
		Mode:          req.Mode,
		KnowledgeBase: req.KnowledgeBase,
		Language:      req.Language,
		Streaming:     true,
	}

	if req.Mode == datatypes.ModeBypass {
		return singleFragmentStream(metadata, nil, req.Query), nil
	}

	chunks, graphContext, err := e.retrieve(ctx, &req)
	if err != nil {
		return nil, err
	}
	prompt := e.assemble(req, chunks, graphContext)

	// Cached answers stream as a single fragment without an LLM call.
	if answer, ok := e.cachedAnswer(prompt); ok {
		return singleFragmentStream(metadata, chunks, answer), nil
	}

	tokens, err := e.llm.Stream(ctx, "", prompt)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	return &Stream{
		Metadata: metadata,
		Chunks:   chunks,
		next: func() (string, bool, error) {
			fragment, ok, err := tokens.Next()
			if err != nil {
				return "", false, err
			}
			if !ok {
				e.storeAnswer(prompt, full.String())
				return "", false, nil
			}
			full.WriteString(fragment)
			return fragment, true, nil
		},
		close: func() { _ = tokens.Close() },
	}, nil
}

// singleFragmentStream wraps a ready answer in the Stream contract.
func singleFragmentStream(metadata datatypes.StreamMetadata, chunks []datatypes.RetrievedChunk, answer string) *Stream {
	emitted := false
	return &Stream{
		Metadata: metadata,
		Chunks:   chunks,
		next: func() (string, bool, error) {
			if emitted {
				return "", false, nil
			}
			emitted = true
			return answer, true, nil
		},
	}
}

// =============================================================================
// Retrieval
// =============================================================================

// retrieve gathers chunks and graph context per the request's mode. The
// query-level cache keyed on (kb, mode, query, top_k, performance_mode)
// short-circuits the vector and graph work but never the generation step.
func (e *Engine) retrieve(ctx context.Context, req *datatypes.QueryRequest) ([]datatypes.RetrievedChunk, string, error) {
	knobs := perfTable[req.PerformanceMode]
	fingerprint := queryFingerprint(req)

	type cached struct {
		Chunks []datatypes.RetrievedChunk
		Graph  string
	}
	if e.caches != nil {
		if v, ok := e.caches.Queries().Get(fingerprint); ok {
			if c, ok := v.(cached); ok {
				return c.Chunks, c.Graph, nil
			}
		}
	}

	var chunks []datatypes.RetrievedChunk
	var graphParts []string

	needVector := req.Mode != datatypes.ModeGlobal
	needGraph := req.Mode != datatypes.ModeNaive

	if needVector {
		vector, err := e.embedQuery(ctx, req.Query)
		if err != nil {
			return nil, "", err
		}
		store := NewVectorStore(e.manager, req.KnowledgeBase, e.embedder.Dimension(), e.locks)
		hits, err := store.Search(ctx, vector, req.TopK*knobs.fanout)
		if err != nil {
			return nil, "", err
		}
		chunks = hits
	}

	if needGraph {
		graph := NewGraphStore(e.manager, req.KnowledgeBase, e.locks)
		switch req.Mode {
		case datatypes.ModeLocal:
			nodes, edges, err := graph.Neighbors(ctx, seedsFrom(req.Query, chunks))
			if err == nil {
				graphParts = append(graphParts, renderGraph(nodes, edges))
			}
		case datatypes.ModeGlobal, datatypes.ModeHybrid, datatypes.ModeMix:
			nodes, edges, err := graph.TopNodes(ctx, req.TopK)
			if err == nil {
				graphParts = append(graphParts, renderGraph(nodes, edges))
			}
			if req.Mode != datatypes.ModeGlobal {
				localNodes, localEdges, err := graph.Neighbors(ctx, seedsFrom(req.Query, chunks))
				if err == nil {
					graphParts = append(graphParts, renderGraph(localNodes, localEdges))
				}
			}
		}
	}

	chunks, err := e.rerank(ctx, req, knobs, chunks)
	if err != nil {
		return nil, "", err
	}
	if len(chunks) > req.TopK {
		chunks = chunks[:req.TopK]
	}

	graphContext := strings.Join(graphParts, "\n")
	if e.caches != nil {
		e.caches.Queries().Set(fingerprint, cached{Chunks: chunks, Graph: graphContext},
			int64(approxSize(chunks)+len(graphContext)), 0)
	}
	return chunks, graphContext, nil
}

// rerank re-scores the candidates when a reranker is configured; ties in
// the new ordering keep the original vector score as tiebreak.
func (e *Engine) rerank(ctx context.Context, req *datatypes.QueryRequest, knobs perfKnobs,
	chunks []datatypes.RetrievedChunk) ([]datatypes.RetrievedChunk, error) {

	if !e.opts.EnableRerank || e.reranker == nil || knobs.rerankDepth == 0 || len(chunks) == 0 {
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
		return chunks, nil
	}

	depth := knobs.rerankDepth
	if depth > len(chunks) {
		depth = len(chunks)
	}
	docs := make([]string, depth)
	for i := 0; i < depth; i++ {
		docs[i] = chunks[i].Content
	}

	scores, err := e.reranker.Rerank(ctx, req.Query, docs)
	if err != nil {
		// Rerank is an enhancement: degrade to vector order on failure.
		e.log.Warn("rerank failed, using vector order", "error", err.Error())
		sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
		return chunks, nil
	}

	vectorScore := make(map[string]float64, depth)
	for i := 0; i < depth; i++ {
		vectorScore[chunks[i].ID] = chunks[i].Score
		chunks[i].Score = scores[i]
	}
	sort.SliceStable(chunks[:depth], func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return vectorScore[chunks[i].ID] > vectorScore[chunks[j].ID]
	})
	return chunks, nil
}

// seedsFrom picks graph seed labels: query terms plus entities named in
// the retrieved chunks' documents.
func seedsFrom(query string, chunks []datatypes.RetrievedChunk) []string {
	seeds := strings.Fields(strings.ToLower(query))
	for _, c := range chunks {
		if len(seeds) >= 32 {
			break
		}
		for _, f := range strings.Fields(strings.ToLower(c.Content)) {
			seeds = append(seeds, strings.Trim(f, ".,;:!?()[]\"'"))
			if len(seeds) >= 32 {
				break
			}
		}
	}
	return seeds
}

// renderGraph flattens nodes and edges into prompt-ready lines.
func renderGraph(nodes []datatypes.GraphNode, edges []datatypes.GraphEdge) string {
	if len(nodes) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Entities:\n")
	for _, n := range nodes {
		b.WriteString("- ")
		b.WriteString(n.Label)
		if n.Description != "" {
			b.WriteString(": ")
			b.WriteString(n.Description)
		}
		b.WriteString("\n")
	}
	if len(edges) > 0 {
		b.WriteString("Relations:\n")
		for _, e := range edges {
			rel := e.Relation
			if rel == "" {
				rel = "related_to"
			}
			fmt.Fprintf(&b, "- %s -[%s]-> %s\n", e.Source, rel, e.Target)
		}
	}
	return b.String()
}

// =============================================================================
// Context Assembly
// =============================================================================

// assemble builds the generation prompt within the token budget. Graph
// material gets fixed entity/relation shares; chunks fill the remainder
// best-first, and a chunk that does not fit what is left is skipped.
func (e *Engine) assemble(req datatypes.QueryRequest, chunks []datatypes.RetrievedChunk, graphContext string) string {
	knobs := perfTable[req.PerformanceMode]
	budget := knobs.maxTotalTokens

	entityBudget := int(float64(budget) * entityTokenShare)
	relationBudget := int(float64(budget) * relationTokenShare)

	entityPart, relationPart := splitGraphContext(graphContext)
	entityPart = truncateTokens(entityPart, entityBudget)
	relationPart = truncateTokens(relationPart, relationBudget)

	chunkBudget := budget - approxTokens(entityPart) - approxTokens(relationPart)
	var kept []datatypes.RetrievedChunk
	used := 0
	for _, c := range chunks { // already sorted best-first
		t := approxTokens(c.Content)
		if used+t > chunkBudget {
			continue
		}
		used += t
		kept = append(kept, c)
	}

	var ctx strings.Builder
	if entityPart != "" || relationPart != "" {
		ctx.WriteString("Knowledge graph:\n")
		ctx.WriteString(entityPart)
		ctx.WriteString(relationPart)
		ctx.WriteString("\n")
	}
	if len(kept) > 0 {
		ctx.WriteString("Passages:\n")
		for i, c := range kept {
			fmt.Fprintf(&ctx, "[%d] %s\n", i+1, c.Content)
		}
	}
	if ctx.Len() == 0 {
		ctx.WriteString("(no relevant context found)")
	}

	template := answerPrompt
	if req.Mode == datatypes.ModeMix {
		template = planningPrompt
	}
	query := req.Query
	if req.Language != "" {
		query = fmt.Sprintf("%s (answer in %s)", query, req.Language)
	}
	return fmt.Sprintf(template, ctx.String(), query)
}

// splitGraphContext separates the rendered entity and relation blocks.
func splitGraphContext(graphContext string) (entities, relations string) {
	if graphContext == "" {
		return "", ""
	}
	idx := strings.Index(graphContext, "Relations:")
	if idx < 0 {
		return graphContext, ""
	}
	return graphContext[:idx], graphContext[idx:]
}

// approxTokens estimates tokens at four characters per token.
func approxTokens(s string) int { return len(s) / 4 }

// truncateTokens clips s to roughly maxTokens.
func truncateTokens(s string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(s) <= maxChars {
		return s
	}
	clipped := s[:maxChars]
	if nl := strings.LastIndexByte(clipped, '\n'); nl > 0 {
		clipped = clipped[:nl+1]
	}
	return clipped
}

// =============================================================================
// Generation and Caching
// =============================================================================

// generate answers the prompt, consulting the LLM-response cache first.
func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	if answer, ok := e.cachedAnswer(prompt); ok {
		return answer, nil
	}
	answer, err := e.llm.Complete(ctx, "", prompt)
	if err != nil {
		return "", err
	}
	e.storeAnswer(prompt, answer)
	return answer, nil
}

func (e *Engine) cachedAnswer(prompt string) (string, bool) {
	if e.caches == nil {
		return "", false
	}
	if v, ok := e.caches.LLM().Get(promptFingerprint(prompt)); ok {
		if s, ok := v.(string); ok {
			return s, true
		}
	}
	return "", false
}

func (e *Engine) storeAnswer(prompt, answer string) {
	if e.caches == nil || answer == "" {
		return
	}
	e.caches.LLM().Set(promptFingerprint(prompt), answer, int64(len(answer)), 0)
}

// embedQuery embeds the query text through the vector cache.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := "q:" + hashOf(query)
	if e.caches != nil {
		if v, ok := e.caches.Vector().Get(key); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}
	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if e.caches != nil {
		e.caches.Vector().Set(key, vecs[0], int64(len(vecs[0])*4), 0)
	}
	return vecs[0], nil
}

// =============================================================================
// Fingerprints
// =============================================================================

func hashOf(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func queryFingerprint(req *datatypes.QueryRequest) string {
	return "query:" + hashOf(req.KnowledgeBase, string(req.Mode), req.Query,
		fmt.Sprintf("%d|%s", req.TopK, req.PerformanceMode))
}

func promptFingerprint(prompt string) string {
	return "llm:" + hashOf(prompt)
}

func approxSize(chunks []datatypes.RetrievedChunk) int {
	total := 0
	for _, c := range chunks {
		total += len(c.Content) + len(c.ID)
	}
	return total
}
