// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package qa

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/cache"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/vectormath"
)

// DefaultSimilarityThreshold is the system-wide duplicate/match floor.
// Carried from the upstream deployment; per-request min_similarity
// overrides it, and operators can tune it at construction.
const DefaultSimilarityThreshold = 0.98

// defaultTopK bounds a query that does not name its own k.
const defaultTopK = 5

// =============================================================================
// Store
// =============================================================================

// Store is the category-partitioned fixed-QA store.
//
// Concurrency contract:
//
//   - Writes and queries on one category serialize through the keyed lock
//     "qa:<category>", which is purpose-agnostic: simplicity over RW
//     refinement.
//   - Category creation runs under locks.InitOnce so two concurrent
//     writers to a never-seen category produce exactly one storage.
//   - Batch adds take a multi-lock over all involved categories in lex
//     order, serializing with any single-category write to those names.
//   - Different categories are otherwise independent.
//
// The root map from category name to open storage and the global pair-id
// cross-reference are guarded by the same keyed table under the reserved
// name "qa#root".
type Store struct {
	rootDir   string
	dim       int
	threshold float64

	locks    *locks.KeyedTable
	embedder clients.EmbeddingClient
	embeds   *cache.Cache // may be nil; caches question → vector
	log      *logging.Logger

	// Guarded by the "qa#root" keyed lock.
	categories map[string]*categoryStorage // loaded categories
	known      map[string]bool             // category names from index.json
	byID       map[string]string           // pair id → category
}

// rootLock is the reserved keyed-lock name guarding the root maps. Every
// category lock starts with "qa:", so this name never collides with one.
const rootLock = "qa#root"

// NewStore opens (or creates) the QA root. Categories are loaded lazily on
// first touch; only index.json is read up front.
func NewStore(rootDir string, embedder clients.EmbeddingClient, table *locks.KeyedTable,
	embeds *cache.Cache, threshold float64, log *logging.Logger) (*Store, error) {

	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("qa root %s: %v: %w", rootDir, err, datatypes.ErrStorageFailure)
	}

	s := &Store{
		rootDir:    rootDir,
		dim:        embedder.Dimension(),
		threshold:  threshold,
		locks:      table,
		embedder:   embedder,
		embeds:     embeds,
		log:        log.With("component", "qa_store"),
		categories: make(map[string]*categoryStorage),
		known:      make(map[string]bool),
		byID:       make(map[string]string),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadIndex reads index.json; a missing file means a fresh root.
func (s *Store) loadIndex() error {
	raw, err := os.ReadFile(filepath.Join(s.rootDir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %v: %w", indexFile, err, datatypes.ErrStorageFailure)
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return fmt.Errorf("parse %s: %v: %w", indexFile, err, datatypes.ErrStorageFailure)
	}
	for _, n := range names {
		s.known[n] = true
	}
	return nil
}

// persistIndex rewrites index.json from the known set. Caller holds the
// root lock.
func (s *Store) persistIndex() error {
	names := make([]string, 0, len(s.known))
	for n := range s.known {
		names = append(names, n)
	}
	sort.Strings(names)
	raw, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %v: %w", err, datatypes.ErrStorageFailure)
	}
	return writeAtomic(filepath.Join(s.rootDir, indexFile), raw)
}

// withRoot runs fn while holding the root lock.
func (s *Store) withRoot(ctx context.Context, fn func() error) error {
	h, err := s.locks.Acquire(ctx, rootLock, "root")
	if err != nil {
		return err
	}
	defer h.Release()
	return fn()
}

// categoryLockName namespaces a category's keyed lock.
func categoryLockName(category string) string { return "qa:" + category }

// =============================================================================
// Category Lifecycle
// =============================================================================

// openCategory returns the loaded storage for category, loading it from
// disk if needed, or creating it when create is true. Uses the
// double-checked init pattern so concurrent first touches build exactly
// one storage object.
func (s *Store) openCategory(ctx context.Context, category string, create bool) (*categoryStorage, error) {
	get := func() (*categoryStorage, bool) {
		var cs *categoryStorage
		_ = s.withRoot(ctx, func() error {
			cs = s.categories[category]
			return nil
		})
		return cs, cs != nil
	}

	return locks.InitOnce(ctx, s.locks, "qa-category:"+category, get, func() (*categoryStorage, error) {
		dir := filepath.Join(s.rootDir, category)

		var known bool
		if err := s.withRoot(ctx, func() error {
			known = s.known[category]
			return nil
		}); err != nil {
			return nil, err
		}

		var cs *categoryStorage
		if known || dirExists(dir) {
			loaded, err := loadCategoryStorage(category, dir, s.dim)
			if err != nil {
				return nil, err
			}
			cs = loaded
		} else if create {
			cs = newCategoryStorage(category, dir, s.dim)
			if err := cs.persist(); err != nil {
				return nil, err
			}
		} else {
			return nil, datatypes.NotFoundf("qa category %q", category)
		}

		err := s.withRoot(ctx, func() error {
			s.categories[category] = cs
			s.known[category] = true
			for id := range cs.pairs {
				s.byID[id] = category
			}
			return s.persistIndex()
		})
		if err != nil {
			return nil, err
		}
		return cs, nil
	})
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Categories lists known category names in sorted order.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	var names []string
	err := s.withRoot(ctx, func() error {
		names = make([]string, 0, len(s.known))
		for n := range s.known {
			names = append(names, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// Pair CRUD
// =============================================================================

// Add validates, embeds, and stores one pair, lazily creating its
// category. Returns the assigned pair id.
func (s *Store) Add(ctx context.Context, req datatypes.QAPairRequest) (string, error) {
	pair, err := pairFromRequest(req)
	if err != nil {
		return "", err
	}

	vector, err := s.embed(ctx, pair.Question)
	if err != nil {
		return "", err
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(pair.Category), "add")
	if err != nil {
		return "", err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, pair.Category, true)
	if err != nil {
		return "", err
	}

	cs.append(pair, vector)
	if err := cs.persist(); err != nil {
		cs.remove(pair.ID)
		return "", err
	}

	if err := s.withRoot(ctx, func() error {
		s.byID[pair.ID] = pair.Category
		return nil
	}); err != nil {
		return "", err
	}

	s.log.Info("qa pair added", "id", pair.ID, "category", pair.Category)
	return pair.ID, nil
}

// AddBatch stores many pairs grouped by category under one multi-lock.
// Each pair is tried individually; failures do not roll back successes.
func (s *Store) AddBatch(ctx context.Context, reqs []datatypes.QAPairRequest) (*datatypes.QABatchOutcome, error) {
	outcome := &datatypes.QABatchOutcome{
		Total:   len(reqs),
		Results: make([]datatypes.QABatchItem, len(reqs)),
	}

	categories := make(map[string]bool)
	pairs := make([]*datatypes.QAPair, len(reqs))
	for i, req := range reqs {
		pair, err := pairFromRequest(req)
		if err != nil {
			outcome.Failed++
			outcome.Results[i] = datatypes.QABatchItem{Index: i, Message: err.Error()}
			continue
		}
		pairs[i] = pair
		categories[pair.Category] = true
	}

	names := make([]string, 0, len(categories))
	for c := range categories {
		names = append(names, categoryLockName(c))
	}

	h, err := s.locks.AcquireMany(ctx, names, "add_batch")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	// Per-category appends, persisted once per touched category.
	touched := make(map[string]*categoryStorage)
	for i, pair := range pairs {
		if pair == nil {
			continue
		}
		vector, err := s.embed(ctx, pair.Question)
		if err != nil {
			outcome.Failed++
			outcome.Results[i] = datatypes.QABatchItem{Index: i, Message: err.Error()}
			continue
		}
		cs, err := s.openCategory(ctx, pair.Category, true)
		if err != nil {
			outcome.Failed++
			outcome.Results[i] = datatypes.QABatchItem{Index: i, Message: err.Error()}
			continue
		}
		cs.append(pair, vector)
		touched[pair.Category] = cs
		outcome.Succeeded++
		outcome.Results[i] = datatypes.QABatchItem{Index: i, ID: pair.ID, Success: true}
		_ = s.withRoot(ctx, func() error {
			s.byID[pair.ID] = pair.Category
			return nil
		})
	}

	for name, cs := range touched {
		if err := cs.persist(); err != nil {
			s.log.Error("qa batch persist failed", "category", name, "error", err.Error())
			return outcome, err
		}
	}
	return outcome, nil
}

// Get returns one pair by id.
func (s *Store) Get(ctx context.Context, id string) (*datatypes.QAPair, error) {
	category, err := s.categoryOf(ctx, id)
	if err != nil {
		return nil, err
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(category), "get")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, category, false)
	if err != nil {
		return nil, err
	}
	pair, ok := cs.pairs[id]
	if !ok {
		return nil, datatypes.NotFoundf("qa pair %q", id)
	}
	copied := *pair
	return &copied, nil
}

// Update rewrites an existing pair in place. A changed question is
// re-embedded; a changed category moves the pair.
func (s *Store) Update(ctx context.Context, id string, req datatypes.QAPairRequest) (*datatypes.QAPair, error) {
	updated, err := pairFromRequest(req)
	if err != nil {
		return nil, err
	}

	category, err := s.categoryOf(ctx, id)
	if err != nil {
		return nil, err
	}

	if updated.Category != category {
		// Cross-category move: delete + add keeps the lock discipline
		// simple and the files consistent at each step.
		if err := s.Delete(ctx, id); err != nil {
			return nil, err
		}
		updated.ID = id
		if _, err := s.addExisting(ctx, updated); err != nil {
			return nil, err
		}
		return updated, nil
	}

	vector, err := s.embed(ctx, updated.Question)
	if err != nil {
		return nil, err
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(category), "update")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, category, false)
	if err != nil {
		return nil, err
	}
	existing, ok := cs.pairs[id]
	if !ok {
		return nil, datatypes.NotFoundf("qa pair %q", id)
	}

	updated.ID = id
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	cs.pairs[id] = updated
	cs.replaceVector(id, vector)

	if err := cs.persist(); err != nil {
		cs.pairs[id] = existing
		return nil, err
	}
	return updated, nil
}

// addExisting stores a fully formed pair, keeping its id. Used by Update's
// cross-category move and by the importer's overwrite path.
func (s *Store) addExisting(ctx context.Context, pair *datatypes.QAPair) (string, error) {
	vector, err := s.embed(ctx, pair.Question)
	if err != nil {
		return "", err
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(pair.Category), "add")
	if err != nil {
		return "", err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, pair.Category, true)
	if err != nil {
		return "", err
	}
	cs.append(pair, vector)
	if err := cs.persist(); err != nil {
		cs.remove(pair.ID)
		return "", err
	}
	_ = s.withRoot(ctx, func() error {
		s.byID[pair.ID] = pair.Category
		return nil
	})
	return pair.ID, nil
}

// Delete removes one pair and rewrites its category's files.
func (s *Store) Delete(ctx context.Context, id string) error {
	category, err := s.categoryOf(ctx, id)
	if err != nil {
		return err
	}

	h, err := s.locks.Acquire(ctx, categoryLockName(category), "delete")
	if err != nil {
		return err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, category, false)
	if err != nil {
		return err
	}
	if !cs.remove(id) {
		return datatypes.NotFoundf("qa pair %q", id)
	}
	if err := cs.persist(); err != nil {
		return err
	}
	return s.withRoot(ctx, func() error {
		delete(s.byID, id)
		return nil
	})
}

// DeleteCategory removes a category: its pairs, its cross-references, and
// its directory. A never-loaded category still has its directory removed.
func (s *Store) DeleteCategory(ctx context.Context, category string) (*datatypes.QADeleteCategoryOutcome, error) {
	h, err := s.locks.Acquire(ctx, categoryLockName(category), "delete_category")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	dir := filepath.Join(s.rootDir, category)
	outcome := &datatypes.QADeleteCategoryOutcome{}

	var cs *categoryStorage
	_ = s.withRoot(ctx, func() error {
		cs = s.categories[category]
		return nil
	})

	// Double-check existence: a concurrent delete may have run first.
	if cs == nil && !dirExists(dir) {
		var known bool
		_ = s.withRoot(ctx, func() error { known = s.known[category]; return nil })
		if !known {
			return nil, datatypes.NotFoundf("qa category %q", category)
		}
	}

	if cs == nil && dirExists(dir) {
		loaded, err := loadCategoryStorage(category, dir, s.dim)
		if err == nil {
			cs = loaded
		}
	}

	if cs != nil {
		outcome.DeletedCount = len(cs.pairs)
		// Truncate in-memory state before touching the directory so a
		// failed removal still leaves no queryable pairs.
		cs.order = nil
		cs.matrix = nil
	}

	if dirExists(dir) {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("remove %s: %v: %w", dir, err, datatypes.ErrStorageFailure)
		}
		outcome.FolderDeleted = true
	}

	err = s.withRoot(ctx, func() error {
		if cs != nil {
			for id := range cs.pairs {
				delete(s.byID, id)
			}
		}
		delete(s.categories, category)
		delete(s.known, category)
		return s.persistIndex()
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("qa category deleted", "category", category,
		"deleted_count", outcome.DeletedCount, "folder_deleted", outcome.FolderDeleted)
	return outcome, nil
}

// List returns pairs filtered by category and minimum confidence with
// offset/limit paging. Pairs are ordered by category then id.
func (s *Store) List(ctx context.Context, category string, minConfidence float64, offset, limit int) ([]datatypes.QAPair, int, error) {
	names, err := s.scopeCategories(ctx, category)
	if err != nil {
		return nil, 0, err
	}

	var all []datatypes.QAPair
	for _, name := range names {
		h, err := s.locks.Acquire(ctx, categoryLockName(name), "list")
		if err != nil {
			return nil, 0, err
		}
		cs, err := s.openCategory(ctx, name, false)
		if err != nil {
			h.Release()
			if errors.Is(err, datatypes.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		ids := make([]string, 0, len(cs.pairs))
		for id := range cs.pairs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p := cs.pairs[id]
			if p.Confidence >= minConfidence {
				all = append(all, *p)
			}
		}
		h.Release()
	}

	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

// categoryOf resolves a pair id to its category, consulting loaded state
// first and then scanning unloaded categories.
func (s *Store) categoryOf(ctx context.Context, id string) (string, error) {
	var category string
	_ = s.withRoot(ctx, func() error {
		category = s.byID[id]
		return nil
	})
	if category != "" {
		return category, nil
	}

	// Not in memory: load remaining known categories until found.
	names, err := s.Categories(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		var loaded bool
		_ = s.withRoot(ctx, func() error {
			_, loaded = s.categories[name]
			return nil
		})
		if loaded {
			continue
		}
		if _, err := s.openCategory(ctx, name, false); err != nil {
			continue
		}
		_ = s.withRoot(ctx, func() error {
			category = s.byID[id]
			return nil
		})
		if category != "" {
			return category, nil
		}
	}
	return "", datatypes.NotFoundf("qa pair %q", id)
}

// =============================================================================
// Similarity Query
// =============================================================================

// Query embeds the question and scores it against every in-scope category.
func (s *Store) Query(ctx context.Context, req datatypes.QAQueryRequest) (*datatypes.QAQueryResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, datatypes.BadInputf("question must not be empty")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	minSim := req.MinSimilarity
	if minSim <= 0 {
		minSim = s.threshold
	}

	vector, err := s.embed(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	names, err := s.scopeCategories(ctx, req.Category)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return &datatypes.QAQueryResult{Found: false}, nil
	}

	lockNames := make([]string, len(names))
	for i, n := range names {
		lockNames[i] = categoryLockName(n)
	}
	h, err := s.locks.AcquireMany(ctx, lockNames, "query")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	var matches []datatypes.QAMatch
	for _, name := range names {
		cs, err := s.openCategory(ctx, name, false)
		if err != nil {
			continue // dropped concurrently; a miss, not an error
		}
		scores := vectormath.CosineAgainstMatrix(vector, cs.matrix, cs.dim)
		for _, row := range vectormath.TopK(scores, topK) {
			if scores[row] < minSim {
				continue
			}
			pair := cs.pairs[cs.order[row]]
			matches = append(matches, datatypes.QAMatch{Pair: *pair, Similarity: scores[row]})
		}
	}

	sortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}

	result := &datatypes.QAQueryResult{Matches: matches}
	if len(matches) > 0 && matches[0].Similarity >= minSim {
		result.Found = true
		result.Answer = matches[0].Pair.Answer
		result.Similarity = matches[0].Similarity
	}
	return result, nil
}

// BatchQuery runs independent queries concurrently.
func (s *Store) BatchQuery(ctx context.Context, req datatypes.QAQueryBatchRequest) ([]*datatypes.QAQueryResult, error) {
	results := make([]*datatypes.QAQueryResult, len(req.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, q := range req.Questions {
		g.Go(func() error {
			r, err := s.Query(gctx, datatypes.QAQueryRequest{
				Question:      q,
				TopK:          req.TopK,
				MinSimilarity: req.MinSimilarity,
				Category:      req.Category,
			})
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// sortMatches orders by similarity desc, then confidence desc, then id asc.
func sortMatches(matches []datatypes.QAMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].Pair.Confidence != matches[j].Pair.Confidence {
			return matches[i].Pair.Confidence > matches[j].Pair.Confidence
		}
		return matches[i].Pair.ID < matches[j].Pair.ID
	})
}

// scopeCategories resolves the category scope of a query: one name, or
// every known category in lex order.
func (s *Store) scopeCategories(ctx context.Context, category string) ([]string, error) {
	if category != "" {
		return []string{category}, nil
	}
	return s.Categories(ctx)
}

// =============================================================================
// Statistics
// =============================================================================

// Statistics aggregates the whole store, loading every known category.
func (s *Store) Statistics(ctx context.Context) (*datatypes.QAStatistics, error) {
	names, err := s.Categories(ctx)
	if err != nil {
		return nil, err
	}

	stats := &datatypes.QAStatistics{
		Categories:          make(map[string]int),
		SimilarityThreshold: s.threshold,
		VectorDimension:     s.dim,
	}

	var confidenceSum float64
	for _, name := range names {
		h, err := s.locks.Acquire(ctx, categoryLockName(name), "stats")
		if err != nil {
			return nil, err
		}
		cs, err := s.openCategory(ctx, name, false)
		if err != nil {
			h.Release()
			continue
		}
		stats.Categories[name] = len(cs.pairs)
		stats.TotalPairs += len(cs.pairs)
		for _, p := range cs.pairs {
			confidenceSum += p.Confidence
		}
		h.Release()
	}
	if stats.TotalPairs > 0 {
		stats.AverageConfidence = confidenceSum / float64(stats.TotalPairs)
	}
	return stats, nil
}

// Threshold returns the configured similarity floor.
func (s *Store) Threshold() float64 { return s.threshold }

// =============================================================================
// Helpers
// =============================================================================

// pairFromRequest validates and fills defaults.
func pairFromRequest(req datatypes.QAPairRequest) (*datatypes.QAPair, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, datatypes.BadInputf("question must not be empty")
	}
	if strings.TrimSpace(req.Answer) == "" {
		return nil, datatypes.BadInputf("answer must not be empty")
	}
	confidence := 0.9
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, datatypes.BadInputf("confidence %v out of [0,1]", confidence)
	}
	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "general"
	}
	if strings.ContainsAny(category, `/\`) {
		return nil, datatypes.BadInputf("category %q must not contain path separators", category)
	}

	now := time.Now().UTC()
	return &datatypes.QAPair{
		ID:         "qa-" + uuid.New().String(),
		Question:   question,
		Answer:     req.Answer,
		Category:   category,
		Confidence: confidence,
		Keywords:   req.Keywords,
		Source:     req.Source,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// embed returns the question vector, consulting the embed cache first.
func (s *Store) embed(ctx context.Context, question string) ([]float32, error) {
	key := ""
	if s.embeds != nil {
		sum := sha256.Sum256([]byte(question))
		key = "qa:" + hex.EncodeToString(sum[:])
		if v, ok := s.embeds.Get(key); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}

	vecs, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]
	if s.embeds != nil {
		s.embeds.Set(key, vec, int64(len(vec)*4), 0)
	}
	return vec, nil
}
