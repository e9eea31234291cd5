// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the six query modes over the per-KB vector
// index and knowledge graph, plus context assembly and answer streaming.
package retrieval

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/vectormath"
)

const (
	chunksFile     = "chunks.json"
	embeddingsFile = "embeddings.bin"
)

// =============================================================================
// Per-KB Vector Store
// =============================================================================

// VectorStore is the flat-file chunk index of one knowledge base, living
// under <working_dir>/vector_cache/. Row i of embeddings.bin aligns with
// chunk i of chunks.json.
//
// Access is fenced by the keyed lock "kbvec:<kb>"; the store itself holds
// no mutexes.
type VectorStore struct {
	kbName string
	dir    string
	dim    int
	locks  *locks.KeyedTable
}

// vectorFile is the persisted shape of chunks.json.
type vectorFile struct {
	Dimension int               `json:"dimension"`
	Chunks    []datatypes.Chunk `json:"chunks"`
}

// NewVectorStore opens the vector cache of one KB.
func NewVectorStore(manager *kb.Manager, kbName string, dim int, table *locks.KeyedTable) *VectorStore {
	return &VectorStore{
		kbName: kbName,
		dir:    filepath.Join(manager.Dir(kbName), kb.VectorCacheDir),
		dim:    dim,
		locks:  table,
	}
}

func (v *VectorStore) lockName() string { return "kbvec:" + v.kbName }

// load reads both files. Missing files mean an empty index; inconsistent
// files are storage failures.
func (v *VectorStore) load() (*vectorFile, []float32, error) {
	var vf vectorFile
	raw, err := os.ReadFile(filepath.Join(v.dir, chunksFile))
	switch {
	case os.IsNotExist(err):
		return &vectorFile{Dimension: v.dim}, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("read %s: %v: %w", chunksFile, err, datatypes.ErrStorageFailure)
	}
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %v: %w", chunksFile, err, datatypes.ErrStorageFailure)
	}

	matrix, err := readFloat32File(filepath.Join(v.dir, embeddingsFile))
	if err != nil {
		return nil, nil, err
	}
	if len(matrix) != len(vf.Chunks)*v.dim {
		return nil, nil, fmt.Errorf("vector cache of %q: %d chunks, %d floats: %w",
			v.kbName, len(vf.Chunks), len(matrix), datatypes.ErrStorageFailure)
	}
	return &vf, matrix, nil
}

// persist writes both files atomically (temp + rename per file).
func (v *VectorStore) persist(vf *vectorFile, matrix []float32) error {
	if err := os.MkdirAll(v.dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %v: %w", v.dir, err, datatypes.ErrStorageFailure)
	}
	raw, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chunks: %v: %w", err, datatypes.ErrStorageFailure)
	}
	if err := atomicWrite(filepath.Join(v.dir, chunksFile), raw); err != nil {
		return err
	}
	buf := make([]byte, len(matrix)*4)
	for i, f := range matrix {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return atomicWrite(filepath.Join(v.dir, embeddingsFile), buf)
}

// Append adds chunks and their vectors. Vector count and width must match
// the chunk count and the store dimension.
func (v *VectorStore) Append(ctx context.Context, chunks []datatypes.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return datatypes.BadInputf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != v.dim {
			return fmt.Errorf("chunk %d: vector width %d, store dim %d: %w",
				i, len(vec), v.dim, datatypes.ErrBadInput)
		}
	}

	h, err := v.locks.Acquire(ctx, v.lockName(), "append")
	if err != nil {
		return err
	}
	defer h.Release()

	vf, matrix, err := v.load()
	if err != nil {
		return err
	}
	vf.Dimension = v.dim
	vf.Chunks = append(vf.Chunks, chunks...)
	for _, vec := range vectors {
		matrix = append(matrix, vec...)
	}
	return v.persist(vf, matrix)
}

// Search returns the topK chunks nearest to query by cosine similarity.
func (v *VectorStore) Search(ctx context.Context, query []float32, topK int) ([]datatypes.RetrievedChunk, error) {
	h, err := v.locks.Acquire(ctx, v.lockName(), "search")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	vf, matrix, err := v.load()
	if err != nil {
		return nil, err
	}
	if len(vf.Chunks) == 0 {
		return nil, nil
	}

	scores := vectormath.CosineAgainstMatrix(query, matrix, v.dim)
	hits := vectormath.TopK(scores, topK)
	out := make([]datatypes.RetrievedChunk, 0, len(hits))
	for _, row := range hits {
		c := vf.Chunks[row]
		out = append(out, datatypes.RetrievedChunk{
			ID:       c.ID,
			Content:  c.Content,
			Score:    scores[row],
			Document: c.DocumentID,
		})
	}
	return out, nil
}

// DeleteDocument drops every chunk of a document, compacting the matrix.
func (v *VectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	h, err := v.locks.Acquire(ctx, v.lockName(), "delete_doc")
	if err != nil {
		return 0, err
	}
	defer h.Release()

	vf, matrix, err := v.load()
	if err != nil {
		return 0, err
	}

	kept := vf.Chunks[:0]
	var keptMatrix []float32
	removed := 0
	for i, c := range vf.Chunks {
		if c.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, c)
		keptMatrix = append(keptMatrix, matrix[i*v.dim:(i+1)*v.dim]...)
	}
	if removed == 0 {
		return 0, nil
	}
	vf.Chunks = kept
	return removed, v.persist(vf, keptMatrix)
}

// Count returns the chunk count.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	h, err := v.locks.Acquire(ctx, v.lockName(), "count")
	if err != nil {
		return 0, err
	}
	defer h.Release()
	vf, _, err := v.load()
	if err != nil {
		return 0, err
	}
	return len(vf.Chunks), nil
}

// =============================================================================
// File Helpers
// =============================================================================

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	return nil
}

func readFloat32File(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%s not float-aligned: %w", path, datatypes.ErrStorageFailure)
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out, nil
}
