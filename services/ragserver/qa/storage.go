// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qa implements the category-partitioned fixed-QA store.
//
// On disk, each category is a subdirectory of the QA root:
//
//	<qa_root>/
//	  index.json              known category names
//	  <category>/
//	    pairs.json            id to pair
//	    vectors.bin           float32 LE matrix, one row per pair
//	    meta.json             pair count, dim, row order, last update
//
// Row i of vectors.bin aligns with the i-th id of meta.json's pair_order.
// All writes go through write-to-temp + rename so readers never observe a
// torn file.
package qa

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

const (
	pairsFile   = "pairs.json"
	vectorsFile = "vectors.bin"
	metaFile    = "meta.json"
	indexFile   = "index.json"
)

// =============================================================================
// Category Storage
// =============================================================================

// categoryMeta is the persisted shape of meta.json.
type categoryMeta struct {
	PairCount   int       `json:"pair_count"`
	Dimension   int       `json:"dimension"`
	PairOrder   []string  `json:"pair_order"`
	LastUpdated time.Time `json:"last_updated"`
}

// categoryStorage is one open category: the pair map, the row-major
// embedding matrix, and the reverse index from pair id to matrix row.
//
// categoryStorage has no internal locking; the owning Store fences every
// access through its keyed lock table.
type categoryStorage struct {
	name  string
	dir   string
	dim   int
	pairs map[string]*datatypes.QAPair
	order []string  // pair ids, row-aligned with matrix
	rows  map[string]int
	matrix []float32 // row-major, len == len(order)*dim
}

// newCategoryStorage builds an empty open category.
func newCategoryStorage(name, dir string, dim int) *categoryStorage {
	return &categoryStorage{
		name:  name,
		dir:   dir,
		dim:   dim,
		pairs: make(map[string]*datatypes.QAPair),
		rows:  make(map[string]int),
	}
}

// loadCategoryStorage reads a category from disk. A missing directory is
// not-found; torn or inconsistent files are storage failures.
func loadCategoryStorage(name, dir string, dim int) (*categoryStorage, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, datatypes.NotFoundf("qa category %q", name)
	}

	cs := newCategoryStorage(name, dir, dim)

	rawPairs, err := os.ReadFile(filepath.Join(dir, pairsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return cs, nil // empty category directory: treat as empty
		}
		return nil, fmt.Errorf("read %s: %v: %w", pairsFile, err, datatypes.ErrStorageFailure)
	}
	if err := json.Unmarshal(rawPairs, &cs.pairs); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", pairsFile, err, datatypes.ErrStorageFailure)
	}

	var meta categoryMeta
	rawMeta, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", metaFile, err, datatypes.ErrStorageFailure)
	}
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", metaFile, err, datatypes.ErrStorageFailure)
	}
	if meta.Dimension != 0 && meta.Dimension != dim {
		return nil, fmt.Errorf("category %q stored with dim %d, embedding service reports %d: %w",
			name, meta.Dimension, dim, datatypes.ErrStorageFailure)
	}

	matrix, err := readVectors(filepath.Join(dir, vectorsFile))
	if err != nil {
		return nil, err
	}

	if len(meta.PairOrder)*dim != len(matrix) || len(meta.PairOrder) != len(cs.pairs) {
		return nil, fmt.Errorf("category %q: %d pairs, %d rows, %d floats: %w",
			name, len(cs.pairs), len(meta.PairOrder), len(matrix), datatypes.ErrStorageFailure)
	}

	cs.order = meta.PairOrder
	cs.matrix = matrix
	for i, id := range cs.order {
		if _, ok := cs.pairs[id]; !ok {
			return nil, fmt.Errorf("category %q: row %d id %q missing from pairs: %w",
				name, i, id, datatypes.ErrStorageFailure)
		}
		cs.rows[id] = i
	}
	return cs, nil
}

// append adds a pair and its vector as the last row.
func (cs *categoryStorage) append(pair *datatypes.QAPair, vector []float32) {
	cs.pairs[pair.ID] = pair
	cs.rows[pair.ID] = len(cs.order)
	cs.order = append(cs.order, pair.ID)
	cs.matrix = append(cs.matrix, vector...)
}

// replaceVector overwrites the row of an existing pair.
func (cs *categoryStorage) replaceVector(id string, vector []float32) {
	row, ok := cs.rows[id]
	if !ok {
		return
	}
	copy(cs.matrix[row*cs.dim:(row+1)*cs.dim], vector)
}

// remove deletes a pair by swapping its row with the last row and
// truncating, then fixing the moved pair's row index.
func (cs *categoryStorage) remove(id string) bool {
	row, ok := cs.rows[id]
	if !ok {
		return false
	}
	last := len(cs.order) - 1
	if row != last {
		movedID := cs.order[last]
		copy(cs.matrix[row*cs.dim:(row+1)*cs.dim], cs.matrix[last*cs.dim:(last+1)*cs.dim])
		cs.order[row] = movedID
		cs.rows[movedID] = row
	}
	cs.order = cs.order[:last]
	cs.matrix = cs.matrix[:last*cs.dim]
	delete(cs.rows, id)
	delete(cs.pairs, id)
	return true
}

// vectorOf returns the embedding row of a pair, or nil.
func (cs *categoryStorage) vectorOf(id string) []float32 {
	row, ok := cs.rows[id]
	if !ok {
		return nil
	}
	return cs.matrix[row*cs.dim : (row+1)*cs.dim]
}

// persist writes pairs.json, vectors.bin, and meta.json atomically.
func (cs *categoryStorage) persist() error {
	if err := os.MkdirAll(cs.dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %v: %w", cs.dir, err, datatypes.ErrStorageFailure)
	}

	rawPairs, err := json.MarshalIndent(cs.pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pairs: %v: %w", err, datatypes.ErrStorageFailure)
	}
	if err := writeAtomic(filepath.Join(cs.dir, pairsFile), rawPairs); err != nil {
		return err
	}

	if err := writeVectors(filepath.Join(cs.dir, vectorsFile), cs.matrix); err != nil {
		return err
	}

	meta := categoryMeta{
		PairCount:   len(cs.order),
		Dimension:   cs.dim,
		PairOrder:   cs.order,
		LastUpdated: time.Now().UTC(),
	}
	rawMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	return writeAtomic(filepath.Join(cs.dir, metaFile), rawMeta)
}

// =============================================================================
// File Helpers
// =============================================================================

// writeAtomic writes data to path via a temp file in the same directory
// followed by rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	return nil
}

// writeVectors encodes the matrix as little-endian float32.
func writeVectors(path string, matrix []float32) error {
	buf := make([]byte, len(matrix)*4)
	for i, v := range matrix {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return writeAtomic(path, buf)
}

// readVectors decodes a little-endian float32 file.
func readVectors(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%s length %d not float-aligned: %w", path, len(raw), datatypes.ErrStorageFailure)
	}
	matrix := make([]float32, len(raw)/4)
	for i := range matrix {
		matrix[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return matrix, nil
}
