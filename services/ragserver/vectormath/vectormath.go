// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vectormath holds the small dense-vector routines shared by the
// QA store and the retrieval engine. Scores accumulate in float64 to keep
// cosine stable over long float32 vectors.
package vectormath

import "math"

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is zero or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineAgainstMatrix scores query against every row of matrix, which is
// stored row-major with the given width. A trailing partial row (a
// truncated file) gets no score rather than panicking.
func CosineAgainstMatrix(query []float32, matrix []float32, width int) []float64 {
	if width <= 0 || len(query) != width {
		return nil
	}
	rows := len(matrix) / width
	scores := make([]float64, rows)
	for i := 0; i < rows; i++ {
		row := matrix[i*width : (i+1)*width]
		scores[i] = Cosine(query, row)
	}
	return scores
}

// TopK returns the indices of the k highest scores in descending score
// order. Ties keep the smaller index first; callers wanting a different
// tie-break re-sort the small result themselves.
func TopK(scores []float64, k int) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	// Selection over a small k beats sorting the whole index set for the
	// matrix sizes seen here.
	if k > len(idx) {
		k = len(idx)
	}
	for i := 0; i < k; i++ {
		best := i
		for j := i + 1; j < len(idx); j++ {
			if scores[idx[j]] > scores[idx[best]] ||
				(scores[idx[j]] == scores[idx[best]] && idx[j] < idx[best]) {
				best = j
			}
		}
		idx[i], idx[best] = idx[best], idx[i]
	}
	return idx[:k]
}
