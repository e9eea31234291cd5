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
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/vectormath"
)

// duplicateThreshold is the cosine floor above which an imported question
// counts as a duplicate of an existing pair in the same category.
const duplicateThreshold = 0.98

// =============================================================================
// Import Records
// =============================================================================

// importRecord is one row of an import payload, format-independent.
type importRecord struct {
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Keywords   []string `json:"keywords"`
	Source     string   `json:"source"`
}

// ImportOptions control an import run.
type ImportOptions struct {
	// Format is one of "json", "csv", "xlsx". The handler passes the
	// upload's filename extension; empty is parsed as json.
	Format string

	// OverwriteExisting replaces near-duplicate pairs (cosine above
	// duplicateThreshold in the same category) instead of skipping them.
	OverwriteExisting bool
}

// Import parses the payload and stores each record, reporting per-record
// outcomes. Records with missing required fields fail individually; a
// payload that cannot be parsed at all is bad input.
func (s *Store) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*datatypes.QAImportOutcome, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import payload: %v: %w", err, datatypes.ErrBadInput)
	}

	var records []importRecord
	switch strings.ToLower(opts.Format) {
	case "json", "":
		records, err = parseJSON(raw)
	case "csv":
		records, err = parseCSV(raw)
	case "xlsx", "excel":
		records, err = parseExcel(raw)
	default:
		return nil, datatypes.BadInputf("unsupported import format %q", opts.Format)
	}
	if err != nil {
		return nil, err
	}

	outcome := &datatypes.QAImportOutcome{Processed: len(records)}
	for i, rec := range records {
		if err := s.importOne(ctx, rec, opts.OverwriteExisting, outcome); err != nil {
			outcome.Failed++
			outcome.FailedRecords = append(outcome.FailedRecords, datatypes.QAFailedRecord{
				Index:    i,
				Reason:   err.Error(),
				Question: rec.Question,
			})
		}
	}
	return outcome, nil
}

// importOne stores one record, applying duplicate detection within its
// category. Mutates outcome counters on success and duplicate-skip.
func (s *Store) importOne(ctx context.Context, rec importRecord, overwrite bool, outcome *datatypes.QAImportOutcome) error {
	if strings.TrimSpace(rec.Question) == "" {
		return datatypes.BadInputf("missing question")
	}
	if strings.TrimSpace(rec.Answer) == "" {
		return datatypes.BadInputf("missing answer")
	}
	if strings.TrimSpace(rec.Category) == "" {
		return datatypes.BadInputf("missing category")
	}

	req := datatypes.QAPairRequest{
		Question:   rec.Question,
		Answer:     rec.Answer,
		Category:   rec.Category,
		Confidence: rec.Confidence,
		Keywords:   rec.Keywords,
		Source:     rec.Source,
	}
	if req.Source == "" {
		req.Source = "import"
	}

	vector, err := s.embed(ctx, rec.Question)
	if err != nil {
		return err
	}

	dupID, err := s.findDuplicate(ctx, rec.Category, vector)
	if err != nil {
		return err
	}

	if dupID != "" {
		if !overwrite {
			outcome.DuplicateSkipped++
			return nil
		}
		if _, err := s.Update(ctx, dupID, req); err != nil {
			return err
		}
		outcome.Succeeded++
		return nil
	}

	if _, err := s.Add(ctx, req); err != nil {
		return err
	}
	outcome.Succeeded++
	return nil
}

// findDuplicate returns the id of the nearest existing pair in category
// when its similarity exceeds the duplicate threshold, else "".
func (s *Store) findDuplicate(ctx context.Context, category string, vector []float32) (string, error) {
	h, err := s.locks.Acquire(ctx, categoryLockName(category), "import_scan")
	if err != nil {
		return "", err
	}
	defer h.Release()

	cs, err := s.openCategory(ctx, category, false)
	if err != nil {
		return "", nil // category does not exist yet: nothing to collide with
	}

	scores := vectormath.CosineAgainstMatrix(vector, cs.matrix, cs.dim)
	best := -1
	for i, score := range scores {
		if score > duplicateThreshold && (best < 0 || score > scores[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", nil
	}
	return cs.order[best], nil
}

// =============================================================================
// Payload Parsers
// =============================================================================

// parseJSON accepts either a bare array of records or {"pairs": [...]}.
func parseJSON(raw []byte) ([]importRecord, error) {
	var records []importRecord
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Pairs []importRecord `json:"pairs"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse json import: %v: %w", err, datatypes.ErrBadInput)
	}
	return wrapped.Pairs, nil
}

// parseCSV expects a header row naming at least question, answer, category.
func parseCSV(raw []byte) ([]importRecord, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv import: %v: %w", err, datatypes.ErrBadInput)
	}
	if len(rows) == 0 {
		return nil, datatypes.BadInputf("empty csv payload")
	}
	return rowsToRecords(rows)
}

// parseExcel reads the first sheet of an xlsx workbook.
func parseExcel(raw []byte) ([]importRecord, error) {
	book, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse excel import: %v: %w", err, datatypes.ErrBadInput)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, datatypes.BadInputf("workbook has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %v: %w", sheets[0], err, datatypes.ErrBadInput)
	}
	if len(rows) == 0 {
		return nil, datatypes.BadInputf("empty sheet %q", sheets[0])
	}
	return rowsToRecords(rows)
}

// rowsToRecords maps header-indexed rows to records. Header matching is
// case-insensitive; unknown columns are ignored.
func rowsToRecords(rows [][]string) ([]importRecord, error) {
	header := map[string]int{}
	for i, name := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"question", "answer", "category"} {
		if _, ok := header[required]; !ok {
			return nil, datatypes.BadInputf("missing required column %q", required)
		}
	}

	cell := func(row []string, name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	records := make([]importRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		rec := importRecord{
			Question: cell(row, "question"),
			Answer:   cell(row, "answer"),
			Category: cell(row, "category"),
			Source:   cell(row, "source"),
		}
		if v := cell(row, "confidence"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				rec.Confidence = &f
			}
		}
		if v := cell(row, "keywords"); v != "" {
			for _, kw := range strings.Split(v, ";") {
				if kw = strings.TrimSpace(kw); kw != "" {
					rec.Keywords = append(rec.Keywords, kw)
				}
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// =============================================================================
// Export
// =============================================================================

// Export dumps every pair (optionally scoped to one category) as JSON or
// CSV into w. Returns the number of pairs written.
func (s *Store) Export(ctx context.Context, w io.Writer, format, category string) (int, error) {
	pairs, _, err := s.List(ctx, category, 0, 0, 0)
	if err != nil {
		return 0, err
	}

	switch strings.ToLower(format) {
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(pairs); err != nil {
			return 0, fmt.Errorf("encode export: %v: %w", err, datatypes.ErrInternal)
		}
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"question", "answer", "category", "confidence", "keywords", "source"}); err != nil {
			return 0, fmt.Errorf("write export header: %v: %w", err, datatypes.ErrInternal)
		}
		for _, p := range pairs {
			row := []string{
				p.Question, p.Answer, p.Category,
				strconv.FormatFloat(p.Confidence, 'f', -1, 64),
				strings.Join(p.Keywords, ";"),
				p.Source,
			}
			if err := cw.Write(row); err != nil {
				return 0, fmt.Errorf("write export row: %v: %w", err, datatypes.ErrInternal)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return 0, fmt.Errorf("flush export: %v: %w", err, datatypes.ErrInternal)
		}
	default:
		return 0, datatypes.BadInputf("unsupported export format %q", format)
	}
	return len(pairs), nil
}
