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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Stubs
// =============================================================================

// flatEmbedder returns constant unit vectors; good enough for pipeline
// plumbing tests that never rank.
type flatEmbedder struct {
	dim  int
	fail bool
}

func (f *flatEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding down: %w", datatypes.ErrUpstreamFailure)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *flatEmbedder) Dimension() int                { return f.dim }
func (f *flatEmbedder) Probe(_ context.Context) error { return nil }

type testRig struct {
	ingestor *Ingestor
	manager  *kb.Manager
	embedder *flatEmbedder
	table    *locks.KeyedTable
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	table := locks.NewKeyedTable(10 * time.Second)
	manager, err := kb.NewManager(t.TempDir(), table, log)
	require.NoError(t, err)
	embedder := &flatEmbedder{dim: 8}
	ingestor := NewIngestor(manager, embedder, table, []string{".txt", ".md"}, 1024*1024, log)
	return &testRig{ingestor: ingestor, manager: manager, embedder: embedder, table: table}
}

// =============================================================================
// Text Ingest
// =============================================================================

func TestInsertTextRoundTrip(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	outcome, err := rig.ingestor.InsertText(ctx, datatypes.InsertTextRequest{
		Text: "AI is a branch of computer science. It studies intelligent agents.",
	})
	require.NoError(t, err)
	require.Len(t, outcome.DocumentIDs, 1)
	require.NotEmpty(t, outcome.TrackID)

	doc, err := rig.ingestor.Status(ctx, "", outcome.DocumentIDs[0])
	require.NoError(t, err)
	assert.Equal(t, datatypes.DocReady, doc.Status)

	store := retrieval.NewVectorStore(rig.manager, rig.manager.CurrentName(), 8, rig.table)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "chunks landed in the vector index")
}

func TestInsertTextEmptyRejected(t *testing.T) {
	rig := newRig(t)
	_, err := rig.ingestor.InsertText(context.Background(), datatypes.InsertTextRequest{Text: "   "})
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))
}

func TestInsertTextEmbeddingFailureMarksFailed(t *testing.T) {
	rig := newRig(t)
	rig.embedder.fail = true
	ctx := context.Background()

	_, err := rig.ingestor.InsertText(ctx, datatypes.InsertTextRequest{
		Text:  "this will fail to embed",
		DocID: "doc-fail",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrUpstreamFailure))

	doc, err := rig.ingestor.Status(ctx, "", "doc-fail")
	require.NoError(t, err)
	assert.Equal(t, datatypes.DocFailed, doc.Status)

	store := retrieval.NewVectorStore(rig.manager, rig.manager.CurrentName(), 8, rig.table)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "no half-ingested chunks remain")
}

func TestInsertTextsPartialFailure(t *testing.T) {
	rig := newRig(t)

	outcome, err := rig.ingestor.InsertTexts(context.Background(), datatypes.InsertTextsRequest{
		Texts: []string{"a perfectly fine document", "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Accepted)
	assert.Equal(t, 1, outcome.Rejected)
	assert.Len(t, outcome.Messages, 1)
}

func TestInsertTextSharesTrackID(t *testing.T) {
	rig := newRig(t)

	outcome, err := rig.ingestor.InsertTexts(context.Background(), datatypes.InsertTextsRequest{
		Texts:   []string{"first text", "second text"},
		TrackID: "track-fixed",
	})
	require.NoError(t, err)
	assert.Equal(t, "track-fixed", outcome.TrackID)

	for _, id := range outcome.DocumentIDs {
		doc, err := rig.ingestor.Status(context.Background(), "", id)
		require.NoError(t, err)
		assert.Equal(t, "track-fixed", doc.TrackID)
	}
}

// =============================================================================
// File Ingest
// =============================================================================

func TestCheckFileRules(t *testing.T) {
	rig := newRig(t)

	assert.NoError(t, rig.ingestor.CheckFile("notes.txt", 100))
	assert.NoError(t, rig.ingestor.CheckFile("README.md", 100))

	err := rig.ingestor.CheckFile("binary.exe", 100)
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))

	err = rig.ingestor.CheckFile("big.txt", 10*1024*1024)
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))
}

func TestInsertDirectoryWalk(t *testing.T) {
	rig := newRig(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("document alpha content"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("document beta content"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.bin"), []byte{0, 1}, 0o640))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "c.txt"), []byte("document gamma content"), 0o640))

	outcome, err := rig.ingestor.InsertDirectory(context.Background(), datatypes.InsertDirectoryRequest{
		Path: dir, Recursive: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Accepted, "allowed files including nested")
	assert.Len(t, outcome.DocumentIDs, 3)

	shallow, err := rig.ingestor.InsertDirectory(context.Background(), datatypes.InsertDirectoryRequest{
		Path: dir, Recursive: false,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, shallow.Accepted, "non-recursive skips nested directories")
}

// =============================================================================
// Chunking
// =============================================================================

func TestSplitDocumentOffsets(t *testing.T) {
	doc := &datatypes.Document{ID: "doc-x", Content: "alpha beta gamma delta epsilon zeta eta theta"}
	chunks, err := splitDocument(doc, 20, 5)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.Equal(t, "doc-x", c.DocumentID)
		assert.Contains(t, c.ID, "doc-x-chunk-")
		require.LessOrEqual(t, c.End, len(doc.Content))
		assert.Equal(t, doc.Content[c.Start:c.End], c.Content, "offsets index the original text")
	}
}
