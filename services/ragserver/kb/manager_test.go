// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	m, err := NewManager(t.TempDir(), locks.NewKeyedTable(5*time.Second), log)
	require.NoError(t, err)
	return m
}

func TestManagerCreatesDefaultKB(t *testing.T) {
	m := newTestManager(t)

	assert.Equal(t, DefaultName, m.CurrentName())

	info, err := m.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, info.IsCurrent)
}

func TestCreateLaysOutWorkingDir(t *testing.T) {
	m := newTestManager(t)

	info, err := m.Create(context.Background(), datatypes.KBCreateRequest{
		Name:        "tenant1",
		Description: "first tenant",
		Language:    "en",
	})
	require.NoError(t, err)

	for _, file := range requiredFiles {
		_, err := os.Stat(filepath.Join(info.WorkingDir, file))
		assert.NoError(t, err, "required file %s", file)
	}
	_, err = os.Stat(filepath.Join(info.WorkingDir, VectorCacheDir))
	assert.NoError(t, err)
}

func TestCreateDuplicateFails(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "dup"})
	require.NoError(t, err)

	_, err = m.Create(ctx, datatypes.KBCreateRequest{Name: "dup"})
	assert.True(t, errors.Is(err, datatypes.ErrAlreadyExists))
}

func TestCreateRejectsBadNames(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, name := range []string{"", "  ", "a/b", `a\b`, ".hidden"} {
		_, err := m.Create(ctx, datatypes.KBCreateRequest{Name: name})
		assert.True(t, errors.Is(err, datatypes.ErrBadInput), "name %q", name)
	}
}

func TestConcurrentCreateSameName(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	successes := 0
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "contended"}); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes, "exactly one create wins")
}

func TestSwitchCurrent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "other"})
	require.NoError(t, err)

	require.NoError(t, m.SwitchCurrent(ctx, "other"))
	assert.Equal(t, "other", m.CurrentName())

	err = m.SwitchCurrent(ctx, "missing")
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
	assert.Equal(t, "other", m.CurrentName(), "failed switch leaves current untouched")
}

func TestDeleteCurrentRequiresForce(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.Delete(ctx, m.CurrentName(), false)
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))

	require.NoError(t, m.Delete(ctx, m.CurrentName(), true))
	// A current KB always exists afterwards.
	_, err = m.Current(ctx)
	assert.NoError(t, err)
}

func TestDeleteMissingKB(t *testing.T) {
	m := newTestManager(t)
	err := m.Delete(context.Background(), "ghost", true)
	assert.True(t, errors.Is(err, datatypes.ErrNotFound))
}

func TestUpdateConfigPartial(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "cfg"})
	require.NoError(t, err)

	info, err := m.UpdateConfig(ctx, "cfg", map[string]any{
		"chunk_size": float64(500),
		"language":   "de",
	})
	require.NoError(t, err)
	assert.Equal(t, 500, info.Config.ChunkSize)
	assert.Equal(t, "de", info.Language)
	assert.Equal(t, 100, info.Config.ChunkOverlap, "untouched fields keep defaults")
}

func TestBackupAndRestore(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "bak", Description: "original"})
	require.NoError(t, err)

	path, err := m.Backup(ctx, "bak")
	require.NoError(t, err)
	require.DirExists(t, path)

	// Mutate, then restore the snapshot.
	_, err = m.UpdateConfig(ctx, "bak", map[string]any{"description": "mutated"})
	require.NoError(t, err)

	require.NoError(t, m.Restore(ctx, "bak", path))
	info, err := m.Info(ctx, "bak")
	require.NoError(t, err)
	assert.Equal(t, "original", info.Description)
}

func TestRestoreRejectsNonSnapshot(t *testing.T) {
	m := newTestManager(t)
	err := m.Restore(context.Background(), DefaultName, t.TempDir())
	assert.True(t, errors.Is(err, datatypes.ErrBadInput))
}

func TestEnsureInitializedHealsMissingFiles(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, datatypes.KBCreateRequest{Name: "healme"})
	require.NoError(t, err)

	statusPath := filepath.Join(info.WorkingDir, DocStatusFile)
	require.NoError(t, os.Remove(statusPath))

	require.NoError(t, m.EnsureInitialized(ctx, "healme"))
	assert.FileExists(t, statusPath, "missing KV store is recreated")
}
