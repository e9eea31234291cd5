// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

func TestKeyedTableSerializesSameName(t *testing.T) {
	table := NewKeyedTable(5 * time.Second)
	ctx := context.Background()

	const workers = 20
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		// Different purposes on the same name must still serialize.
		purpose := "write"
		if i%2 == 0 {
			purpose = "read"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := table.Acquire(ctx, "cat-a", purpose)
			require.NoError(t, err)
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			h.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestKeyedTableDifferentNamesIndependent(t *testing.T) {
	table := NewKeyedTable(5 * time.Second)
	ctx := context.Background()

	h1, err := table.Acquire(ctx, "a", "write")
	require.NoError(t, err)
	defer h1.Release()

	done := make(chan struct{})
	go func() {
		h2, err := table.Acquire(ctx, "b", "write")
		assert.NoError(t, err)
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquisition of a different name blocked")
	}
}

func TestKeyedTableTimeout(t *testing.T) {
	table := NewKeyedTable(50 * time.Millisecond)
	ctx := context.Background()

	h, err := table.Acquire(ctx, "held", "write")
	require.NoError(t, err)
	defer h.Release()

	_, err = table.Acquire(ctx, "held", "write")
	require.Error(t, err)
	assert.True(t, errors.Is(err, datatypes.ErrLockTimeout))
}

func TestHandleReleaseIdempotent(t *testing.T) {
	table := NewKeyedTable(time.Second)
	h, err := table.Acquire(context.Background(), "x", "write")
	require.NoError(t, err)

	h.Release()
	h.Release() // second release is a no-op

	h2, err := table.Acquire(context.Background(), "x", "write")
	require.NoError(t, err)
	h2.Release()
}

func TestAcquireManyOrdersAndReleases(t *testing.T) {
	table := NewKeyedTable(2 * time.Second)
	ctx := context.Background()

	h, err := table.AcquireMany(ctx, []string{"c", "a", "b", "a"}, "batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, h.Names())
	h.Release()

	// All names are free again.
	for _, name := range []string{"a", "b", "c"} {
		single, err := table.Acquire(ctx, name, "check")
		require.NoError(t, err)
		single.Release()
	}
}

func TestAcquireManyNoDeadlockUnderContention(t *testing.T) {
	table := NewKeyedTable(5 * time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		names := []string{"x", "y", "z"}
		if i%2 == 0 {
			names = []string{"z", "x", "y"} // reversed request order
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := table.AcquireMany(ctx, names, "batch")
			assert.NoError(t, err)
			time.Sleep(time.Millisecond)
			h.Release()
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("multi-lock contention deadlocked")
	}
}

func TestCleanupKeepsHeldLocks(t *testing.T) {
	table := NewKeyedTable(time.Second)
	ctx := context.Background()

	h, err := table.Acquire(ctx, "held", "write")
	require.NoError(t, err)
	free, err := table.Acquire(ctx, "free", "write")
	require.NoError(t, err)
	free.Release()

	removed := table.Cleanup()
	assert.Equal(t, 1, removed)

	h.Release()
	assert.Equal(t, 1, table.Cleanup())
}

func TestInitOnceSingleInitialization(t *testing.T) {
	table := NewKeyedTable(5 * time.Second)
	ctx := context.Background()

	var mu sync.Mutex
	var value *string
	inits := 0

	get := func() (*string, bool) {
		mu.Lock()
		defer mu.Unlock()
		return value, value != nil
	}
	init := func() (*string, error) {
		mu.Lock()
		defer mu.Unlock()
		inits++
		v := "built"
		value = &v
		return value, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := InitOnce(ctx, table, "resource", get, init)
			assert.NoError(t, err)
			assert.Equal(t, "built", *got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inits, "exactly one initialization must complete")
}
