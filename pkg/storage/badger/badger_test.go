// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenInMemory_SetGetDelete(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()

	_, found, err := db.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, db.Set(ctx, []byte("k"), []byte("v")))
	v, found, err := db.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete(ctx, []byte("k")))
	_, found, err = db.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, found)

	assert.Equal(t, "", db.Path())
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, db.Set(ctx, []byte("persistent-key"), []byte("persistent-value")))
	require.NoError(t, db.Close())

	db2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer db2.Close()

	v, found, err := db2.Get(ctx, []byte("persistent-key"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "persistent-value", string(v))
	assert.Equal(t, dir, db2.Path())
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestDB_ClosedOperations(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is harmless")

	assert.True(t, db.IsClosed())
	err = db.Set(context.Background(), []byte("k"), []byte("v"))
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = db.Get(context.Background(), []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDB_Update_CancelledContext(t *testing.T) {
	db := openTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.Update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDB_Update_FnErrorIsReturned(t *testing.T) {
	db := openTest(t)
	boom := errors.New("boom")
	err := db.Update(context.Background(), func(txn *badger.Txn) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

// Concurrent read-then-insert transactions on the same key must admit
// exactly one winner; losers retry and observe the key.
func TestDB_Update_CompareAndInsertIsAtomic(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	key := []byte("event/550e8400-e29b-41d4-a716-446655440000")

	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var created bool
			err := db.Update(ctx, func(txn *badger.Txn) error {
				created = false
				_, err := txn.Get(key)
				if err == nil {
					return nil
				}
				if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
				created = true
				return txn.Set(key, []byte("x"))
			})
			assert.NoError(t, err)
			if created {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inserted.Load())
}

func TestDB_RunGC_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Path: dir, GCInterval: 10 * time.Millisecond, GCDiscardRatio: 0.5})
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, db.RunGC(ctx))
}

func TestPreferences(t *testing.T) {
	db := openTest(t)
	ctx := context.Background()
	prefs := NewPreferences(db, "sentinel")
	other := NewPreferences(db, "other")

	_, found, err := prefs.Get(ctx, "http_exception_enabled")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, prefs.Set(ctx, "http_exception_enabled", "true"))
	v, found, err := prefs.Get(ctx, "http_exception_enabled")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "true", v)

	_, found, err = other.Get(ctx, "http_exception_enabled")
	require.NoError(t, err)
	assert.False(t, found, "namespaces are isolated")

	require.NoError(t, prefs.Remove(ctx, "http_exception_enabled"))
	require.NoError(t, prefs.Remove(ctx, "never_set"))
	_, found, err = prefs.Get(ctx, "http_exception_enabled")
	require.NoError(t, err)
	assert.False(t, found)
}
