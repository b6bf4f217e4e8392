// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tower

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SentinelTower/pkg/credential"
)

func TestRegistry_AddVerifyRemove(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "registry.yaml")
	reg, err := OpenRegistry(path, nil)
	require.NoError(t, err)
	assert.Empty(t, reg.List())

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := reg.Add("sentinel-001", "tower-001", now)
	require.NoError(t, err)
	assert.Len(t, token, 43)

	subject, err := reg.Verify(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, subject)
	assert.Equal(t, Subject{SentinelID: "sentinel-001", TowerID: "tower-001"}, *subject)

	subject, err = reg.Verify(ctx, "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, subject)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), token, "the token itself is never written")
	assert.Contains(t, string(data), credential.Digest(token))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = reg.Add("sentinel-001", "tower-001", now)
	assert.ErrorIs(t, err, ErrSentinelExists)

	_, err = reg.Add("sentinel 002", "tower-001", now)
	assert.Error(t, err)
	_, err = reg.Add("sentinel-002", "", now)
	assert.Error(t, err)
	assert.Len(t, reg.List(), 1)

	removed, err := reg.Remove("sentinel-001")
	require.NoError(t, err)
	assert.True(t, removed)
	subject, err = reg.Verify(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, subject)

	removed, err = reg.Remove("sentinel-001")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegistry_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	reg, err := OpenRegistry(path, nil)
	require.NoError(t, err)
	tokB, err := reg.Add("sentinel-b", "tower-001", time.Now())
	require.NoError(t, err)
	_, err = reg.Add("sentinel-a", "tower-001", time.Now())
	require.NoError(t, err)

	reopened, err := OpenRegistry(path, nil)
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, "sentinel-a", list[0].SentinelID)

	subject, err := reopened.Verify(context.Background(), tokB)
	require.NoError(t, err)
	require.NotNil(t, subject)
	assert.Equal(t, "sentinel-b", subject.SentinelID)
}

func TestRegistry_KeepsEntriesFromOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	first, err := OpenRegistry(path, nil)
	require.NoError(t, err)
	second, err := OpenRegistry(path, nil)
	require.NoError(t, err)

	_, err = first.Add("sentinel-001", "tower-001", time.Now())
	require.NoError(t, err)
	// second has not reloaded and still believes the file is empty.
	_, err = second.Add("sentinel-002", "tower-001", time.Now())
	require.NoError(t, err)
	_, err = second.Add("sentinel-001", "tower-001", time.Now())
	assert.ErrorIs(t, err, ErrSentinelExists)

	reopened, err := OpenRegistry(path, nil)
	require.NoError(t, err)
	ids := []string{}
	for _, e := range reopened.List() {
		ids = append(ids, e.SentinelID)
	}
	assert.Equal(t, []string{"sentinel-001", "sentinel-002"}, ids)

	removed, err := first.Remove("sentinel-002")
	require.NoError(t, err)
	assert.True(t, removed)
	reopened, err = OpenRegistry(path, nil)
	require.NoError(t, err)
	require.Len(t, reopened.List(), 1)
	assert.Equal(t, "sentinel-001", reopened.List()[0].SentinelID)
}

func TestRegistry_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sentinels:\n  - sentinel_id: s1\n    tower_id: t1\n    token_sha256: short\n"), 0o600))
	_, err := OpenRegistry(path, nil)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("sentinels: [oops"), 0o600))
	_, err = OpenRegistry(path, nil)
	assert.Error(t, err)
}

func TestRegistry_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	reg, err := OpenRegistry(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Watch(ctx) }()

	// Another process (the CLI) registers a sentinel in the same file.
	writer, err := OpenRegistry(path, nil)
	require.NoError(t, err)

	var token string
	require.Eventually(t, func() bool {
		if token == "" {
			token, err = writer.Add("sentinel-009", "tower-001", time.Now())
			if err != nil {
				return false
			}
		} else if data, rerr := os.ReadFile(path); rerr == nil {
			// Rewrite in case the first change landed before the watch began.
			_ = os.WriteFile(path, data, 0o600)
		}
		subject, _ := reg.Verify(context.Background(), token)
		return subject != nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
