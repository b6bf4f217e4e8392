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
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
	"github.com/AleutianAI/SentinelTower/pkg/validation"
)

// ErrSentinelExists is returned by Add for an already registered id.
var ErrSentinelExists = errors.New("sentinel already registered")

// tokenBytes is the entropy of a minted pairing token.
const tokenBytes = 32

// RegistryEntry is one paired sentinel. Only the SHA-256 digest of its
// token is kept.
type RegistryEntry struct {
	SentinelID  string    `yaml:"sentinel_id" validate:"required"`
	TowerID     string    `yaml:"tower_id" validate:"required"`
	TokenSHA256 string    `yaml:"token_sha256" validate:"required,len=64,hexadecimal"`
	AddedAt     time.Time `yaml:"added_at"`
}

type registryFile struct {
	Sentinels []RegistryEntry `yaml:"sentinels" validate:"dive"`
}

var registryValidate = validator.New()

// Registry is an AuthVerifier backed by a YAML file of token digests.
//
// # Description
//
// The file is the source of truth. Add and Remove rewrite it atomically
// (temp file + rename); Watch reloads it when another process, usually
// `tower registry add`, changes it while the server runs.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	path   string
	logger *logging.Logger

	mu       sync.RWMutex
	entries  []RegistryEntry
	byDigest map[string]RegistryEntry
}

// OpenRegistry loads the registry at path. A missing file is an empty
// registry; it is created on the first Add.
func OpenRegistry(path string, logger *logging.Logger) (*Registry, error) {
	if path == "" {
		return nil, errors.New("registry path is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{path: path, logger: logger.With("component", "registry")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string {
	return r.path
}

// Verify implements AuthVerifier.
func (r *Registry) Verify(ctx context.Context, token string) (*Subject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := credential.Digest(token)
	r.mu.RLock()
	entry, ok := r.byDigest[digest]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &Subject{SentinelID: entry.SentinelID, TowerID: entry.TowerID}, nil
}

// List returns the entries ordered by sentinel id.
func (r *Registry) List() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reload rereads the file and swaps the in-memory index.
func (r *Registry) Reload() error {
	entries, err := readRegistry(r.path)
	if err != nil {
		return err
	}
	r.install(entries)
	return nil
}

// Add mints a token for sentinelID, stores its digest, and returns the
// token. The token is not recoverable afterwards. The file is reread under
// the lock so entries written by another process since the last reload
// are kept.
func (r *Registry) Add(sentinelID, towerID string, now time.Time) (string, error) {
	if err := validation.ValidateIdentifier("sentinel id", sentinelID); err != nil {
		return "", err
	}
	if err := validation.ValidateIdentifier("tower id", towerID); err != nil {
		return "", err
	}
	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := readRegistry(r.path)
	if err != nil {
		return "", err
	}
	for _, e := range current {
		if e.SentinelID == sentinelID {
			return "", fmt.Errorf("%w: %s", ErrSentinelExists, sentinelID)
		}
	}
	entry := RegistryEntry{
		SentinelID:  sentinelID,
		TowerID:     towerID,
		TokenSHA256: credential.Digest(token),
		AddedAt:     now.UTC().Truncate(time.Second),
	}
	if err := registryValidate.Struct(entry); err != nil {
		return "", fmt.Errorf("invalid registry entry: %w", err)
	}
	next := append(current, entry)
	if err := writeRegistry(r.path, next); err != nil {
		return "", err
	}
	r.installLocked(next)
	r.logger.Info("sentinel registered", "sentinel_id", sentinelID, "tower_id", towerID, "token_fingerprint", credential.Fingerprint(token))
	return token, nil
}

// Remove deletes sentinelID. It reports whether an entry was removed.
func (r *Registry) Remove(sentinelID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := readRegistry(r.path)
	if err != nil {
		return false, err
	}
	next := make([]RegistryEntry, 0, len(current))
	for _, e := range current {
		if e.SentinelID != sentinelID {
			next = append(next, e)
		}
	}
	if len(next) == len(current) {
		r.installLocked(current)
		return false, nil
	}
	if err := writeRegistry(r.path, next); err != nil {
		return false, err
	}
	r.installLocked(next)
	r.logger.Info("sentinel removed", "sentinel_id", sentinelID)
	return true, nil
}

// Watch reloads the registry whenever its file changes, until ctx is
// done. The parent directory is watched so editors that replace the file
// by rename are handled. A file that fails to parse is logged and the
// previous index is kept.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create registry watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("registry reload failed, keeping previous entries", "error", err.Error())
				continue
			}
			r.logger.Info("registry reloaded", "sentinels", len(r.List()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("registry watcher error", "error", err.Error())
		}
	}
}

func (r *Registry) install(entries []RegistryEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installLocked(entries)
}

func (r *Registry) installLocked(entries []RegistryEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].SentinelID < entries[j].SentinelID })
	idx := make(map[string]RegistryEntry, len(entries))
	for _, e := range entries {
		idx[e.TokenSHA256] = e
	}
	r.entries = entries
	r.byDigest = idx
}

// GenerateToken returns 32 random bytes, base64url encoded.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func readRegistry(path string) ([]RegistryEntry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if err := registryValidate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid registry %s: %w", path, err)
	}
	return f.Sentinels, nil
}

func writeRegistry(path string, entries []RegistryEntry) error {
	data, err := yaml.Marshal(registryFile{Sentinels: entries})
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}
