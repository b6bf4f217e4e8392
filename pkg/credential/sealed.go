// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/nacl/secretbox"

	storagebadger "github.com/AleutianAI/SentinelTower/pkg/storage/badger"
)

const (
	vaultKeySize = 32
	nonceSize    = 24
	vaultPrefix  = "vault/"
)

var (
	// ErrVaultKeySize is returned when the key file is not 32 bytes.
	ErrVaultKeySize = errors.New("vault key must be 32 bytes")

	// ErrSealBroken is returned when a stored value fails authentication,
	// usually because the key file was replaced.
	ErrSealBroken = errors.New("sealed value failed authentication")
)

// SealedBridge persists tokens in BadgerDB, each sealed with
// NaCl secretbox under a 32-byte vault key. The key is held in a memguard
// enclave and only decrypted for the duration of a seal or open.
//
// # Thread Safety
//
// Safe for concurrent use.
type SealedBridge struct {
	db  *storagebadger.DB
	key *memguard.Enclave
}

// NewSealedBridge returns a bridge storing sealed values in db.
func NewSealedBridge(db *storagebadger.DB, key *memguard.Enclave) *SealedBridge {
	return &SealedBridge{db: db, key: key}
}

// LoadOrCreateVaultKey reads the vault key at path, creating a random one
// with 0600 permissions when the file does not exist.
func LoadOrCreateVaultKey(path string) (*memguard.Enclave, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return createVaultKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read vault key: %w", err)
	}
	if len(data) != vaultKeySize {
		memguard.WipeBytes(data)
		return nil, ErrVaultKeySize
	}
	return memguard.NewEnclave(data), nil
}

func createVaultKey(path string) (*memguard.Enclave, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create vault key directory: %w", err)
	}
	buf := memguard.NewBufferRandom(vaultKeySize)
	defer buf.Destroy()
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("write vault key: %w", err)
	}
	return buf.Seal(), nil
}

// IsAvailable reports whether the database is open and a key is loaded.
func (b *SealedBridge) IsAvailable(ctx context.Context) (bool, error) {
	if b.key == nil {
		return false, nil
	}
	return !b.db.IsClosed(), nil
}

// GetToken opens the sealed value under key.
func (b *SealedBridge) GetToken(ctx context.Context, key string) (string, bool, error) {
	box, found, err := b.db.Get(ctx, []byte(vaultPrefix+key))
	if err != nil || !found {
		return "", false, err
	}
	plain, err := b.open(box)
	if err != nil {
		return "", false, err
	}
	defer memguard.WipeBytes(plain)
	return string(plain), true, nil
}

// SetToken seals value and stores it under key.
func (b *SealedBridge) SetToken(ctx context.Context, key, value string) error {
	box, err := b.seal([]byte(value))
	if err != nil {
		return err
	}
	return b.db.Set(ctx, []byte(vaultPrefix+key), box)
}

// DeleteToken removes key.
func (b *SealedBridge) DeleteToken(ctx context.Context, key string) error {
	return b.db.Delete(ctx, []byte(vaultPrefix+key))
}

func (b *SealedBridge) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	keyBuf, err := b.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open vault key: %w", err)
	}
	defer keyBuf.Destroy()
	return secretbox.Seal(nonce[:], plain, &nonce, keyBuf.ByteArray32()), nil
}

func (b *SealedBridge) open(box []byte) ([]byte, error) {
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrSealBroken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	keyBuf, err := b.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open vault key: %w", err)
	}
	defer keyBuf.Destroy()
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, keyBuf.ByteArray32())
	if !ok {
		return nil, ErrSealBroken
	}
	return plain, nil
}
