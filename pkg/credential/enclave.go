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
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrBridgeClosed is returned by a bridge after Close.
var ErrBridgeClosed = errors.New("secure storage closed")

// EnclaveBridge keeps tokens in memguard enclaves: encrypted at rest in
// process memory, decrypted into guarded pages only while being read.
// Nothing is persisted; tokens are gone when the process exits.
//
// It backs `sentinel --ephemeral` and is the reference Bridge in tests.
//
// # Thread Safety
//
// Safe for concurrent use.
type EnclaveBridge struct {
	mu     sync.RWMutex
	items  map[string]*memguard.Enclave
	closed bool
}

// NewEnclaveBridge returns an empty, available bridge.
func NewEnclaveBridge() *EnclaveBridge {
	return &EnclaveBridge{items: make(map[string]*memguard.Enclave)}
}

// IsAvailable reports false once the bridge is closed.
func (b *EnclaveBridge) IsAvailable(ctx context.Context) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed, nil
}

// GetToken decrypts the enclave under key.
func (b *EnclaveBridge) GetToken(ctx context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return "", false, ErrBridgeClosed
	}
	enclave, ok := b.items[key]
	if !ok {
		return "", false, nil
	}
	buf, err := enclave.Open()
	if err != nil {
		return "", false, err
	}
	defer buf.Destroy()
	return string(buf.Bytes()), true, nil
}

// SetToken seals value into a new enclave under key. An empty value
// removes the key.
func (b *EnclaveBridge) SetToken(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	if value == "" {
		delete(b.items, key)
		return nil
	}
	// NewEnclave wipes its input, so hand it a private copy.
	b.items[key] = memguard.NewEnclave([]byte(value))
	return nil
}

// DeleteToken drops the enclave under key.
func (b *EnclaveBridge) DeleteToken(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBridgeClosed
	}
	delete(b.items, key)
	return nil
}

// Close drops every enclave and marks the bridge unavailable.
func (b *EnclaveBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.items = nil
	return nil
}
