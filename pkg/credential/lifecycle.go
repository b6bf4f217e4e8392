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

	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

// Status is the outcome of a lifecycle operation.
type Status string

const (
	// StatusReady means the operation completed.
	StatusReady Status = "ready"
	// StatusBlocked means secure storage prevented the operation. The
	// user must act before alerts can be delivered.
	StatusBlocked Status = "blocked"
)

// User-facing guidance attached to blocked results.
const (
	MessageStorageUnavailable = "Secure storage is unavailable. Check device security settings and retry."
	MessageStorageFailed      = "The pairing credential could not be updated. Check device security settings, then pair this sentinel with the tower again."
)

// LifecycleResult reports a pairing, rotation or clearing outcome.
type LifecycleResult struct {
	Status      Status
	Err         *StoreError
	UserMessage string
}

// Ready reports whether the operation completed.
func (r LifecycleResult) Ready() bool {
	return r.Status == StatusReady
}

// TokenWriter is the part of Store that Lifecycle drives.
type TokenWriter interface {
	SetToken(ctx context.Context, token string) error
	DeleteToken(ctx context.Context) error
}

// Lifecycle manages the pairing token across its life: recorded at
// pairing, replaced at rotation, removed at unpairing.
type Lifecycle struct {
	store  TokenWriter
	logger *logging.Logger
}

// NewLifecycle returns a Lifecycle over store. A nil logger discards.
func NewLifecycle(store TokenWriter, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Lifecycle{store: store, logger: logger.With("component", "credential")}
}

// RecordPairing stores the token issued when the sentinel paired.
func (l *Lifecycle) RecordPairing(ctx context.Context, token string) LifecycleResult {
	if err := l.store.SetToken(ctx, token); err != nil {
		return l.blocked("record pairing", err, CodeWriteFailed)
	}
	l.logger.Info("pairing recorded", "token_fingerprint", Fingerprint(token))
	return LifecycleResult{Status: StatusReady}
}

// RotateToken replaces the stored token.
func (l *Lifecycle) RotateToken(ctx context.Context, token string) LifecycleResult {
	if err := l.store.SetToken(ctx, token); err != nil {
		return l.blocked("rotate token", err, CodeWriteFailed)
	}
	l.logger.Info("token rotated", "token_fingerprint", Fingerprint(token))
	return LifecycleResult{Status: StatusReady}
}

// ClearPairing removes the token when the sentinel is unpaired.
func (l *Lifecycle) ClearPairing(ctx context.Context) LifecycleResult {
	if err := l.store.DeleteToken(ctx); err != nil {
		return l.blocked("clear pairing", err, CodeDeleteFailed)
	}
	l.logger.Info("pairing cleared")
	return LifecycleResult{Status: StatusReady}
}

// ClearCache removes the locally held token without touching anything
// on the tower side.
func (l *Lifecycle) ClearCache(ctx context.Context) LifecycleResult {
	if err := l.store.DeleteToken(ctx); err != nil {
		return l.blocked("clear cache", err, CodeDeleteFailed)
	}
	l.logger.Info("credential cache cleared")
	return LifecycleResult{Status: StatusReady}
}

func (l *Lifecycle) blocked(op string, err error, fallback Code) LifecycleResult {
	se, ok := AsStoreError(err)
	if !ok {
		se = newStoreError(fallback, "Credential storage operation failed", err)
	}
	msg := MessageStorageFailed
	if se.Code == CodeUnavailable {
		msg = MessageStorageUnavailable
	}
	l.logger.Warn("credential operation blocked", "operation", op, "code", string(se.Code), "error", se.Error())
	return LifecycleResult{Status: StatusBlocked, Err: se, UserMessage: msg}
}
