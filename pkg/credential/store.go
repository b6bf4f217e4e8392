// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package credential owns the bearer token a sentinel presents to its
// tower.
//
// The token lives in platform secure storage reached through a Bridge.
// Store normalizes every bridge failure into a StoreError with a Code, so
// callers branch on the kind of failure rather than on bridge internals.
// Lifecycle layers pairing, rotation and unpairing on top and turns
// failures into a user-facing "blocked" outcome.
//
// Token values are never logged. Use Fingerprint when a log line needs to
// identify which token is in play.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TokenKey is the secure-storage key holding the pairing token.
const TokenKey = "auth_token"

// Bridge is the platform secure-storage facility. Implementations may
// fail on any call; Store maps those failures to Codes.
type Bridge interface {
	// IsAvailable reports whether secure storage can be used right now.
	IsAvailable(ctx context.Context) (bool, error)

	// GetToken returns the value under key. found is false when no value
	// is stored.
	GetToken(ctx context.Context, key string) (value string, found bool, err error)

	// SetToken stores value under key.
	SetToken(ctx context.Context, key, value string) error

	// DeleteToken removes key. Removing a missing key is not an error.
	DeleteToken(ctx context.Context, key string) error
}

// Code classifies a credential storage failure.
type Code string

const (
	// CodeUnavailable means secure storage cannot be used at all.
	CodeUnavailable Code = "UNAVAILABLE"
	// CodeReadFailed means storage was available but the read failed.
	CodeReadFailed Code = "READ_FAILED"
	// CodeWriteFailed means storing a token failed.
	CodeWriteFailed Code = "WRITE_FAILED"
	// CodeDeleteFailed means removing the token failed.
	CodeDeleteFailed Code = "DELETE_FAILED"
)

// ErrEmptyToken is the cause recorded when asked to store a blank token.
var ErrEmptyToken = errors.New("token must not be empty")

// errBridgeReportedUnavailable is the cause when the availability check answers false
// without an error of its own.
var errBridgeReportedUnavailable = errors.New("secure storage reported unavailable")

// StoreError is the typed failure returned by Store.
type StoreError struct {
	Code    Code
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches another *StoreError by Code, so callers can write
// errors.Is(err, &credential.StoreError{Code: credential.CodeUnavailable}).
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// AsStoreError extracts a *StoreError from err's chain.
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func newStoreError(code Code, message string, cause error) *StoreError {
	return &StoreError{Code: code, Message: message, Err: cause}
}

// Store reads and writes the pairing token through a Bridge.
//
// # Thread Safety
//
// Store holds no state of its own; concurrency guarantees are those of
// the Bridge.
type Store struct {
	bridge Bridge
}

// NewStore returns a Store backed by bridge.
func NewStore(bridge Bridge) *Store {
	return &Store{bridge: bridge}
}

// IsAvailable reports whether secure storage is usable. A failing availability check
// counts as unavailable; this method never returns an error.
func (s *Store) IsAvailable(ctx context.Context) bool {
	ok, err := s.bridge.IsAvailable(ctx)
	return err == nil && ok
}

func (s *Store) ensureAvailable(ctx context.Context) error {
	ok, err := s.bridge.IsAvailable(ctx)
	if err != nil {
		return newStoreError(CodeUnavailable, "Secure storage unavailable", err)
	}
	if !ok {
		return newStoreError(CodeUnavailable, "Secure storage unavailable", errBridgeReportedUnavailable)
	}
	return nil
}

// GetToken returns the stored token. found is false when no token is
// stored or the stored value is blank.
//
// # Outputs
//
//   - error: *StoreError with CodeUnavailable or CodeReadFailed.
func (s *Store) GetToken(ctx context.Context) (token string, found bool, err error) {
	if err := s.ensureAvailable(ctx); err != nil {
		return "", false, err
	}
	value, ok, err := s.bridge.GetToken(ctx, TokenKey)
	if err != nil {
		return "", false, newStoreError(CodeReadFailed, "Failed to read authentication token", err)
	}
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

// SetToken stores token, replacing any previous value. Blank tokens are
// rejected with CodeWriteFailed.
func (s *Store) SetToken(ctx context.Context, token string) error {
	if err := s.ensureAvailable(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return newStoreError(CodeWriteFailed, "Failed to store authentication token", ErrEmptyToken)
	}
	if err := s.bridge.SetToken(ctx, TokenKey, token); err != nil {
		return newStoreError(CodeWriteFailed, "Failed to store authentication token", err)
	}
	return nil
}

// DeleteToken removes the stored token.
func (s *Store) DeleteToken(ctx context.Context) error {
	if err := s.ensureAvailable(ctx); err != nil {
		return err
	}
	if err := s.bridge.DeleteToken(ctx, TokenKey); err != nil {
		return newStoreError(CodeDeleteFailed, "Failed to delete authentication token", err)
	}
	return nil
}
