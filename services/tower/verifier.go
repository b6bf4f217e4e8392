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
	"strings"
)

// Subject is the principal a pairing token was issued to.
type Subject struct {
	SentinelID string
	TowerID    string
}

// AuthVerifier resolves a bearer token to its Subject.
//
// A nil Subject with a nil error means the token is unknown. Errors wrap
// ErrUnavailable when the backing store cannot be consulted.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (*Subject, error)
}

// VerifierFunc adapts a function to AuthVerifier.
type VerifierFunc func(ctx context.Context, token string) (*Subject, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, token string) (*Subject, error) {
	return f(ctx, token)
}

// extractBearerToken parses "Bearer <token>". The scheme must be spelled
// exactly "Bearer" followed by one space. An empty token after trimming
// counts as missing.
func extractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
