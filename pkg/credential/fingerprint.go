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
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintLength is the number of hex characters kept from the digest.
const FingerprintLength = 8

// Fingerprint returns the first eight hex characters of the SHA-256 of
// token. It identifies a token in logs without revealing it.
func Fingerprint(token string) string {
	return Digest(token)[:FingerprintLength]
}

// FormatFingerprint returns the log form "token_fingerprint=<fp>".
func FormatFingerprint(token string) string {
	return "token_fingerprint=" + Fingerprint(token)
}

// Digest returns the full lowercase hex SHA-256 of token. Towers store
// this instead of the token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
