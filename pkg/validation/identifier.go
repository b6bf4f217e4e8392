// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks operator-supplied identifiers before they are
// written anywhere another parser will read them back.
//
// Sentinel and tower ids end up as YAML values in the registry, as
// key=value pairs in mDNS TXT records, and as DynamoDB attribute values.
// Restricting them to a conservative alphabet keeps every one of those
// encodings unambiguous.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds sentinel and tower ids.
const MaxIdentifierLength = 64

// identifierPattern allows letters, digits, dots, underscores and
// hyphens, starting with a letter or digit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,63}$`)

// ValidateIdentifier reports whether id is usable as a sentinel or tower
// id. kind names the field in the error.
//
// Example:
//
//	if err := validation.ValidateIdentifier("sentinel id", id); err != nil {
//	    return err
//	}
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid %s %q (1-%d letters, digits, '.', '_' or '-', starting with a letter or digit)", kind, id, MaxIdentifierLength)
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the
// result.
func SanitizeIdentifier(kind, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(kind, trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
