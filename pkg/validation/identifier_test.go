// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "sentinel-a", false},
		{"single char", "a", false},
		{"dots and underscores", "tower_01.home", false},
		{"uppercase", "Tower-001", false},
		{"max length", strings.Repeat("a", MaxIdentifierLength), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1), true},
		{"starts with hyphen", "-tower", true},
		{"starts with dot", ".tower", true},
		{"space", "tower 1", true},
		{"equals breaks TXT records", "tower=1", true},
		{"yaml flow", "tower: {}", true},
		{"newline", "tower\n1", true},
		{"unicode", "töwer", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier("tower id", tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	got, err := SanitizeIdentifier("sentinel id", "  sentinel-a \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sentinel-a" {
		t.Errorf("SanitizeIdentifier() = %q, want %q", got, "sentinel-a")
	}

	if _, err := SanitizeIdentifier("sentinel id", "   "); err == nil {
		t.Error("expected error for blank id")
	}
}
