// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alert

import (
	"github.com/go-playground/validator/v10"
)

var eventValidate = validator.New()

// Validate checks the struct-level constraints of an outbound event.
//
// Sentinels call this before handing an event to the delivery client so a
// locally malformed alert fails fast instead of burning retries against a
// tower that will answer 400. The tower runs its own, stricter, staged
// validation on the raw JSON.
func (e *Event) Validate() error {
	return eventValidate.Struct(e)
}

// IsUUIDv4 reports whether s is a hyphenated UUID version 4 string, in
// either case.
func IsUUIDv4(s string) bool {
	return eventValidate.Var(s, "uuid4_rfc4122") == nil
}
