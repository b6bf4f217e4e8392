// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode defines the richness of CLI output
type Mode string

const (
	// ModeStyled enables colors, icons, and boxes
	ModeStyled Mode = "styled"

	// ModePlain keeps icons but drops colors and boxes
	ModePlain Mode = "plain"

	// ModeMachine outputs KEY: value lines suitable for scripting
	ModeMachine Mode = "machine"
)

// EnvMode overrides terminal detection.
const EnvMode = "SENTINELTOWER_OUTPUT"

// ParseMode converts a string to Mode. Unknown values are styled.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "p", "minimal":
		return ModePlain
	case "machine", "quiet", "q":
		return ModeMachine
	default:
		return ModeStyled
	}
}

// DetectMode picks the mode for f from the environment first, then from
// whether f is a terminal.
func DetectMode(f *os.File) Mode {
	if env := os.Getenv(EnvMode); env != "" {
		return ParseMode(env)
	}
	if f == nil || !isTerminal(f.Fd()) {
		return ModeMachine
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	return ModeStyled
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
