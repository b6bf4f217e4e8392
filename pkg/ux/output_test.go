// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestPrinter(mode Mode) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Printer{Out: &out, Err: &errOut, Mode: mode}, &out, &errOut
}

func TestPrinter_Machine(t *testing.T) {
	p, out, errOut := newTestPrinter(ModeMachine)

	p.Title("Sentinel status")
	p.Success("alert %s delivered", "abc")
	p.Info("attempts: %d", 2)
	p.Field("paired", true)
	p.Warning("plaintext endpoint")
	p.Error("not paired")

	assert.Equal(t, "OK: alert abc delivered\nattempts: 2\npaired=true\n", out.String())
	assert.Equal(t, "WARN: plaintext endpoint\nERROR: not paired\n", errOut.String())
}

func TestPrinter_Plain(t *testing.T) {
	p, out, errOut := newTestPrinter(ModePlain)

	p.Title("Towers")
	p.Success("paired")
	p.Field("tower_id", "tower-001")
	p.Box("Token", "abc")
	p.Error("boom")

	assert.Equal(t, "Towers\n✓ paired\n  tower_id: tower-001\nToken: abc\n", out.String())
	assert.Equal(t, "✗ boom\n", errOut.String())
}

func TestPrinter_Styled(t *testing.T) {
	p, out, _ := newTestPrinter(ModeStyled)

	p.Success("paired")
	p.Box("Pairing token", "shown once")

	assert.Contains(t, out.String(), "paired")
	assert.Contains(t, out.String(), "Pairing token")
	assert.Contains(t, out.String(), "shown once")
}

func TestPrinter_Table(t *testing.T) {
	headers := []string{"SENTINEL", "TOWER"}
	rows := [][]string{{"sentinel-a", "tower-001"}, {"sentinel-b", "tower-001"}}

	p, out, _ := newTestPrinter(ModeMachine)
	p.Table(headers, rows)
	assert.Equal(t, "sentinel-a\ttower-001\nsentinel-b\ttower-001\n", out.String())

	p, out, _ = newTestPrinter(ModePlain)
	p.Table(headers, rows)
	assert.Equal(t, "SENTINEL\tTOWER\nsentinel-a\ttower-001\nsentinel-b\ttower-001\n", out.String())

	p, out, _ = newTestPrinter(ModeStyled)
	p.Table(headers, rows)
	assert.Contains(t, out.String(), "SENTINEL")
	assert.Contains(t, out.String(), "sentinel-b")
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"machine": ModeMachine,
		"Q":       ModeMachine,
		"plain":   ModePlain,
		" styled": ModeStyled,
		"bogus":   ModeStyled,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseMode(in), in)
	}
}

func TestDetectMode(t *testing.T) {
	t.Setenv(EnvMode, "plain")
	assert.Equal(t, ModePlain, DetectMode(os.Stdout))

	t.Setenv(EnvMode, "")
	f, err := os.CreateTemp(t.TempDir(), "out")
	if assert.NoError(t, err) {
		defer f.Close()
		assert.Equal(t, ModeMachine, DetectMode(f))
	}
	assert.Equal(t, ModeMachine, DetectMode(nil))
}
