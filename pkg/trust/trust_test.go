// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func wifi(ip string) NetworkSnapshot {
	return NetworkSnapshot{ConnectionType: ConnectionWiFi, DeviceIP: ip}
}

func TestIsTrustedLAN(t *testing.T) {
	tests := []struct {
		name    string
		network NetworkSnapshot
		tower   string
		want    bool
	}{
		{"matching 192.168 subnet", wifi("192.168.1.10"), "192.168.1.20", true},
		{"different subnet", wifi("10.0.1.10"), "10.0.2.20", false},
		{"cellular", NetworkSnapshot{ConnectionType: ConnectionCellular, DeviceIP: "192.168.1.10"}, "192.168.1.20", false},
		{"unknown connection", NetworkSnapshot{ConnectionType: ConnectionUnknown, DeviceIP: "192.168.1.10"}, "192.168.1.20", false},
		{"absent device ip", wifi(""), "192.168.1.20", true},
		{"unparseable device ip", wifi("not-an-ip"), "192.168.1.20", false},
		{"public tower", wifi("8.8.8.10"), "8.8.8.8", false},
		{"public device", wifi("8.8.8.10"), "10.0.0.1", false},
		{"172.16/12 lower bound", wifi("172.16.5.1"), "172.16.5.2", true},
		{"172.31 upper bound", wifi("172.31.0.1"), "172.31.0.9", true},
		{"172.32 is public", wifi("172.32.0.1"), "172.32.0.9", false},
		{"tower url with port and path", wifi("192.168.1.10"), "http://192.168.1.20:8080/api/alerts", true},
		{"tower host:port", wifi("192.168.1.10"), "192.168.1.20:8443", true},
		{"tower hostname", wifi("192.168.1.10"), "tower.local", false},
		{"octet out of range", wifi("192.168.1.10"), "192.168.1.256", false},
		{"ipv6 device", wifi("fe80::1"), "192.168.1.20", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrustedLAN(tt.network, tt.tower))
		})
	}
}

func TestParseConnectionType(t *testing.T) {
	assert.Equal(t, ConnectionWiFi, ParseConnectionType("WiFi"))
	assert.Equal(t, ConnectionCellular, ParseConnectionType(" cellular "))
	assert.Equal(t, ConnectionUnknown, ParseConnectionType("ethernet"))
}

func TestEvaluateExceptionPolicy(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name string
		cfg  ExceptionConfig
		want PolicyResult
	}{
		{"disabled", ExceptionConfig{}, PolicyResult{}},
		{"no confirmation", ExceptionConfig{Enabled: true}, PolicyResult{RequiresReconfirm: true, Reason: ReasonNoConfirmation}},
		{"fresh", ExceptionConfig{Enabled: true, ConfirmedAt: now.Add(-time.Hour)}, PolicyResult{Enabled: true}},
		{"exactly at ttl", ExceptionConfig{Enabled: true, ConfirmedAt: now.Add(-ConfirmationTTL)}, PolicyResult{Enabled: true}},
		{"expired", ExceptionConfig{Enabled: true, ConfirmedAt: now.Add(-ConfirmationTTL - time.Millisecond)}, PolicyResult{RequiresReconfirm: true, Reason: ReasonConfirmationExpired}},
		{"25h old", ExceptionConfig{Enabled: true, ConfirmedAt: now.Add(-25 * time.Hour)}, PolicyResult{RequiresReconfirm: true, Reason: ReasonConfirmationExpired}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateExceptionPolicy(tt.cfg, now))
		})
	}
}

func TestHasNetworkBoundaryChanged(t *testing.T) {
	assert.False(t, HasNetworkBoundaryChanged(wifi("192.168.1.10"), wifi("192.168.1.10")))
	assert.True(t, HasNetworkBoundaryChanged(wifi("192.168.1.10"), wifi("192.168.1.11")))
	assert.True(t, HasNetworkBoundaryChanged(wifi("192.168.1.10"), NetworkSnapshot{ConnectionType: ConnectionCellular, DeviceIP: "192.168.1.10"}))
	assert.True(t, HasNetworkBoundaryChanged(wifi(""), wifi("192.168.1.10")))
}

func TestReconcile(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	fresh := ExceptionConfig{Enabled: true, ConfirmedAt: now}
	tower := "192.168.1.20"

	t.Run("keeps enabled when trusted and unchanged", func(t *testing.T) {
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: wifi("192.168.1.10"),
			TowerHost: tower, Config: fresh, Now: now,
		})
		assert.True(t, state.Enabled)
		assert.True(t, state.TrustedLAN)
		assert.Equal(t, ReasonNone, state.Reason)
		assert.Equal(t, fresh, cfg)
	})

	t.Run("disables when boundary moves to untrusted", func(t *testing.T) {
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: NetworkSnapshot{ConnectionType: ConnectionCellular, DeviceIP: "10.0.0.2"},
			TowerHost: tower, Config: fresh, Now: now,
		})
		assert.False(t, state.Enabled)
		assert.False(t, state.RequiresReconfirm)
		assert.Equal(t, ReasonUntrustedLAN, state.Reason)
		assert.Equal(t, Disabled(), cfg)
	})

	t.Run("expired confirmation on trusted lan", func(t *testing.T) {
		stale := ExceptionConfig{Enabled: true, ConfirmedAt: now.Add(-25 * time.Hour)}
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: wifi("192.168.1.10"),
			TowerHost: tower, Config: stale, Now: now,
		})
		assert.False(t, state.Enabled)
		assert.True(t, state.TrustedLAN)
		assert.True(t, state.RequiresReconfirm)
		assert.Equal(t, ReasonConfirmationExpired, state.Reason)
		assert.Equal(t, Disabled(), cfg)
	})

	t.Run("enabled without confirmation is reset", func(t *testing.T) {
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: wifi("192.168.1.10"),
			TowerHost: tower, Config: ExceptionConfig{Enabled: true}, Now: now,
		})
		assert.False(t, state.Enabled)
		assert.Equal(t, ReasonNoConfirmation, state.Reason)
		assert.Equal(t, Disabled(), cfg)
	})

	t.Run("disabled config on untrusted lan still reports reason", func(t *testing.T) {
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: wifi("192.168.1.10"),
			TowerHost: "8.8.8.8", Config: Disabled(), Now: now,
		})
		assert.False(t, state.Enabled)
		assert.Equal(t, ReasonUntrustedLAN, state.Reason)
		assert.Equal(t, Disabled(), cfg)
	})

	t.Run("trusted boundary change keeps a fresh exception", func(t *testing.T) {
		cfg, state := Reconcile(ReconcileInput{
			Previous: wifi("192.168.1.10"), Next: wifi("192.168.1.11"),
			TowerHost: tower, Config: fresh, Now: now,
		})
		assert.True(t, state.Enabled)
		assert.Equal(t, fresh, cfg)
	})
}

func TestCheckEndpoint(t *testing.T) {
	on := ExceptionState{Enabled: true, TrustedLAN: true}
	off := ExceptionState{Reason: ReasonUntrustedLAN}

	assert.NoError(t, CheckEndpoint("https://tower.local:8443/api/alerts", off))
	assert.NoError(t, CheckEndpoint("http://192.168.1.20:8080/api/alerts", on))
	assert.ErrorIs(t, CheckEndpoint("http://192.168.1.20:8080/api/alerts", off), ErrPlaintextNotAllowed)
	assert.ErrorIs(t, CheckEndpoint("http://192.168.1.20:8080/api/alerts", ExceptionState{}), ErrPlaintextNotAllowed)
	assert.ErrorIs(t, CheckEndpoint("ftp://192.168.1.20/", on), ErrUnsupportedScheme)
}
