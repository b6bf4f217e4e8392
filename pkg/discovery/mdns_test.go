// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRoundTrip(t *testing.T) {
	txt := EncodeTXT(Advertisement{TowerID: "tower-001", Scheme: "https", APIVersion: "1.0"})
	assert.Equal(t, []string{"tower_id=tower-001", "scheme=https", "api=1.0"}, txt)

	got := DecodeTXT(append(txt, "garbage"))
	assert.Equal(t, map[string]string{"tower_id": "tower-001", "scheme": "https", "api": "1.0"}, got)
}

func TestTowerFromRecord(t *testing.T) {
	tw, ok := towerFromRecord("Living Room", "tower.local.", 8443,
		[]string{"tower_id=tower-001", "scheme=https"},
		[]net.IP{net.ParseIP("192.168.1.20")})
	require.True(t, ok)
	assert.Equal(t, "tower-001", tw.TowerID)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.1.20")}, tw.Addresses)
	assert.Equal(t, "https://192.168.1.20:8443", tw.URL())

	_, ok = towerFromRecord("printer", "printer.local.", 631, []string{"rp=ipp"}, nil)
	assert.False(t, ok)
}

func TestTowerURL_FallsBackToHost(t *testing.T) {
	tw := Tower{Host: "tower.local.", Port: 8080, Scheme: "http"}
	assert.Equal(t, "http://tower.local:8080", tw.URL())

	tw = Tower{Host: "tower.local.", Port: 8443}
	assert.Equal(t, "https://tower.local:8443", tw.URL())
}

func TestAdvertise_Validates(t *testing.T) {
	_, err := Advertise(Advertisement{TowerID: "t", Port: 8443})
	assert.Error(t, err)
	_, err = Advertise(Advertisement{Instance: "i", TowerID: "t", Port: 0})
	assert.Error(t, err)
	_, err = Advertise(Advertisement{Instance: "i", TowerID: "tower=1", Port: 8443})
	assert.Error(t, err)
}
