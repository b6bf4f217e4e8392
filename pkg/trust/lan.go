// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trust decides when a sentinel may talk to its tower over
// plaintext HTTP.
//
// TLS is the default. A user may grant a temporary plaintext exception,
// which is honored only while the sentinel sits on the same private Wi-Fi
// subnet as the tower and only for ConfirmationTTL after the user
// confirmed it. Moving to another network withdraws the exception.
//
// The decision functions (IsTrustedLAN, EvaluateExceptionPolicy,
// HasNetworkBoundaryChanged, Reconcile) are pure: the clock and the
// network snapshot are arguments. Guard wires them to persisted state.
package trust

import (
	"net/netip"
	"net/url"
	"strings"
)

// ConnectionType is the kind of network a sentinel is on.
type ConnectionType string

const (
	ConnectionWiFi     ConnectionType = "wifi"
	ConnectionCellular ConnectionType = "cellular"
	ConnectionUnknown  ConnectionType = "unknown"
)

// ParseConnectionType maps a user or config string to a ConnectionType.
// Anything unrecognized is ConnectionUnknown.
func ParseConnectionType(s string) ConnectionType {
	switch ConnectionType(strings.ToLower(strings.TrimSpace(s))) {
	case ConnectionWiFi:
		return ConnectionWiFi
	case ConnectionCellular:
		return ConnectionCellular
	default:
		return ConnectionUnknown
	}
}

// NetworkSnapshot is what the sentinel knows about its current network.
// DeviceIP is empty when the platform did not report an address.
type NetworkSnapshot struct {
	ConnectionType ConnectionType
	DeviceIP       string
}

// IsTrustedLAN reports whether network shares a private IPv4 /24 with the
// tower at towerHost.
//
// towerHost may be a bare address, host:port, or a URL. The rules:
//
//   - the connection must be Wi-Fi
//   - the tower address must be an RFC 1918 IPv4 address
//   - a snapshot without a device address is trusted; some platforms do
//     not expose it
//   - otherwise the device address must be RFC 1918 and match the
//     tower's first three octets
func IsTrustedLAN(network NetworkSnapshot, towerHost string) bool {
	if network.ConnectionType != ConnectionWiFi {
		return false
	}
	tower, ok := ExtractIPv4(towerHost)
	if !ok || !tower.IsPrivate() {
		return false
	}
	if network.DeviceIP == "" {
		return true
	}
	device, ok := parseIPv4(network.DeviceIP)
	if !ok || !device.IsPrivate() {
		return false
	}
	d, t := device.As4(), tower.As4()
	return d[0] == t[0] && d[1] == t[1] && d[2] == t[2]
}

// ExtractIPv4 pulls an IPv4 address out of a host string, URL, or
// host:port. Host names do not resolve and yield false.
func ExtractIPv4(host string) (netip.Addr, bool) {
	raw := strings.TrimSpace(host)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return netip.Addr{}, false
		}
		raw = u.Hostname()
	}
	raw, _, _ = strings.Cut(raw, "/")
	raw, _, _ = strings.Cut(raw, ":")
	return parseIPv4(raw)
}

func parseIPv4(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}
