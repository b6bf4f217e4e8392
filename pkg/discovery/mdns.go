// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery advertises towers on the LAN over mDNS/DNS-SD and lets
// sentinels find them during pairing.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/AleutianAI/SentinelTower/pkg/validation"
)

const (
	// ServiceType is the DNS-SD service towers register.
	ServiceType = "_sentineltower._tcp"
	// Domain is the mDNS domain.
	Domain = "local."

	txtTowerID = "tower_id"
	txtScheme  = "scheme"
	txtAPI     = "api"
)

// Advertisement describes the tower being announced.
type Advertisement struct {
	Instance string
	TowerID  string
	Port     int
	// Scheme is https or http.
	Scheme     string
	APIVersion string
}

// EncodeTXT renders the TXT record strings for a.
func EncodeTXT(a Advertisement) []string {
	txt := []string{txtTowerID + "=" + a.TowerID, txtScheme + "=" + a.Scheme}
	if a.APIVersion != "" {
		txt = append(txt, txtAPI+"="+a.APIVersion)
	}
	return txt
}

// DecodeTXT parses key=value TXT strings. Entries without '=' are
// ignored.
func DecodeTXT(txt []string) map[string]string {
	out := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// Advertiser holds a live registration.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers a on every multicast interface.
func Advertise(a Advertisement) (*Advertiser, error) {
	if a.Instance == "" {
		return nil, errors.New("instance name is required")
	}
	if err := validation.ValidateIdentifier("tower id", a.TowerID); err != nil {
		return nil, err
	}
	if a.Port <= 0 || a.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", a.Port)
	}
	server, err := zeroconf.Register(a.Instance, ServiceType, Domain, a.Port, EncodeTXT(a), nil)
	if err != nil {
		return nil, fmt.Errorf("register mdns service: %w", err)
	}
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Run advertises until ctx is done. It fits an errgroup next to the HTTP
// server.
func Run(ctx context.Context, a Advertisement) error {
	adv, err := Advertise(a)
	if err != nil {
		return err
	}
	<-ctx.Done()
	adv.Shutdown()
	return nil
}

// Tower is a tower found on the LAN.
type Tower struct {
	Instance  string
	Host      string
	Port      int
	TowerID   string
	Scheme    string
	Addresses []netip.Addr
}

// URL returns the ingestion base URL using the first IPv4 address, or the
// host name when no address was resolved.
func (t Tower) URL() string {
	host := strings.TrimSuffix(t.Host, ".")
	for _, a := range t.Addresses {
		if a.Is4() {
			host = a.String()
			break
		}
	}
	scheme := t.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(t.Port))
}

// towerFromRecord builds a Tower from resolved DNS-SD fields. Records
// without a tower_id are not ours.
func towerFromRecord(instance, host string, port int, text []string, ipv4 []net.IP) (Tower, bool) {
	txt := DecodeTXT(text)
	id := txt[txtTowerID]
	if id == "" {
		return Tower{}, false
	}
	t := Tower{Instance: instance, Host: host, Port: port, TowerID: id, Scheme: txt[txtScheme]}
	for _, ip := range ipv4 {
		if a, ok := netip.AddrFromSlice(ip); ok {
			t.Addresses = append(t.Addresses, a.Unmap())
		}
	}
	return t, true
}

// Browse collects towers answering within timeout, ordered by tower id.
func Browse(ctx context.Context, timeout time.Duration) ([]Tower, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
	}()

	found := make(map[string]Tower)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return collect(found), nil
			}
			if t, ok := towerFromRecord(entry.Instance, entry.HostName, entry.Port, entry.Text, entry.AddrIPv4); ok {
				found[t.Instance] = t
			}
		case entry, ok := <-removed:
			if ok {
				delete(found, entry.Instance)
			}
		case err := <-browseErr:
			if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("browse %s: %w", ServiceType, err)
			}
			return collect(found), nil
		case <-ctx.Done():
			return collect(found), nil
		}
	}
}

func collect(found map[string]Tower) []Tower {
	out := make([]Tower, 0, len(found))
	for _, t := range found {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TowerID < out[j].TowerID })
	return out
}
