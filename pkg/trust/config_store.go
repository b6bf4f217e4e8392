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
	"context"
	"fmt"
	"strconv"
	"time"
)

// Preference keys.
const (
	KeyExceptionEnabled     = "http_exception_enabled"
	KeyExceptionConfirmedAt = "http_exception_confirmed_at"
	KeyNetworkType          = "network_connection_type"
	KeyNetworkDeviceIP      = "network_device_ip"
)

// Preferences is a string key/value store.
type Preferences interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ConfigStore persists the exception config and the last observed
// network snapshot.
type ConfigStore struct {
	prefs Preferences
}

// NewConfigStore returns a ConfigStore over prefs.
func NewConfigStore(prefs Preferences) *ConfigStore {
	return &ConfigStore{prefs: prefs}
}

// Load reads the exception config. Enabled is true only for the exact
// value "true"; an unparseable confirmation time loads as zero.
func (s *ConfigStore) Load(ctx context.Context) (ExceptionConfig, error) {
	enabled, _, err := s.prefs.Get(ctx, KeyExceptionEnabled)
	if err != nil {
		return ExceptionConfig{}, fmt.Errorf("load %s: %w", KeyExceptionEnabled, err)
	}
	confirmed, found, err := s.prefs.Get(ctx, KeyExceptionConfirmedAt)
	if err != nil {
		return ExceptionConfig{}, fmt.Errorf("load %s: %w", KeyExceptionConfirmedAt, err)
	}

	cfg := ExceptionConfig{Enabled: enabled == "true"}
	if found {
		if ms, err := strconv.ParseInt(confirmed, 10, 64); err == nil {
			cfg.ConfirmedAt = time.UnixMilli(ms)
		}
	}
	return cfg, nil
}

// Save writes cfg. The confirmation time is kept only while the
// exception is enabled and confirmed; otherwise it is removed.
func (s *ConfigStore) Save(ctx context.Context, cfg ExceptionConfig) error {
	if err := s.prefs.Set(ctx, KeyExceptionEnabled, strconv.FormatBool(cfg.Enabled)); err != nil {
		return fmt.Errorf("save %s: %w", KeyExceptionEnabled, err)
	}
	if cfg.Enabled && !cfg.ConfirmedAt.IsZero() {
		ms := strconv.FormatInt(cfg.ConfirmedAt.UnixMilli(), 10)
		if err := s.prefs.Set(ctx, KeyExceptionConfirmedAt, ms); err != nil {
			return fmt.Errorf("save %s: %w", KeyExceptionConfirmedAt, err)
		}
		return nil
	}
	if err := s.prefs.Remove(ctx, KeyExceptionConfirmedAt); err != nil {
		return fmt.Errorf("remove %s: %w", KeyExceptionConfirmedAt, err)
	}
	return nil
}

// LoadSnapshot returns the last saved network snapshot. found is false
// when nothing was saved yet.
func (s *ConfigStore) LoadSnapshot(ctx context.Context) (NetworkSnapshot, bool, error) {
	ct, found, err := s.prefs.Get(ctx, KeyNetworkType)
	if err != nil {
		return NetworkSnapshot{}, false, fmt.Errorf("load %s: %w", KeyNetworkType, err)
	}
	if !found {
		return NetworkSnapshot{}, false, nil
	}
	ip, _, err := s.prefs.Get(ctx, KeyNetworkDeviceIP)
	if err != nil {
		return NetworkSnapshot{}, false, fmt.Errorf("load %s: %w", KeyNetworkDeviceIP, err)
	}
	return NetworkSnapshot{ConnectionType: ParseConnectionType(ct), DeviceIP: ip}, true, nil
}

// SaveSnapshot records snap as the last observed network.
func (s *ConfigStore) SaveSnapshot(ctx context.Context, snap NetworkSnapshot) error {
	if err := s.prefs.Set(ctx, KeyNetworkType, string(snap.ConnectionType)); err != nil {
		return fmt.Errorf("save %s: %w", KeyNetworkType, err)
	}
	if snap.DeviceIP == "" {
		if err := s.prefs.Remove(ctx, KeyNetworkDeviceIP); err != nil {
			return fmt.Errorf("remove %s: %w", KeyNetworkDeviceIP, err)
		}
		return nil
	}
	if err := s.prefs.Set(ctx, KeyNetworkDeviceIP, snap.DeviceIP); err != nil {
		return fmt.Errorf("save %s: %w", KeyNetworkDeviceIP, err)
	}
	return nil
}
