// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the tower and sentinel YAML configuration files,
// creating a default file on first run.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Backoff delays are scheduled in whole milliseconds.
	if err := v.RegisterValidation("whole_ms", func(fl validator.FieldLevel) bool {
		return fl.Field().Int()%int64(time.Millisecond) == 0
	}); err != nil {
		panic(err)
	}
	return v
}

// DefaultTowerPath is used when no --config flag is given.
func DefaultTowerPath() string {
	return logging.ExpandPath(filepath.Join("~", ".sentineltower", "tower.yaml"))
}

// DefaultSentinelPath is used when no --config flag is given.
func DefaultSentinelPath() string {
	return logging.ExpandPath(filepath.Join("~", ".sentineltower", "sentinel.yaml"))
}

// LoadTower reads the tower config at path, writing the defaults there
// first if the file does not exist.
func LoadTower(path string) (TowerConfig, error) {
	cfg, err := load(path, DefaultTowerConfig)
	if err != nil {
		return TowerConfig{}, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// LoadSentinel reads the sentinel config at path, writing the defaults
// there first if the file does not exist.
func LoadSentinel(path string) (SentinelConfig, error) {
	cfg, err := load(path, DefaultSentinelConfig)
	if err != nil {
		return SentinelConfig{}, err
	}
	cfg.expandPaths()
	return cfg, nil
}

// SaveSentinel writes cfg back, e.g. after pairing updates the tower URL.
func SaveSentinel(path string, cfg SentinelConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid sentinel config: %w", err)
	}
	return write(path, cfg)
}

func load[T any](path string, defaults func() T) (T, error) {
	cfg := defaults()
	path = logging.ExpandPath(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path, cfg); err != nil {
			return cfg, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read the config file: %w", err)
	}
	// Fields absent from the file keep their defaults.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func createDefault(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	return write(path, cfg)
}

func write(path string, cfg any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
