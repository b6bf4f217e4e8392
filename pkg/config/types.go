// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

// Store backends accepted in StoreConfig.Backend.
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
)

type TowerConfig struct {
	// TowerID is the identity sentinels put in tower_id.
	TowerID string `yaml:"tower_id" validate:"required"`

	// Listen is host:port for the ingestion server, e.g. ":8443".
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	TLS TLSConfig `yaml:"tls"`

	// DataDir holds the badger store. Supports ~.
	DataDir string `yaml:"data_dir" validate:"required"`

	Store StoreConfig `yaml:"store"`

	// RegistryPath is the YAML file of paired sentinel token digests.
	RegistryPath string `yaml:"registry_path" validate:"required"`

	// RateLimit is requests/second across the ingestion route; 0 disables.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// FeedTokenSHA256 is the hex digest of the live feed bearer token.
	// Empty disables the feed.
	FeedTokenSHA256 string `yaml:"feed_token_sha256,omitempty" validate:"omitempty,len=64,hexadecimal"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type TLSConfig struct {
	CertFile string `yaml:"cert_file,omitempty" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file,omitempty" validate:"required_with=CertFile"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=badger memory dynamodb"`

	DynamoTable    string `yaml:"dynamo_table,omitempty" validate:"required_if=Backend dynamodb"`
	DynamoRegion   string `yaml:"dynamo_region,omitempty"`
	DynamoEndpoint string `yaml:"dynamo_endpoint,omitempty" validate:"omitempty,url"`

	// GCInterval is how often badger value-log GC runs.
	GCInterval time.Duration `yaml:"gc_interval" validate:"gte=0"`
}

type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir    string `yaml:"dir,omitempty"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// Logging converts c into a logging.Config for service. The level has
// already been validated, so a parse failure falls back to Info.
func (c LogConfig) Logging(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Level)
	format := logging.FormatAuto
	switch c.Format {
	case "text":
		format = logging.FormatText
	case "json":
		format = logging.FormatJSON
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Dir,
		Service: service,
		Format:  format,
	}
}

type TracingConfig struct {
	Exporter    string  `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	Endpoint    string  `yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

type SentinelConfig struct {
	SentinelID string `yaml:"sentinel_id" validate:"required"`
	TowerID    string `yaml:"tower_id" validate:"required"`
	ProfileID  string `yaml:"profile_id" validate:"required"`

	// TowerURL is the tower base URL, e.g. https://192.168.1.20:8443.
	TowerURL string `yaml:"tower_url" validate:"required,url"`

	// TowerCA pins the tower's self-signed certificate.
	TowerCA string `yaml:"tower_ca,omitempty"`

	// DataDir holds the sealed vault and preferences. Supports ~.
	DataDir string `yaml:"data_dir" validate:"required"`

	DeviceName string `yaml:"device_name,omitempty"`

	Retry RetryConfig `yaml:"retry"`
	Log   LogConfig   `yaml:"log"`
}

type RetryConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay" validate:"gt=0,whole_ms"`
	BackoffFactor  float64       `yaml:"backoff_factor" validate:"gte=1"`
	MaxDelay       time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay,whole_ms"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=1"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"gt=0"`
}

// DefaultTowerConfig returns a badger-backed tower listening on :8443
// with state under ~/.sentineltower/tower.
func DefaultTowerConfig() TowerConfig {
	base := filepath.Join("~", ".sentineltower", "tower")
	return TowerConfig{
		TowerID:      "tower-" + shortHostname(),
		Listen:       ":8443",
		DataDir:      filepath.Join(base, "data"),
		RegistryPath: filepath.Join(base, "sentinels.yaml"),
		Store: StoreConfig{
			Backend:    BackendBadger,
			GCInterval: 10 * time.Minute,
		},
		RateLimit:       50,
		RateBurst:       100,
		Discovery:       DiscoveryConfig{Enabled: true},
		Log:             LogConfig{Level: "info", Format: "auto"},
		Tracing:         TracingConfig{Exporter: "none", SampleRatio: 1},
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultSentinelConfig returns a sentinel with a fresh random id. The
// tower id and URL are placeholders until pairing.
func DefaultSentinelConfig() SentinelConfig {
	return SentinelConfig{
		SentinelID: "sentinel-" + uuid.NewString()[:8],
		TowerID:    "tower-" + shortHostname(),
		ProfileID:  "default",
		TowerURL:   "https://tower.local:8443",
		DataDir:    filepath.Join("~", ".sentineltower", "sentinel"),
		DeviceName: "Unknown device",
		Retry: RetryConfig{
			BaseDelay:      time.Second,
			BackoffFactor:  2,
			MaxDelay:       30 * time.Second,
			MaxRetries:     5,
			AttemptTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "auto"},
	}
}

func shortHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	host, _, _ = strings.Cut(host, ".")
	return strings.ToLower(host)
}

func (c *TowerConfig) expandPaths() {
	c.DataDir = logging.ExpandPath(c.DataDir)
	c.RegistryPath = logging.ExpandPath(c.RegistryPath)
	c.TLS.CertFile = logging.ExpandPath(c.TLS.CertFile)
	c.TLS.KeyFile = logging.ExpandPath(c.TLS.KeyFile)
	c.Log.Dir = logging.ExpandPath(c.Log.Dir)
}

func (c *SentinelConfig) expandPaths() {
	c.DataDir = logging.ExpandPath(c.DataDir)
	c.TowerCA = logging.ExpandPath(c.TowerCA)
	c.Log.Dir = logging.ExpandPath(c.Log.Dir)
}
