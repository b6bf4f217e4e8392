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
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

var (
	// ErrUntrustedLAN is returned by Confirm off the tower's private subnet.
	ErrUntrustedLAN = errors.New("plaintext exception requires the tower's private Wi-Fi subnet")

	// ErrPlaintextNotAllowed is returned by CheckEndpoint for an http
	// endpoint while the exception is not in effect.
	ErrPlaintextNotAllowed = errors.New("plaintext http endpoint requires an active exception")

	// ErrUnsupportedScheme is returned by CheckEndpoint for anything but
	// http and https.
	ErrUnsupportedScheme = errors.New("endpoint scheme must be https or http")
)

// CheckEndpoint reports whether the sentinel may deliver to endpoint
// given the reconciled exception state. https is always allowed; http
// only while state.Enabled.
func CheckEndpoint(endpoint string, state ExceptionState) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if state.Enabled {
			return nil
		}
		if state.Reason != ReasonNone {
			return fmt.Errorf("%w (%s)", ErrPlaintextNotAllowed, state.Reason)
		}
		return ErrPlaintextNotAllowed
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithLogger sets the logger for state transitions.
func WithLogger(logger *logging.Logger) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// Guard applies the exception rules to persisted state: it remembers the
// last network, reconciles on every observation, and writes back any
// reset.
//
// # Thread Safety
//
// Methods serialize on an internal mutex so concurrent observations do
// not interleave their read-reconcile-write cycles.
type Guard struct {
	store     *ConfigStore
	towerHost string
	now       func() time.Time
	logger    *logging.Logger
	mu        sync.Mutex
}

// NewGuard returns a Guard for the tower at towerHost.
func NewGuard(store *ConfigStore, towerHost string, opts ...GuardOption) *Guard {
	g := &Guard{
		store:     store,
		towerHost: towerHost,
		now:       time.Now,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "trust")
	return g
}

// Observe reconciles the exception against a newly observed network,
// persists any config reset and the snapshot, and returns the effective
// state. The first observation ever made is always re-evaluated.
func (g *Guard) Observe(ctx context.Context, snap NetworkSnapshot) (ExceptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, err := g.store.Load(ctx)
	if err != nil {
		return ExceptionState{}, err
	}
	prev, seen, err := g.store.LoadSnapshot(ctx)
	if err != nil {
		return ExceptionState{}, err
	}
	if !seen {
		prev = snap
	}

	next, state := Reconcile(ReconcileInput{
		Previous:        prev,
		Next:            snap,
		TowerHost:       g.towerHost,
		Config:          cfg,
		Now:             g.now(),
		ForceReevaluate: !seen,
	})

	if next != cfg {
		if err := g.store.Save(ctx, next); err != nil {
			return ExceptionState{}, err
		}
		if cfg.Enabled && !next.Enabled {
			g.logger.Warn("plaintext exception withdrawn",
				"reason", string(state.Reason),
				"connection_type", string(snap.ConnectionType),
			)
		}
	}
	if err := g.store.SaveSnapshot(ctx, snap); err != nil {
		return ExceptionState{}, err
	}
	return state, nil
}

// State returns the effective exception for snap without treating it as
// a network change and without writing anything.
func (g *Guard) State(ctx context.Context, snap NetworkSnapshot) (ExceptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, err := g.store.Load(ctx)
	if err != nil {
		return ExceptionState{}, err
	}
	_, state := Reconcile(ReconcileInput{
		Previous:  snap,
		Next:      snap,
		TowerHost: g.towerHost,
		Config:    cfg,
		Now:       g.now(),
	})
	return state, nil
}

// Confirm records the user's confirmation of the plaintext exception.
// It refuses unless snap is a trusted LAN for the tower.
func (g *Guard) Confirm(ctx context.Context, snap NetworkSnapshot) (ExceptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !IsTrustedLAN(snap, g.towerHost) {
		return ExceptionState{TrustedLAN: false, Reason: ReasonUntrustedLAN}, ErrUntrustedLAN
	}
	now := g.now()
	cfg := ExceptionConfig{Enabled: true, ConfirmedAt: now}
	if err := g.store.Save(ctx, cfg); err != nil {
		return ExceptionState{}, err
	}
	if err := g.store.SaveSnapshot(ctx, snap); err != nil {
		return ExceptionState{}, err
	}
	g.logger.Info("plaintext exception confirmed",
		"expires_at", now.Add(ConfirmationTTL).UTC().Format(time.RFC3339),
	)
	_, state := Reconcile(ReconcileInput{Previous: snap, Next: snap, TowerHost: g.towerHost, Config: cfg, Now: now})
	return state, nil
}

// Disable withdraws the exception.
func (g *Guard) Disable(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Save(ctx, Disabled()); err != nil {
		return err
	}
	g.logger.Info("plaintext exception disabled")
	return nil
}
