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
	"time"
)

// ConfirmationTTL is how long a user confirmation keeps the plaintext
// exception alive.
const ConfirmationTTL = 24 * time.Hour

// Reason explains why the exception is not in effect.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonUntrustedLAN        Reason = "UNTRUSTED_LAN"
	ReasonNoConfirmation      Reason = "NO_CONFIRMATION"
	ReasonConfirmationExpired Reason = "CONFIRMATION_EXPIRED"
)

// ExceptionConfig is the persisted plaintext exception. A zero
// ConfirmedAt means the user never confirmed.
type ExceptionConfig struct {
	Enabled     bool
	ConfirmedAt time.Time
}

// Disabled is the reset config.
func Disabled() ExceptionConfig {
	return ExceptionConfig{}
}

// PolicyResult is the time-based verdict on an ExceptionConfig.
type PolicyResult struct {
	Enabled           bool
	RequiresReconfirm bool
	Reason            Reason
}

// EvaluateExceptionPolicy applies the confirmation TTL to config at now.
// Expiry is strict: a confirmation exactly ConfirmationTTL old is still
// valid.
func EvaluateExceptionPolicy(config ExceptionConfig, now time.Time) PolicyResult {
	if !config.Enabled {
		return PolicyResult{}
	}
	if config.ConfirmedAt.IsZero() {
		return PolicyResult{RequiresReconfirm: true, Reason: ReasonNoConfirmation}
	}
	if now.Sub(config.ConfirmedAt) > ConfirmationTTL {
		return PolicyResult{RequiresReconfirm: true, Reason: ReasonConfirmationExpired}
	}
	return PolicyResult{Enabled: true}
}

// HasNetworkBoundaryChanged reports whether the connection type or the
// device address differs between snapshots.
func HasNetworkBoundaryChanged(previous, next NetworkSnapshot) bool {
	return previous.ConnectionType != next.ConnectionType || previous.DeviceIP != next.DeviceIP
}

// ExceptionState is the effective exception after reconciliation.
type ExceptionState struct {
	Enabled           bool
	TrustedLAN        bool
	RequiresReconfirm bool
	Reason            Reason
}

// ReconcileInput carries everything Reconcile looks at.
type ReconcileInput struct {
	Previous        NetworkSnapshot
	Next            NetworkSnapshot
	TowerHost       string
	Config          ExceptionConfig
	Now             time.Time
	ForceReevaluate bool
}

// Reconcile computes the effective exception for the Next network and the
// config that should be persisted afterwards.
//
// The exception is effective only when the stored config is enabled, the
// network is a trusted LAN, and the confirmation is fresh. The stored
// config is reset to Disabled when it was enabled but trust or freshness
// is gone, and also whenever the boundary changed (or ForceReevaluate is
// set) and the result is not effective.
func Reconcile(in ReconcileInput) (ExceptionConfig, ExceptionState) {
	boundaryChanged := HasNetworkBoundaryChanged(in.Previous, in.Next)
	reevaluate := boundaryChanged || in.ForceReevaluate
	trusted := IsTrustedLAN(in.Next, in.TowerHost)
	policy := EvaluateExceptionPolicy(in.Config, in.Now)

	state := ExceptionState{
		Enabled:           in.Config.Enabled && trusted && policy.Enabled,
		TrustedLAN:        trusted,
		RequiresReconfirm: policy.RequiresReconfirm,
		Reason:            policy.Reason,
	}
	if !trusted {
		state.Enabled = false
		state.RequiresReconfirm = false
		state.Reason = ReasonUntrustedLAN
	}

	next := in.Config
	mustDisable := in.Config.Enabled &&
		(!trusted || policy.RequiresReconfirm || policy.Reason == ReasonNoConfirmation)
	if mustDisable || (!state.Enabled && reevaluate) {
		next = Disabled()
	}
	return next, state
}
