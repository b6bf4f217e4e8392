// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/trust"
)

// networkFlags describes the network the sentinel is on. There is no
// portable way to read Wi-Fi state, so the caller reports it.
type networkFlags struct {
	connectionType string
	deviceIP       string
}

func (n *networkFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&n.connectionType, "connection-type", "", "current network: wifi, cellular, or unknown")
	cmd.Flags().StringVar(&n.deviceIP, "device-ip", "", "this device's IPv4 address on the current network")
}

func (n *networkFlags) set() bool {
	return n.connectionType != "" || n.deviceIP != ""
}

func (n *networkFlags) snapshot() trust.NetworkSnapshot {
	return trust.NetworkSnapshot{
		ConnectionType: trust.ParseConnectionType(n.connectionType),
		DeviceIP:       n.deviceIP,
	}
}

// currentState reconciles the exception. A reported network is observed
// as a possible boundary change; otherwise the last saved network is
// evaluated without side effects. With neither, the exception is off.
func currentState(ctx context.Context, g *trust.Guard, store *trust.ConfigStore, n *networkFlags) (trust.ExceptionState, error) {
	if n.set() {
		return g.Observe(ctx, n.snapshot())
	}
	snap, ok, err := store.LoadSnapshot(ctx)
	if err != nil {
		return trust.ExceptionState{}, err
	}
	if !ok {
		return trust.ExceptionState{Reason: trust.ReasonUntrustedLAN}, nil
	}
	return g.State(ctx, snap)
}

func newExceptionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exception",
		Short: "Manage the plaintext http exception for a tower on the home LAN",
	}

	var confirmNet networkFlags
	confirm := &cobra.Command{
		Use:   "confirm",
		Short: "Allow plaintext delivery for 24 hours on this LAN",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.guard()
			if err != nil {
				return a.fail(err)
			}
			state, err := g.Confirm(cmd.Context(), confirmNet.snapshot())
			if err != nil {
				return a.fail(err)
			}
			a.out.Warning("plaintext delivery to %s is allowed until the network changes or 24h pass", a.cfg.TowerURL)
			a.printState(state)
			return nil
		},
	}
	confirmNet.register(confirm)

	disable := &cobra.Command{
		Use:   "disable",
		Short: "Withdraw the plaintext exception",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.guard()
			if err != nil {
				return a.fail(err)
			}
			if err := g.Disable(cmd.Context()); err != nil {
				return a.fail(err)
			}
			a.out.Success("Plaintext exception disabled")
			return nil
		},
	}

	var statusNet networkFlags
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the effective exception without recording a network change",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.guard()
			if err != nil {
				return a.fail(err)
			}
			var state trust.ExceptionState
			if statusNet.set() {
				state, err = g.State(cmd.Context(), statusNet.snapshot())
			} else {
				state, err = currentState(cmd.Context(), g, a.vault.trust, &statusNet)
			}
			if err != nil {
				return a.fail(err)
			}
			a.printState(state)
			return nil
		},
	}
	statusNet.register(status)

	var observeNet networkFlags
	observe := &cobra.Command{
		Use:   "observe",
		Short: "Record a network change and reconcile the exception",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.guard()
			if err != nil {
				return a.fail(err)
			}
			state, err := g.Observe(cmd.Context(), observeNet.snapshot())
			if err != nil {
				return a.fail(err)
			}
			a.printState(state)
			return nil
		},
	}
	observeNet.register(observe)

	cmd.AddCommand(confirm, disable, status, observe)
	return cmd
}

func (a *app) printState(s trust.ExceptionState) {
	a.out.Field("exception_enabled", s.Enabled)
	a.out.Field("trusted_lan", s.TrustedLAN)
	a.out.Field("requires_reconfirm", s.RequiresReconfirm)
	if s.Reason != trust.ReasonNone {
		a.out.Field("reason", string(s.Reason))
	}
}
