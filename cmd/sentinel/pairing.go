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
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/config"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
	"github.com/AleutianAI/SentinelTower/pkg/trust"
)

// EnvToken supplies the pairing token when --token is omitted, keeping it
// out of shell history.
const EnvToken = "SENTINEL_PAIRING_TOKEN"

func tokenFlag(cmd *cobra.Command, token *string) {
	cmd.Flags().StringVar(token, "token", "", "pairing token printed by `tower registry add` (or set "+EnvToken+")")
}

func resolveToken(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(EnvToken); env != "" {
		return env, nil
	}
	return "", errors.New("a pairing token is required: pass --token or set " + EnvToken)
}

func newPairCmd(a *app) *cobra.Command {
	var token, towerURL, towerID string
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Store the pairing token issued by a tower",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := resolveToken(token)
			if err != nil {
				return a.fail(err)
			}
			cfg := a.cfg
			if towerURL != "" {
				cfg.TowerURL = towerURL
			}
			if towerID != "" {
				cfg.TowerID = towerID
			}
			if cfg != a.cfg {
				if err := config.SaveSentinel(logging.ExpandPath(a.configPath), cfg); err != nil {
					return a.fail(err)
				}
				a.cfg = cfg
			}

			v, err := a.openVault()
			if err != nil {
				return a.fail(err)
			}
			res := v.lifecycle.RecordPairing(cmd.Context(), tok)
			if !res.Ready() {
				return a.blocked(res)
			}
			a.out.Success("Paired with %s", a.cfg.TowerID)
			a.out.Field("tower_url", a.cfg.TowerURL)
			a.out.Field("fingerprint", credential.Fingerprint(tok))
			return nil
		},
	}
	tokenFlag(cmd, &token)
	cmd.Flags().StringVar(&towerURL, "tower-url", "", "tower base URL, e.g. https://192.168.1.20:8443")
	cmd.Flags().StringVar(&towerID, "tower-id", "", "tower identity")
	return cmd
}

func newRotateCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the stored pairing token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := resolveToken(token)
			if err != nil {
				return a.fail(err)
			}
			v, err := a.openVault()
			if err != nil {
				return a.fail(err)
			}
			res := v.lifecycle.RotateToken(cmd.Context(), tok)
			if !res.Ready() {
				return a.blocked(res)
			}
			a.out.Success("Token rotated")
			a.out.Field("fingerprint", credential.Fingerprint(tok))
			return nil
		},
	}
	tokenFlag(cmd, &token)
	return cmd
}

func newUnpairCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpair",
		Short: "Forget the tower's pairing token",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return a.fail(err)
			}
			res := v.lifecycle.ClearPairing(cmd.Context())
			if !res.Ready() {
				return a.blocked(res)
			}
			a.out.Success("Unpaired from %s", a.cfg.TowerID)
			return nil
		},
	}
}

func newClearCacheCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove the locally cached token without contacting the tower",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.openVault()
			if err != nil {
				return a.fail(err)
			}
			res := v.lifecycle.ClearCache(cmd.Context())
			if !res.Ready() {
				return a.blocked(res)
			}
			a.out.Success("Credential cache cleared")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pairing and plaintext exception state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			v, err := a.openVault()
			if err != nil {
				return a.fail(err)
			}

			a.out.Title("Sentinel " + a.cfg.SentinelID)
			a.out.Field("tower_id", a.cfg.TowerID)
			a.out.Field("tower_url", a.cfg.TowerURL)

			token, found, err := v.store.GetToken(ctx)
			switch {
			case err != nil:
				a.out.Field("paired", "unknown")
				a.out.Warning("%v", err)
			case !found:
				a.out.Field("paired", false)
			default:
				a.out.Field("paired", true)
				a.out.Field("fingerprint", credential.Fingerprint(token))
			}

			exc, err := v.trust.Load(ctx)
			if err != nil {
				return a.fail(err)
			}
			policy := trust.EvaluateExceptionPolicy(exc, time.Now())
			a.out.Field("exception_enabled", policy.Enabled)
			if !exc.ConfirmedAt.IsZero() {
				a.out.Field("exception_confirmed_at", exc.ConfirmedAt.UTC().Format(time.RFC3339))
			}
			if snap, ok, err := v.trust.LoadSnapshot(ctx); err == nil && ok {
				a.out.Field("network", string(snap.ConnectionType))
				if snap.DeviceIP != "" {
					a.out.Field("device_ip", snap.DeviceIP)
				}
			}
			return nil
		},
	}
}
