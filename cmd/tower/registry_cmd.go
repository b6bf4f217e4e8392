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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/ux"
	"github.com/AleutianAI/SentinelTower/services/tower"
)

func newRegistryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage paired sentinels",
	}

	var sentinelID, towerID string
	add := &cobra.Command{
		Use:   "add",
		Short: "Pair a sentinel and print its token once",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := tower.OpenRegistry(a.cfg.RegistryPath, a.logger)
			if err != nil {
				return a.fail(err)
			}
			if towerID == "" {
				towerID = a.cfg.TowerID
			}
			token, err := reg.Add(sentinelID, towerID, time.Now())
			if err != nil {
				return a.fail(err)
			}
			a.logger.Info("sentinel paired",
				"sentinel_id", sentinelID,
				"tower_id", towerID,
				"token_fingerprint", credential.Fingerprint(token))
			a.out.Success("Paired %s with %s", sentinelID, towerID)
			if a.out.Mode == ux.ModeMachine {
				a.out.Field("token", token)
			} else {
				a.out.Box("Pairing token (shown once)", token)
			}
			a.out.Field("fingerprint", credential.Fingerprint(token))
			return nil
		},
	}
	add.Flags().StringVar(&sentinelID, "sentinel-id", "", "sentinel identity (required)")
	add.Flags().StringVar(&towerID, "tower-id", "", "tower identity (defaults to tower_id in config)")
	_ = add.MarkFlagRequired("sentinel-id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List paired sentinels",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := tower.OpenRegistry(a.cfg.RegistryPath, a.logger)
			if err != nil {
				return a.fail(err)
			}
			entries := reg.List()
			if len(entries) == 0 {
				a.out.Info("no paired sentinels")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.SentinelID, e.TowerID, e.TokenSHA256[:credential.FingerprintLength], e.AddedAt.Format(time.RFC3339)})
			}
			a.out.Table([]string{"SENTINEL", "TOWER", "FINGERPRINT", "ADDED"}, rows)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <sentinel-id>",
		Short: "Revoke a sentinel's token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := tower.OpenRegistry(a.cfg.RegistryPath, a.logger)
			if err != nil {
				return a.fail(err)
			}
			removed, err := reg.Remove(args[0])
			if err != nil {
				return a.fail(err)
			}
			if !removed {
				return a.fail(fmt.Errorf("sentinel %s is not paired", args[0]))
			}
			a.out.Success("Revoked %s", args[0])
			return nil
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}
