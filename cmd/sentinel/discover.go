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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/discovery"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find towers advertising on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			towers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return a.fail(err)
			}
			if len(towers) == 0 {
				a.out.Info("no towers found within %s", timeout)
				return nil
			}
			a.out.Table([]string{"TOWER", "INSTANCE", "URL"}, towerRows(towers))
			a.out.Info("pair with: sentinel pair --tower-url <URL> --tower-id <TOWER> --token <token>")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to listen for answers")
	return cmd
}

func towerRows(towers []discovery.Tower) [][]string {
	rows := make([][]string, 0, len(towers))
	for _, t := range towers {
		rows = append(rows, []string{t.TowerID, strings.TrimSpace(t.Instance), t.URL()})
	}
	return rows
}
