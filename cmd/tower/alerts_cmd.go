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
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/config"
)

func newAlertsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect stored alerts",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Store.Backend != config.BackendBadger {
				return a.fail(errors.New("alerts list reads the local badger store; store.backend is " + a.cfg.Store.Backend))
			}
			st, err := openStore(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return a.fail(err)
			}
			defer st.Close()

			// Keys are event ids, so order by receipt here.
			records, err := st.badgerRepo.List(cmd.Context(), 0)
			if err != nil {
				return a.fail(err)
			}
			sort.Slice(records, func(i, j int) bool { return records[i].ReceivedAt > records[j].ReceivedAt })
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if len(records) == 0 {
				a.out.Info("no alerts stored")
				return nil
			}
			a.out.Table([]string{"RECEIVED", "EVENT", "SENTINEL", "DEVICE", "CANCELLED"}, alertRows(records))
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum alerts to show; 0 for all")

	cmd.AddCommand(list)
	return cmd
}

func alertRows(records []alert.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			time.UnixMilli(r.ReceivedAt).UTC().Format(time.RFC3339),
			r.EventID,
			r.Event.SentinelID,
			r.Event.DeviceMeta.DeviceName,
			strconv.Itoa(r.Event.CancelledCount),
		})
	}
	return rows
}
