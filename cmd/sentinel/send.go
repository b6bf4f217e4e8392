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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/config"
	"github.com/AleutianAI/SentinelTower/pkg/trust"
	"github.com/AleutianAI/SentinelTower/services/sentinel"
)

type sendFlags struct {
	deviceName     string
	lastSeen       float64
	rssi           float64
	cancelledCount int
	latitude       float64
	longitude      float64
	accuracy       float64
	network        networkFlags
}

func retryPolicy(c config.RetryConfig) sentinel.RetryPolicy {
	return sentinel.RetryPolicy{
		BaseDelay:     c.BaseDelay,
		BackoffFactor: c.BackoffFactor,
		MaxDelay:      c.MaxDelay,
		MaxRetries:    c.MaxRetries,
	}
}

func endpoint(towerURL string) string {
	return strings.TrimSuffix(towerURL, "/") + alert.Path
}

// buildEvent assembles a validated alert from the config and flags.
func buildEvent(cmd *cobra.Command, cfg config.SentinelConfig, f *sendFlags, now time.Time) (alert.Event, error) {
	name := f.deviceName
	if name == "" {
		name = cfg.DeviceName
	}
	meta := alert.DeviceMeta{DeviceName: name, LastSeen: f.lastSeen}
	if meta.LastSeen == 0 {
		meta.LastSeen = float64(now.UnixMilli())
	}
	if cmd.Flags().Changed("rssi") {
		rssi := f.rssi
		meta.RSSILast = &rssi
	}
	event := alert.NewEvent(cfg.SentinelID, cfg.TowerID, cfg.ProfileID, meta, now)
	event.CancelledCount = f.cancelledCount
	if cmd.Flags().Changed("latitude") || cmd.Flags().Changed("longitude") {
		event.Location = &alert.Location{
			Latitude:  f.latitude,
			Longitude: f.longitude,
			Accuracy:  f.accuracy,
			Timestamp: float64(now.UnixMilli()),
		}
	}
	if err := event.Validate(); err != nil {
		return alert.Event{}, fmt.Errorf("invalid alert: %w", err)
	}
	return event, nil
}

func newSendCmd(a *app) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a device-disconnected alert to the paired tower",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			event, err := buildEvent(cmd, a.cfg, f, time.Now())
			if err != nil {
				return a.fail(err)
			}

			g, err := a.guard()
			if err != nil {
				return a.fail(err)
			}
			state, err := currentState(ctx, g, a.vault.trust, &f.network)
			if err != nil {
				return a.fail(err)
			}
			if err := trust.CheckEndpoint(a.cfg.TowerURL, state); err != nil {
				return a.fail(err)
			}

			httpClient, err := sentinel.TLSClient(a.cfg.TowerCA)
			if err != nil {
				return a.fail(err)
			}
			transport := sentinel.NewHTTPTransport(
				sentinel.WithHTTPClient(httpClient),
				sentinel.WithAttemptTimeout(a.cfg.Retry.AttemptTimeout),
			)
			client, err := sentinel.NewClient(endpoint(a.cfg.TowerURL), a.vault.store, transport,
				retryPolicy(a.cfg.Retry), sentinel.WithLogger(a.logger))
			if err != nil {
				return a.fail(err)
			}

			result := client.Send(ctx, &event)
			a.out.Field("event_id", event.EventID)
			a.out.Field("attempts", result.Attempts)
			if result.Sent() {
				a.out.Success("Alert delivered (%s)", result.LastResponse.Body.Result)
				return nil
			}
			return a.fail(sendFailure(result))
		},
	}
	cmd.Flags().StringVar(&f.deviceName, "device-name", "", "name of the disconnected device (defaults to device_name in config)")
	cmd.Flags().Float64Var(&f.lastSeen, "last-seen", 0, "epoch millis the device was last seen (defaults to now)")
	cmd.Flags().Float64Var(&f.rssi, "rssi", 0, "last RSSI reading in dBm")
	cmd.Flags().IntVar(&f.cancelledCount, "cancelled-count", 0, "alerts the user cancelled before this one")
	cmd.Flags().Float64Var(&f.latitude, "latitude", 0, "last known latitude")
	cmd.Flags().Float64Var(&f.longitude, "longitude", 0, "last known longitude")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", 0, "location accuracy in meters")
	f.network.register(cmd)
	return cmd
}

func sendFailure(r sentinel.SendResult) error {
	switch {
	case r.BlockReason != nil:
		return fmt.Errorf("alert not sent: %s (%s)", r.BlockReason.Message, r.BlockReason.Code)
	case r.LastResponse != nil && r.LastResponse.Body.Error != nil:
		e := r.LastResponse.Body.Error
		return fmt.Errorf("alert not delivered after %d attempt(s): HTTP %d %s: %s", r.Attempts, r.LastResponse.Status, e.Code, e.Message)
	case r.LastResponse != nil:
		return fmt.Errorf("alert not delivered after %d attempt(s): HTTP %d", r.Attempts, r.LastResponse.Status)
	default:
		return fmt.Errorf("alert not delivered after %d attempt(s): %v", r.Attempts, r.LastError)
	}
}
