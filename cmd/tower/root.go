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
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/config"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
	"github.com/AleutianAI/SentinelTower/pkg/ux"
)

const serviceName = "sentineltower"

// app is the state shared by every subcommand, filled in by the root
// PersistentPreRunE.
type app struct {
	configPath string
	outputMode string

	cfg    config.TowerConfig
	logger *logging.Logger
	out    *ux.Printer
}

// execute runs the CLI with args and releases whatever the command opened,
// whether or not it succeeded.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tower",
		Short:         "Receive device-disconnected alerts from paired sentinels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = ux.NewPrinter()
			a.out.Out = cmd.OutOrStdout()
			a.out.Err = cmd.ErrOrStderr()
			if a.outputMode != "" {
				a.out.Mode = ux.ParseMode(a.outputMode)
			}

			cfg, err := config.LoadTower(a.configPath)
			if err != nil {
				a.out.Error("%v", err)
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Log.Logging("tower"))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultTowerPath(), "path to tower.yaml")
	root.PersistentFlags().StringVar(&a.outputMode, "output", "", "output mode: styled, plain, or machine")

	root.AddCommand(
		newServeCmd(a),
		newRegistryCmd(a),
		newAlertsCmd(a),
	)
	return root
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// fail prints err and returns it so cobra exits non-zero.
func (a *app) fail(err error) error {
	a.out.Error("%v", err)
	return err
}
