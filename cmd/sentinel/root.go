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
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SentinelTower/pkg/config"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
	storagebadger "github.com/AleutianAI/SentinelTower/pkg/storage/badger"
	"github.com/AleutianAI/SentinelTower/pkg/trust"
	"github.com/AleutianAI/SentinelTower/pkg/ux"
)

// app is the state shared by every subcommand.
type app struct {
	configPath string
	outputMode string
	ephemeral  bool

	cfg    config.SentinelConfig
	logger *logging.Logger
	out    *ux.Printer

	// vault is opened on first use; discover never needs it.
	vault *vault
}

// vault bundles everything backed by the sentinel's badger database.
type vault struct {
	db        *storagebadger.DB
	enclave   *credential.EnclaveBridge
	store     *credential.Store
	lifecycle *credential.Lifecycle
	trust     *trust.ConfigStore
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
		Use:           "sentinel",
		Short:         "Deliver device-disconnected alerts to a paired tower",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = ux.NewPrinter()
			a.out.Out = cmd.OutOrStdout()
			a.out.Err = cmd.ErrOrStderr()
			if a.outputMode != "" {
				a.out.Mode = ux.ParseMode(a.outputMode)
			}
			cfg, err := config.LoadSentinel(a.configPath)
			if err != nil {
				return a.fail(err)
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Log.Logging("sentinel"))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultSentinelPath(), "path to sentinel.yaml")
	root.PersistentFlags().StringVar(&a.outputMode, "output", "", "output mode: styled, plain, or machine")
	root.PersistentFlags().BoolVar(&a.ephemeral, "ephemeral", false, "keep the token and trust state in memory only; nothing is written under data_dir")

	root.AddCommand(
		newPairCmd(a),
		newRotateCmd(a),
		newUnpairCmd(a),
		newClearCacheCmd(a),
		newStatusCmd(a),
		newSendCmd(a),
		newExceptionCmd(a),
		newDiscoverCmd(a),
	)
	return root
}

// openVault opens the sealed credential store and preferences under
// cfg.DataDir, or in-memory equivalents with --ephemeral.
func (a *app) openVault() (*vault, error) {
	if a.vault != nil {
		return a.vault, nil
	}
	if a.ephemeral {
		return a.openEphemeralVault()
	}
	key, err := credential.LoadOrCreateVaultKey(filepath.Join(a.cfg.DataDir, "vault.key"))
	if err != nil {
		return nil, err
	}
	bcfg := storagebadger.DefaultConfig(filepath.Join(a.cfg.DataDir, "vault"))
	bcfg.GCInterval = 0
	bcfg.Logger = a.logger.With("component", "badger").Slog()
	db, err := storagebadger.Open(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open sentinel vault: %w", err)
	}
	store := credential.NewStore(credential.NewSealedBridge(db, key))
	a.vault = &vault{
		db:        db,
		store:     store,
		lifecycle: credential.NewLifecycle(store, a.logger),
		trust:     trust.NewConfigStore(storagebadger.NewPreferences(db, "trust")),
	}
	return a.vault, nil
}

// openEphemeralVault backs the token with memguard enclaves and the trust
// preferences with an in-memory badger, so state lasts one invocation.
func (a *app) openEphemeralVault() (*vault, error) {
	db, err := storagebadger.OpenInMemory()
	if err != nil {
		return nil, fmt.Errorf("open ephemeral vault: %w", err)
	}
	enclave := credential.NewEnclaveBridge()
	store := credential.NewStore(enclave)
	a.vault = &vault{
		db:        db,
		enclave:   enclave,
		store:     store,
		lifecycle: credential.NewLifecycle(store, a.logger),
		trust:     trust.NewConfigStore(storagebadger.NewPreferences(db, "trust")),
	}
	return a.vault, nil
}

func (a *app) guard() (*trust.Guard, error) {
	v, err := a.openVault()
	if err != nil {
		return nil, err
	}
	return trust.NewGuard(v.trust, a.cfg.TowerURL, trust.WithLogger(a.logger)), nil
}

func (a *app) close() {
	if a.vault != nil {
		if a.vault.enclave != nil {
			_ = a.vault.enclave.Close()
		}
		if err := a.vault.db.Close(); err != nil {
			a.logger.Warn("close vault", "error", err)
		}
		a.vault = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// fail prints err and returns it so cobra exits non-zero.
func (a *app) fail(err error) error {
	a.out.Error("%v", err)
	return err
}

// blocked reports a lifecycle result that did not complete.
func (a *app) blocked(res credential.LifecycleResult) error {
	a.out.Error("%s", res.UserMessage)
	if res.Err != nil {
		a.out.Field("code", res.Err.Code)
		return res.Err
	}
	return fmt.Errorf("%s", res.UserMessage)
}
