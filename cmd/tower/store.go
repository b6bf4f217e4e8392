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
	"path/filepath"

	"github.com/AleutianAI/SentinelTower/pkg/config"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
	storagebadger "github.com/AleutianAI/SentinelTower/pkg/storage/badger"
	"github.com/AleutianAI/SentinelTower/services/tower"
)

// store is the configured alert repository plus whatever owns its
// resources.
type store struct {
	repo tower.Repository

	// db and badgerRepo are set for the badger backend only.
	db         *storagebadger.DB
	badgerRepo *tower.BadgerRepository
}

func alertsDir(cfg config.TowerConfig) string {
	return filepath.Join(cfg.DataDir, "alerts")
}

func openStore(ctx context.Context, cfg config.TowerConfig, logger *logging.Logger) (*store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("memory store selected; alerts are lost on restart")
		return &store{repo: tower.NewMemoryRepository()}, nil

	case config.BackendDynamoDB:
		client, err := tower.NewDynamoClient(ctx, cfg.Store.DynamoRegion, cfg.Store.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		repo, err := tower.NewDynamoRepository(client, cfg.Store.DynamoTable)
		if err != nil {
			return nil, err
		}
		return &store{repo: repo}, nil

	case config.BackendBadger, "":
		db, err := openBadger(cfg, logger)
		if err != nil {
			return nil, err
		}
		repo := tower.NewBadgerRepository(db)
		return &store{repo: repo, db: db, badgerRepo: repo}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openBadger(cfg config.TowerConfig, logger *logging.Logger) (*storagebadger.DB, error) {
	bcfg := storagebadger.DefaultConfig(alertsDir(cfg))
	bcfg.GCInterval = cfg.Store.GCInterval
	bcfg.Logger = logger.With("component", "badger").Slog()
	db, err := storagebadger.Open(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	return db, nil
}

// runGC blocks until ctx is done, collecting badger garbage when there is
// a badger backend.
func (s *store) runGC(ctx context.Context) error {
	if s.db == nil {
		<-ctx.Done()
		return nil
	}
	return s.db.RunGC(ctx)
}

func (s *store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
