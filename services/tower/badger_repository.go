// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tower

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	storagebadger "github.com/AleutianAI/SentinelTower/pkg/storage/badger"
)

const eventKeyPrefix = "alert/event/"

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error
	recordEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}
	recordDecMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

func encodeRecord(rec *alert.Record) ([]byte, error) {
	return recordEncMode.Marshal(rec)
}

func decodeRecord(data []byte) (alert.Record, error) {
	var rec alert.Record
	if err := recordDecMode.Unmarshal(data, &rec); err != nil {
		return alert.Record{}, err
	}
	return rec, nil
}

func eventKey(eventID string) []byte {
	return []byte(eventKeyPrefix + eventID)
}

// BadgerRepository stores CBOR-encoded records in BadgerDB.
//
// # Description
//
// SaveEvent reads and writes the event key inside one serializable
// transaction. When two transactions race on the same key, badger
// rejects the later commit with ErrConflict; storagebadger.DB.Update
// reruns it, and the rerun observes the winner's record and reports
// SaveDuplicate.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerRepository struct {
	db *storagebadger.DB
}

// NewBadgerRepository returns a repository over db.
func NewBadgerRepository(db *storagebadger.DB) *BadgerRepository {
	return &BadgerRepository{db: db}
}

// HasEvent implements Repository.
func (r *BadgerRepository) HasEvent(ctx context.Context, eventID string) (bool, error) {
	_, found, err := r.db.Get(ctx, eventKey(eventID))
	if err != nil {
		return false, storeError("read alert record", err)
	}
	return found, nil
}

// SaveEvent implements Repository.
func (r *BadgerRepository) SaveEvent(ctx context.Context, rec *alert.Record) (SaveOutcome, error) {
	value, err := encodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("encode alert record: %w", err)
	}
	key := eventKey(rec.EventID)

	var outcome SaveOutcome
	err = r.db.Update(ctx, func(txn *badgerdb.Txn) error {
		_, err := txn.Get(key)
		switch {
		case err == nil:
			outcome = SaveDuplicate
			return nil
		case !errors.Is(err, badgerdb.ErrKeyNotFound):
			return err
		}
		outcome = SaveCreated
		return txn.Set(key, value)
	})
	if err != nil {
		return 0, storeError("save alert record", err)
	}
	return outcome, nil
}

// Get implements Repository.
func (r *BadgerRepository) Get(ctx context.Context, eventID string) (alert.Record, bool, error) {
	data, found, err := r.db.Get(ctx, eventKey(eventID))
	if err != nil || !found {
		return alert.Record{}, false, storeError("read alert record", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return alert.Record{}, false, fmt.Errorf("decode alert record %s: %w", eventID, err)
	}
	return rec, true, nil
}

// List returns up to limit records in key order. limit <= 0 means all.
func (r *BadgerRepository) List(ctx context.Context, limit int) ([]alert.Record, error) {
	var out []alert.Record
	err := r.db.View(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("list alert records", err)
	}
	return out, nil
}

// storeError wraps err, marking a closed database as unavailable. A nil
// err yields nil.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storagebadger.ErrClosed) || errors.Is(err, badgerdb.ErrDBClosed) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
