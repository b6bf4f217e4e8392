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
	"sort"
	"sync"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
)

// =============================================================================
// Repository Contract
// =============================================================================

// ErrUnavailable marks a retryable upstream condition. Repositories and
// verifiers wrap it when their backing store cannot be reached; the
// ingestion boundary answers 503 SERVICE_UNAVAILABLE for it.
var ErrUnavailable = errors.New("upstream unavailable")

// SaveOutcome is the result of an insert-if-absent.
type SaveOutcome int

const (
	// SaveCreated means the record was stored by this call.
	SaveCreated SaveOutcome = iota + 1
	// SaveDuplicate means a record with the same event id already existed
	// and nothing was written.
	SaveDuplicate
)

// String returns the wire result for the outcome.
func (o SaveOutcome) String() string {
	switch o {
	case SaveCreated:
		return string(alert.ResultCreated)
	case SaveDuplicate:
		return string(alert.ResultDuplicate)
	default:
		return "unknown"
	}
}

// Repository stores accepted alert records keyed by event id.
//
// # Description
//
// SaveEvent is an atomic compare-and-insert: for any number of concurrent
// calls sharing one event id, exactly one returns SaveCreated and the
// rest return SaveDuplicate. Ingestion never pairs HasEvent with
// SaveEvent to decide between created and duplicate.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Repository interface {
	// HasEvent reports whether a record exists for eventID.
	HasEvent(ctx context.Context, eventID string) (bool, error)

	// SaveEvent inserts rec unless a record with rec.EventID exists.
	SaveEvent(ctx context.Context, rec *alert.Record) (SaveOutcome, error)

	// Get returns the record stored for eventID.
	Get(ctx context.Context, eventID string) (alert.Record, bool, error)
}

// =============================================================================
// In-Memory Repository
// =============================================================================

// MemoryRepository keeps records in a map guarded by a mutex.
//
// Used by tests and by `tower serve --store memory` for throwaway runs.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*alert.Record
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*alert.Record)}
}

// HasEvent implements Repository.
func (r *MemoryRepository) HasEvent(ctx context.Context, eventID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[eventID]
	return ok, nil
}

// SaveEvent implements Repository.
func (r *MemoryRepository) SaveEvent(ctx context.Context, rec *alert.Record) (SaveOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.EventID]; ok {
		return SaveDuplicate, nil
	}
	cp := *rec
	r.records[rec.EventID] = &cp
	return SaveCreated, nil
}

// Get implements Repository. It returns a copy of the stored record.
func (r *MemoryRepository) Get(ctx context.Context, eventID string) (alert.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return alert.Record{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[eventID]
	if !ok {
		return alert.Record{}, false, nil
	}
	return *rec, true, nil
}

// Len returns the number of stored records.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// IDs returns the stored event ids in lexical order.
func (r *MemoryRepository) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
