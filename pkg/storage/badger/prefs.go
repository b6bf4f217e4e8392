// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
)

// Preferences is a string key/value store under a key prefix. It backs the
// sentinel's persisted exception config and last observed network.
type Preferences struct {
	db     *DB
	prefix string
}

// NewPreferences returns a preference store whose keys live under
// "prefs/<namespace>/".
func NewPreferences(db *DB, namespace string) *Preferences {
	return &Preferences{db: db, prefix: "prefs/" + namespace + "/"}
}

func (p *Preferences) key(name string) []byte {
	return []byte(p.prefix + name)
}

// Get returns the value stored under name.
func (p *Preferences) Get(ctx context.Context, name string) (string, bool, error) {
	v, found, err := p.db.Get(ctx, p.key(name))
	if err != nil || !found {
		return "", false, err
	}
	return string(v), true, nil
}

// Set stores value under name.
func (p *Preferences) Set(ctx context.Context, name, value string) error {
	return p.db.Set(ctx, p.key(name), []byte(value))
}

// Remove deletes name. Removing a missing name is not an error.
func (p *Preferences) Remove(ctx context.Context, name string) error {
	return p.db.Delete(ctx, p.key(name))
}
