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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
)

// =============================================================================
// Staged Payload Validation
// =============================================================================
//
// The payload is checked on its raw JSON form so that precedence between
// stages is observable: presence, then type, then device_meta presence,
// then device_meta type, then format, then the trigger rule. Each stage
// reports the first failing field in declaration order.

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindObject
)

type fieldSpec struct {
	name string
	kind fieldKind
}

// requiredFields is ordered; the first missing field is the one reported.
var requiredFields = []fieldSpec{
	{"api_version", kindString},
	{"event_id", kindString},
	{"sentinel_id", kindString},
	{"tower_id", kindString},
	{"profile_id", kindString},
	{"timestamp", kindNumber},
	{"trigger_reason", kindString},
	{"device_meta", kindObject},
	{"cancelled_count", kindNumber},
}

var deviceMetaFields = []fieldSpec{
	{"device_name", kindString},
	{"last_seen", kindNumber},
}

var locationFields = []string{"latitude", "longitude", "accuracy", "timestamp"}

var versionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// rejection is a terminal 400 produced by validation.
type rejection struct {
	code    alert.ErrorCode
	message string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.code, r.message)
}

func missing(field string) *rejection {
	return &rejection{alert.CodeMissingRequiredField, "Missing required field: " + field}
}

func wrongType(field string) *rejection {
	return &rejection{alert.CodeInvalidFieldType, "Invalid field type: " + field}
}

func invalid(format string, args ...any) *rejection {
	return &rejection{alert.CodeInvalidPayload, fmt.Sprintf(format, args...)}
}

var errNotObject = errors.New("payload is not a JSON object")

// decodeObject parses body as a single JSON object, keeping numbers as
// json.Number so integer checks see the literal.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// validatePayload runs every stage over raw and returns the typed event.
func validatePayload(raw map[string]any) (alert.Event, *rejection) {
	// Presence.
	for _, f := range requiredFields {
		if _, ok := raw[f.name]; !ok {
			return alert.Event{}, missing(f.name)
		}
	}

	// Type and shape.
	for _, f := range requiredFields {
		if !hasKind(raw[f.name], f.kind) {
			return alert.Event{}, wrongType(f.name)
		}
	}
	var loc *alert.Location
	if v, ok := raw["location"]; ok {
		l, good := parseLocation(v)
		if !good {
			return alert.Event{}, wrongType("location")
		}
		loc = l
	}

	// device_meta presence, then type.
	meta := raw["device_meta"].(map[string]any)
	for _, f := range deviceMetaFields {
		if _, ok := meta[f.name]; !ok {
			return alert.Event{}, missing("device_meta." + f.name)
		}
	}
	for _, f := range deviceMetaFields {
		if !hasKind(meta[f.name], f.kind) {
			return alert.Event{}, wrongType("device_meta." + f.name)
		}
	}
	lastSeen, ok := toFloat(meta["last_seen"])
	if !ok {
		return alert.Event{}, wrongType("device_meta.last_seen")
	}
	var rssi *float64
	if v, present := meta["rssi_last"]; present {
		f, good := toFloat(v)
		if !good {
			return alert.Event{}, wrongType("device_meta.rssi_last")
		}
		rssi = &f
	}

	ev := alert.Event{
		APIVersion:    raw["api_version"].(string),
		EventID:       raw["event_id"].(string),
		SentinelID:    raw["sentinel_id"].(string),
		TowerID:       raw["tower_id"].(string),
		ProfileID:     raw["profile_id"].(string),
		TriggerReason: raw["trigger_reason"].(string),
		DeviceMeta: alert.DeviceMeta{
			DeviceName: meta["device_name"].(string),
			LastSeen:   lastSeen,
			RSSILast:   rssi,
		},
		Location: loc,
	}

	// Format.
	if !versionPattern.MatchString(ev.APIVersion) {
		return alert.Event{}, invalid("Invalid api_version format")
	}
	major, _, _ := strings.Cut(ev.APIVersion, ".")
	if major != strconv.Itoa(alert.SupportedMajorVersion) {
		return alert.Event{}, &rejection{alert.CodeUnsupportedVersion, fmt.Sprintf("Unsupported api_version: %s.x", major)}
	}
	if !alert.IsUUIDv4(ev.EventID) {
		return alert.Event{}, invalid("Invalid event_id: must be a UUIDv4")
	}
	for _, f := range []struct{ name, value string }{
		{"sentinel_id", ev.SentinelID},
		{"tower_id", ev.TowerID},
		{"profile_id", ev.ProfileID},
		{"trigger_reason", ev.TriggerReason},
		{"device_meta.device_name", ev.DeviceMeta.DeviceName},
	} {
		if strings.TrimSpace(f.value) == "" {
			return alert.Event{}, invalid("Invalid %s: must not be empty", f.name)
		}
	}
	ts, ok := toInteger(raw["timestamp"])
	if !ok || ts <= 0 {
		return alert.Event{}, invalid("Invalid timestamp: must be a positive integer")
	}
	ev.Timestamp = ts
	cancelled, ok := toInteger(raw["cancelled_count"])
	if !ok || cancelled < 0 || cancelled > math.MaxInt32 {
		return alert.Event{}, invalid("Invalid cancelled_count: must be a non-negative integer")
	}
	ev.CancelledCount = int(cancelled)

	// Domain rule.
	if ev.TriggerReason != alert.TriggerBLEDisconnect {
		return alert.Event{}, invalid("Invalid trigger_reason")
	}
	return ev, nil
}

func hasKind(v any, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := v.(string)
		return ok
	case kindNumber:
		_, ok := v.(json.Number)
		return ok
	case kindObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

func parseLocation(v any) (*alert.Location, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	var vals [4]float64
	for i, name := range locationFields {
		f, ok := toFloat(obj[name])
		if !ok {
			return nil, false
		}
		vals[i] = f
	}
	return &alert.Location{Latitude: vals[0], Longitude: vals[1], Accuracy: vals[2], Timestamp: vals[3]}, true
}

func toFloat(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// toInteger accepts integral literals, including forms like 5.0 or 1e3.
func toInteger(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}
