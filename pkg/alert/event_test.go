// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_IsValid(t *testing.T) {
	now := time.UnixMilli(1704067200000)
	ev := NewEvent("sentinel-001", "tower-001", "child", DeviceMeta{DeviceName: "Smart Watch", LastSeen: 1704067195000}, now)

	assert.Equal(t, APIVersion, ev.APIVersion)
	assert.Equal(t, TriggerBLEDisconnect, ev.TriggerReason)
	assert.Equal(t, int64(1704067200000), ev.Timestamp)
	assert.True(t, IsUUIDv4(ev.EventID))
	require.NoError(t, ev.Validate())
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return NewEvent("sentinel-001", "tower-001", "child", DeviceMeta{DeviceName: "Smart Watch"}, time.Now())
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"bad event id", func(e *Event) { e.EventID = "not-a-uuid" }},
		{"missing sentinel", func(e *Event) { e.SentinelID = "" }},
		{"zero timestamp", func(e *Event) { e.Timestamp = 0 }},
		{"wrong trigger", func(e *Event) { e.TriggerReason = "manual" }},
		{"negative cancelled", func(e *Event) { e.CancelledCount = -1 }},
		{"missing device name", func(e *Event) { e.DeviceMeta.DeviceName = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base()
			tt.mutate(&ev)
			assert.Error(t, ev.Validate())
		})
	}
}

func TestIsUUIDv4(t *testing.T) {
	assert.True(t, IsUUIDv4("550e8400-e29b-41d4-a716-446655440000"))
	assert.True(t, IsUUIDv4("550E8400-E29B-41D4-A716-446655440000"), "uppercase hex")
	assert.True(t, IsUUIDv4("550e8400-E29B-41d4-A716-446655440000"), "mixed case hex")
	assert.False(t, IsUUIDv4("550e8400e29b41d4a716446655440000"), "hyphens are required")
	assert.False(t, IsUUIDv4("550e8400-e29b-11d4-a716-446655440000"), "version 1 uuid")
	assert.False(t, IsUUIDv4("invalid-uuid"))
	assert.False(t, IsUUIDv4(""))
}

func TestEvent_JSONFieldNames(t *testing.T) {
	rssi := -65.0
	ev := Event{
		APIVersion:    "1.0",
		EventID:       "550e8400-e29b-41d4-a716-446655440000",
		SentinelID:    "sentinel-001",
		TowerID:       "tower-001",
		ProfileID:     "child",
		Timestamp:     1704067200000,
		TriggerReason: TriggerBLEDisconnect,
		DeviceMeta:    DeviceMeta{DeviceName: "Smart Watch", LastSeen: 1704067195000, RSSILast: &rssi},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"api_version", "event_id", "sentinel_id", "tower_id", "profile_id", "timestamp", "trigger_reason", "device_meta", "cancelled_count"} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "location", "absent location is omitted")
	assert.Equal(t, -65.0, raw["device_meta"].(map[string]any)["rssi_last"])
}

func TestErrorCode_Retryable(t *testing.T) {
	assert.True(t, CodeInternalError.Retryable())
	assert.True(t, CodeServiceUnavailable.Retryable())
	for _, c := range []ErrorCode{CodeInvalidAuth, CodeForbidden, CodeInvalidPayload, CodeMissingRequiredField, CodeInvalidFieldType, CodeUnsupportedVersion} {
		assert.False(t, c.Retryable(), c)
	}
}

func TestResponseBody_Accepted(t *testing.T) {
	assert.True(t, Success(ResultCreated, "r").Accepted())
	assert.True(t, Success(ResultDuplicate, "r").Accepted())
	assert.False(t, Failure(CodeForbidden, "no", "r").Accepted())
	assert.False(t, ResponseBody{}.Accepted())
}

func TestNewRecord(t *testing.T) {
	ev := NewEvent("s", "t", "p", DeviceMeta{DeviceName: "d"}, time.Now())
	rec := NewRecord(ev, "req-1", time.UnixMilli(42))
	assert.Equal(t, ev.EventID, rec.EventID)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, int64(42), rec.ReceivedAt)
}
