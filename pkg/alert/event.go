// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alert defines the disconnect alert exchanged between a sentinel
// and a tower: the event payload, the stored record, and the response
// envelope returned by the ingestion endpoint.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// APIVersion is the payload version sentinels emit. Towers accept any
// minor revision of major version 1.
const APIVersion = "1.0"

// SupportedMajorVersion is the only api_version major a tower ingests.
const SupportedMajorVersion = 1

// TriggerBLEDisconnect is the only accepted trigger_reason.
const TriggerBLEDisconnect = "ble_disconnect"

// Path is the ingestion route on the tower.
const Path = "/api/alerts"

// Event is a single "device disconnected" alert.
//
// EventID is the idempotency key: a tower stores at most one Record per
// EventID no matter how many times the sentinel retries.
type Event struct {
	APIVersion     string     `json:"api_version" dynamodbav:"api_version" validate:"required"`
	EventID        string     `json:"event_id" dynamodbav:"event_id" validate:"required,uuid4_rfc4122"`
	SentinelID     string     `json:"sentinel_id" dynamodbav:"sentinel_id" validate:"required"`
	TowerID        string     `json:"tower_id" dynamodbav:"tower_id" validate:"required"`
	ProfileID      string     `json:"profile_id" dynamodbav:"profile_id" validate:"required"`
	Timestamp      int64      `json:"timestamp" dynamodbav:"timestamp" validate:"gt=0"`
	TriggerReason  string     `json:"trigger_reason" dynamodbav:"trigger_reason" validate:"eq=ble_disconnect"`
	DeviceMeta     DeviceMeta `json:"device_meta" dynamodbav:"device_meta"`
	CancelledCount int        `json:"cancelled_count" dynamodbav:"cancelled_count" validate:"gte=0"`
	Location       *Location  `json:"location,omitempty" dynamodbav:"location,omitempty"`
}

// DeviceMeta describes the wearable whose link dropped.
type DeviceMeta struct {
	DeviceName string   `json:"device_name" dynamodbav:"device_name" validate:"required"`
	LastSeen   float64  `json:"last_seen" dynamodbav:"last_seen"`
	RSSILast   *float64 `json:"rssi_last,omitempty" dynamodbav:"rssi_last,omitempty"`
}

// Location is the sentinel's last fix when the alert fired.
type Location struct {
	Latitude  float64 `json:"latitude" dynamodbav:"latitude"`
	Longitude float64 `json:"longitude" dynamodbav:"longitude"`
	Accuracy  float64 `json:"accuracy" dynamodbav:"accuracy"`
	Timestamp float64 `json:"timestamp" dynamodbav:"timestamp"`
}

// NewEvent returns an Event stamped with a fresh UUIDv4 event id, the
// current api_version, the ble_disconnect trigger, and now in epoch millis.
func NewEvent(sentinelID, towerID, profileID string, meta DeviceMeta, now time.Time) Event {
	return Event{
		APIVersion:    APIVersion,
		EventID:       uuid.NewString(),
		SentinelID:    sentinelID,
		TowerID:       towerID,
		ProfileID:     profileID,
		Timestamp:     now.UnixMilli(),
		TriggerReason: TriggerBLEDisconnect,
		DeviceMeta:    meta,
	}
}

// Record is an accepted Event as stored by a tower.
type Record struct {
	EventID    string `json:"event_id" cbor:"event_id" dynamodbav:"event_id"`
	Event      Event  `json:"event" cbor:"event" dynamodbav:"event"`
	RequestID  string `json:"request_id" cbor:"request_id" dynamodbav:"request_id"`
	ReceivedAt int64  `json:"received_at" cbor:"received_at" dynamodbav:"received_at"`
}

// NewRecord wraps an accepted event with the id of the request that
// delivered it.
func NewRecord(event Event, requestID string, receivedAt time.Time) *Record {
	return &Record{
		EventID:    event.EventID,
		Event:      event,
		RequestID:  requestID,
		ReceivedAt: receivedAt.UnixMilli(),
	}
}

// RequestIDFactory produces a unique id for each ingestion call.
type RequestIDFactory func() string

// NewRequestID is the default RequestIDFactory.
func NewRequestID() string {
	return uuid.NewString()
}
