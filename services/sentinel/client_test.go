// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sentinel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
)

const testEndpoint = "https://192.168.1.20:8443/api/alerts"

var testPolicy = RetryPolicy{
	BaseDelay:     100 * time.Millisecond,
	BackoffFactor: 2,
	MaxDelay:      500 * time.Millisecond,
	MaxRetries:    3,
}

func baseEvent() *alert.Event {
	rssi := -65.0
	return &alert.Event{
		APIVersion:     "1.0",
		EventID:        "550e8400-e29b-41d4-a716-446655440000",
		SentinelID:     "sentinel-001",
		TowerID:        "tower-001",
		ProfileID:      "child",
		Timestamp:      1704067200000,
		TriggerReason:  alert.TriggerBLEDisconnect,
		DeviceMeta:     alert.DeviceMeta{DeviceName: "Smart Watch", LastSeen: 1704067195000, RSSILast: &rssi},
		CancelledCount: 0,
	}
}

type staticTokens struct {
	token string
	found bool
	err   error
}

func (s staticTokens) GetToken(ctx context.Context) (string, bool, error) {
	return s.token, s.found, s.err
}

var validToken = staticTokens{token: "valid-token", found: true}

// scripted replays responses (or errors) in order and records requests.
type scripted struct {
	mu       sync.Mutex
	steps    []step
	requests []*Request
}

type step struct {
	resp *Response
	err  error
}

func (s *scripted) Do(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.resp, st.err
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func created() step {
	return step{resp: &Response{Status: http.StatusOK, Body: alert.Success(alert.ResultCreated, "req-1")}}
}

func status(code int, errCode alert.ErrorCode) step {
	return step{resp: &Response{Status: code, Body: alert.Failure(errCode, "x", "req-1")}}
}

// recordingSleeper returns immediately and remembers each wait.
type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, tokens TokenSource, tr Transport, s *recordingSleeper) *Client {
	t.Helper()
	c, err := NewClient(testEndpoint, tokens, tr, testPolicy, WithSleeper(s.sleep))
	require.NoError(t, err)
	return c
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	tr := &scripted{steps: []step{status(http.StatusInternalServerError, alert.CodeInternalError), created()}}
	sl := &recordingSleeper{}

	res := newTestClient(t, validToken, tr, sl).Send(context.Background(), baseEvent())

	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, res.Delays)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, sl.waits)
	assert.Nil(t, res.BlockReason)
}

func TestSend_SetsHeadersAndBody(t *testing.T) {
	tr := &scripted{steps: []step{created()}}
	ev := baseEvent()

	res := newTestClient(t, validToken, tr, &recordingSleeper{}).Send(context.Background(), ev)

	require.True(t, res.Sent())
	require.Len(t, tr.requests, 1)
	req := tr.requests[0]
	assert.Equal(t, testEndpoint, req.URL)
	assert.Equal(t, "Bearer valid-token", req.Headers["Authorization"])
	assert.Equal(t, "application/json", req.Headers["Content-Type"])
	assert.Same(t, ev, req.Body)
}

func TestSend_DuplicateCountsAsSent(t *testing.T) {
	tr := &scripted{steps: []step{{resp: &Response{Status: http.StatusOK, Body: alert.Success(alert.ResultDuplicate, "r")}}}}
	res := newTestClient(t, validToken, tr, &recordingSleeper{}).Send(context.Background(), baseEvent())
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 1, res.Attempts)
}

func TestSend_TerminalStatusStopsImmediately(t *testing.T) {
	for _, tc := range []struct {
		name string
		st   step
	}{
		{"400", status(http.StatusBadRequest, alert.CodeInvalidPayload)},
		{"401", status(http.StatusUnauthorized, alert.CodeInvalidAuth)},
		{"403", status(http.StatusForbidden, alert.CodeForbidden)},
		{"200 without result", step{resp: &Response{Status: http.StatusOK}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &scripted{steps: []step{tc.st, created()}}
			sl := &recordingSleeper{}

			res := newTestClient(t, validToken, tr, sl).Send(context.Background(), baseEvent())

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, 1, res.Attempts)
			assert.Empty(t, res.Delays)
			assert.Empty(t, sl.waits)
			assert.Equal(t, 1, tr.calls())
			require.NotNil(t, res.LastResponse)
			assert.Equal(t, tc.st.resp.Status, res.LastResponse.Status)
		})
	}
}

func TestSend_RetryableBodyCodeOnOtherStatus(t *testing.T) {
	// A proxy may map SERVICE_UNAVAILABLE onto 429; the body code decides.
	tr := &scripted{steps: []step{status(http.StatusTooManyRequests, alert.CodeServiceUnavailable), created()}}
	res := newTestClient(t, validToken, tr, &recordingSleeper{}).Send(context.Background(), baseEvent())
	assert.Equal(t, StatusSent, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestSend_ExhaustsRetries(t *testing.T) {
	boom := errors.New("connection refused")
	tr := &scripted{steps: []step{
		{err: boom},
		status(http.StatusServiceUnavailable, alert.CodeServiceUnavailable),
		{err: boom},
	}}
	sl := &recordingSleeper{}

	res := newTestClient(t, validToken, tr, sl).Send(context.Background(), baseEvent())

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.LastError, boom)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, res.Delays)
	assert.Equal(t, 3, tr.calls())
}

func TestSend_CredentialGate(t *testing.T) {
	tests := []struct {
		name   string
		tokens TokenSource
		want   BlockCode
	}{
		{"missing", staticTokens{}, BlockTokenMissing},
		{"unavailable", staticTokens{err: &credential.StoreError{Code: credential.CodeUnavailable, Message: "Secure storage unavailable"}}, BlockTokenUnavailable},
		{"read failed", staticTokens{err: &credential.StoreError{Code: credential.CodeReadFailed, Message: "read"}}, BlockTokenReadFailed},
		{"untyped error", staticTokens{err: errors.New("weird")}, BlockTokenReadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &scripted{steps: []step{created()}}

			res := newTestClient(t, tt.tokens, tr, &recordingSleeper{}).Send(context.Background(), baseEvent())

			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, 0, res.Attempts)
			require.NotNil(t, res.BlockReason)
			assert.Equal(t, tt.want, res.BlockReason.Code)
			assert.Equal(t, 0, tr.calls(), "transport must not be invoked")
		})
	}
}

func TestSend_WithRealCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := credential.NewStore(credential.NewEnclaveBridge())
	tr := &scripted{steps: []step{created(), created()}}
	c := newTestClient(t, store, tr, &recordingSleeper{})

	res := c.Send(ctx, baseEvent())
	require.NotNil(t, res.BlockReason)
	assert.Equal(t, BlockTokenMissing, res.BlockReason.Code)

	require.NoError(t, store.SetToken(ctx, "paired-token"))
	res = c.Send(ctx, baseEvent())
	assert.True(t, res.Sent())
	assert.Equal(t, "Bearer paired-token", tr.requests[0].Headers["Authorization"])
}

func TestSend_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &scripted{steps: []step{status(http.StatusServiceUnavailable, alert.CodeServiceUnavailable), created()}}
	c, err := NewClient(testEndpoint, validToken, tr, testPolicy, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	require.NoError(t, err)

	res := c.Send(ctx, baseEvent())

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.ErrorIs(t, res.LastError, context.Canceled)
	assert.Empty(t, res.Delays)
	assert.Equal(t, 1, tr.calls())
}

func TestNewClient_Validates(t *testing.T) {
	tr := &scripted{}
	_, err := NewClient("", validToken, tr, testPolicy)
	assert.Error(t, err)
	_, err = NewClient(testEndpoint, nil, tr, testPolicy)
	assert.Error(t, err)
	_, err = NewClient(testEndpoint, validToken, tr, RetryPolicy{})
	assert.ErrorIs(t, err, ErrInvalidRetryPolicy)
}
