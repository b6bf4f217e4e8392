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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const feedToken = "feed-secret"

func newTestRouter(t *testing.T, cfg RouterConfig) (*gin.Engine, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	if cfg.Service == nil {
		opts := []Option{WithMetrics(cfg.Metrics)}
		if cfg.Feed != nil {
			opts = append(opts, WithNotifier(cfg.Feed))
		}
		cfg.Service = newTestService(t, repo, opts...)
	}
	return NewRouter(cfg), repo
}

func postAlert(router http.Handler, auth string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, alert.Path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) alert.ResponseBody {
	t.Helper()
	var body alert.ResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_Ingest(t *testing.T) {
	router, repo := newTestRouter(t, RouterConfig{})

	w := postAlert(router, bearer(goodToken), encode(t, validPayload()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"created","request_id":"req-1"}`, w.Body.String())
	assert.Equal(t, 1, repo.Len())

	w = postAlert(router, "", encode(t, validPayload()))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decodeBody(t, w)
	require.NotNil(t, body.Error)
	assert.Equal(t, alert.CodeInvalidAuth, body.Error.Code)
	assert.Equal(t, "req-2", body.Error.RequestID)
}

func TestRouter_OversizedBody(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	big := []byte(`{"pad":"` + strings.Repeat("a", 2*MaxBodyBytes) + `"}`)

	w := postAlert(router, bearer(goodToken), big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, alert.CodeInvalidPayload, decodeBody(t, w).Error.Code)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	router, _ := newTestRouter(t, RouterConfig{Gatherer: reg, Metrics: m})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	postAlert(router, bearer(goodToken), encode(t, validPayload()))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `sentineltower_ingest_requests_total{result="created",status="200"} 1`)
}

func TestRouter_RateLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	router, _ := newTestRouter(t, RouterConfig{RateLimit: 0.001, RateBurst: 1, Metrics: m})
	body := encode(t, validPayload())

	assert.Equal(t, http.StatusOK, postAlert(router, bearer(goodToken), body).Code)

	w := postAlert(router, bearer(goodToken), body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	got := decodeBody(t, w)
	require.NotNil(t, got.Error)
	assert.Equal(t, alert.CodeServiceUnavailable, got.Error.Code)
	assert.True(t, got.Error.Code.Retryable())
}

func TestRouter_Exists(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	postAlert(router, bearer(goodToken), encode(t, validPayload()))

	head := func(id, auth string) int {
		req := httptest.NewRequest(http.MethodHead, alert.Path+"/"+id, nil)
		req.Header.Set("Authorization", auth)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, head(goodEventID, bearer(goodToken)))
	assert.Equal(t, http.StatusNotFound, head("9b2f7c1e-3d4a-4f5b-8c6d-7e8f9a0b1c2d", bearer(goodToken)))
	assert.Equal(t, http.StatusUnauthorized, head(goodEventID, "Bearer wrong"))
	assert.Equal(t, http.StatusNotFound, head(goodEventID, bearer(otherToken)))
}

func TestRouter_FeedBroadcastsCreated(t *testing.T) {
	feed := NewFeed(nil, nil)
	defer feed.Close()
	router, _ := newTestRouter(t, RouterConfig{Feed: feed, FeedTokenSHA256: credential.Digest(feedToken)})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + alert.Path + "/feed"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {bearer("wrong")}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {bearer(feedToken)}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return feed.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	body := encode(t, validPayload())
	for i := 0; i < 2; i++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL+alert.Path, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", bearer(goodToken))
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, goodEventID, msg.Record.EventID)

	// The duplicate is not broadcast.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestRouter_FeedDisabledWithoutToken(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{Feed: NewFeed(nil, nil)})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, alert.Path+"/feed", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
