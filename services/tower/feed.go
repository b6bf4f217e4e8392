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
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

const (
	feedSendBuffer = 16
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = (feedPongWait * 9) / 10
)

// FeedMessage is what feed clients receive for each created alert.
type FeedMessage struct {
	Type   string       `json:"type"`
	Record alert.Record `json:"record"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed fans created alerts out to connected websocket clients.
//
// Publish never blocks ingestion: a client whose buffer is full is
// dropped.
//
// # Thread Safety
//
// Safe for concurrent use.
type Feed struct {
	logger  *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewFeed returns an empty feed.
func NewFeed(logger *logging.Logger, metrics *Metrics) *Feed {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Feed{
		logger:  logger.With("component", "feed"),
		metrics: metrics,
		clients: make(map[*feedClient]struct{}),
	}
}

// Publish implements Notifier.
func (f *Feed) Publish(rec *alert.Record) {
	msg, err := json.Marshal(FeedMessage{Type: "alert", Record: *rec})
	if err != nil {
		f.logger.Error("encode feed message", "event_id", rec.EventID, "error", err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- msg:
		default:
			f.logger.Warn("feed client too slow, dropping", "remote", c.conn.RemoteAddr().String())
			f.removeLocked(c)
		}
	}
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Serve registers conn and pumps messages until the peer disconnects or
// ctx is done. It owns conn and closes it.
func (f *Feed) Serve(ctx context.Context, conn *websocket.Conn) {
	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	if !f.add(c) {
		conn.Close()
		return
	}
	f.logger.Info("feed client connected", "remote", conn.RemoteAddr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.readPump(c)
	}()
	f.writePump(ctx, c, done)

	f.remove(c)
	conn.Close()
	<-done
	f.logger.Info("feed client disconnected", "remote", conn.RemoteAddr().String())
}

// Close disconnects every client and refuses new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		f.removeLocked(c)
	}
}

func (f *Feed) add(c *feedClient) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	f.metrics.feedClients(1)
	return true
}

func (f *Feed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(c)
}

func (f *Feed) removeLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
	f.metrics.feedClients(-1)
}

// readPump discards client frames; it exists to process pongs and notice
// the peer going away.
func (f *Feed) readPump(c *feedClient) {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *Feed) writePump(ctx context.Context, c *feedClient, done <-chan struct{}) {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "tower shutting down"),
				time.Now().Add(feedWriteWait))
			return
		case <-done:
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
					time.Now().Add(feedWriteWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
