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
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
	"github.com/AleutianAI/SentinelTower/pkg/credential"
	"github.com/AleutianAI/SentinelTower/pkg/logging"
)

// =============================================================================
// Router
// =============================================================================

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	// Service handles POST /api/alerts. Required.
	Service *Service

	// ServiceName labels otelgin spans. Empty disables otelgin.
	ServiceName string

	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
	Metrics  *Metrics

	// RateLimit is requests per second on the ingestion route; zero
	// disables limiting.
	RateLimit float64
	RateBurst int

	// Feed and FeedTokenSHA256 enable GET /api/alerts/feed. Viewers
	// authenticate with a bearer token whose SHA-256 hex digest matches.
	Feed            *Feed
	FeedTokenSHA256 string

	Logger *logging.Logger
}

// NewRouter returns a gin engine serving:
//
//	POST /api/alerts              ingestion
//	HEAD /api/alerts/:event_id    delivery check
//	GET  /api/alerts/feed         live websocket feed
//	GET  /health                  liveness
//	GET  /metrics                 Prometheus
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		router.Use(otelgin.Middleware(cfg.ServiceName))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	alerts := router.Group(alert.Path)
	alerts.POST("", RateLimit(cfg.RateLimit, cfg.RateBurst, nil, cfg.Metrics), ingestHandler(cfg.Service))
	alerts.HEAD("/:event_id", existsHandler(cfg.Service))
	if cfg.Feed != nil && cfg.FeedTokenSHA256 != "" {
		alerts.GET("/feed", feedAuth(cfg.FeedTokenSHA256), feedHandler(cfg.Feed, logger))
	}
	return router
}

// ingestHandler adapts Service.Handle to gin. The body is read up to one
// byte past MaxBodyBytes so the service can tell an oversized body apart.
func ingestHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxBodyBytes+1))
		if err != nil {
			body = nil
		}
		resp := svc.Handle(c.Request.Context(), Request{
			Authorization: c.GetHeader("Authorization"),
			Body:          body,
		})
		c.JSON(resp.Status, resp.Body)
	}
}

func existsHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(svc.Exists(c.Request.Context(), c.GetHeader("Authorization"), c.Param("event_id")))
	}
}

// feedAuth compares the bearer token's digest with want in constant time.
func feedAuth(want string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := extractBearerToken(c.GetHeader("Authorization"))
		if !ok || subtle.ConstantTimeCompare([]byte(credential.Digest(token)), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				alert.Failure(alert.CodeInvalidAuth, msgInvalidAuth, alert.NewRequestID()))
			return
		}
		c.Next()
	}
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func feedHandler(feed *Feed, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := feedUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("feed upgrade failed", "error", err.Error())
			return
		}
		feed.Serve(c.Request.Context(), conn)
	}
}
