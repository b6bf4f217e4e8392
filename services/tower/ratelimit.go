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
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/SentinelTower/pkg/alert"
)

// RateLimit refuses requests beyond limit (per second, with burst) with
// 503 SERVICE_UNAVAILABLE, which sentinels treat as retryable. A
// non-positive limit disables the middleware.
func RateLimit(limit float64, burst int, newRequestID alert.RequestIDFactory, metrics *Metrics) gin.HandlerFunc {
	if limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}
	if newRequestID == nil {
		newRequestID = alert.NewRequestID
	}
	limiter := rate.NewLimiter(rate.Limit(limit), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			metrics.rateLimited()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				alert.Failure(alert.CodeServiceUnavailable, "Too many requests, retry later", newRequestID()))
			return
		}
		c.Next()
	}
}
