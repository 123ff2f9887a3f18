// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/middleware"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// HandleHealth reports service liveness.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleQuotaUsage returns the handler for GET /v1/usage.
//
// Reports the tenant's daily quota standing without consuming any,
// so dashboards can poll it freely. Reads the same counter the rate
// limiter increments.
func HandleQuotaUsage(auditor *audit.Store, limiter *middleware.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		now := time.Now()
		used, err := auditor.Usage(c.Request.Context(), authInfo.TenantID, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read quota usage"})
			return
		}
		limits := limiter.LimitsFor(authInfo)

		remaining := limits.DailyQuota - used
		if remaining < 0 {
			remaining = 0
		}
		utc := now.UTC()
		resetsAt := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		c.JSON(http.StatusOK, gin.H{
			"limit":     limits.DailyQuota,
			"used":      used,
			"remaining": remaining,
			"resets_at": resetsAt.Format(time.RFC3339),
			"tier":      authInfo.Tier,
		})
	}
}

// HandleAuditList returns the handler for GET /v1/audit.
//
// # Description
//
// Lists the authenticated tenant's audit records newest first, for the
// admin review surface. The tenant comes from the bearer token, never
// from the query, so one tenant cannot page through another's records.
// `limit` caps the page size (default 50, max 500).
func HandleAuditList(auditor *audit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := middleware.GetAuthInfo(c)
		if authInfo == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := defaultAuditPageSize
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		if limit > maxAuditPageSize {
			limit = maxAuditPageSize
		}

		records, err := auditor.ListByTenant(c.Request.Context(), authInfo.TenantID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit records"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"records": records,
			"count":   len(records),
		})
	}
}
