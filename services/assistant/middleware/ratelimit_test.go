// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
)

// =============================================================================
// Test Setup
// =============================================================================

func openQuotaStore(t *testing.T) *audit.Store {
	t.Helper()
	store, err := audit.Open(audit.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// limiterRouter builds a router that authenticates every request as the
// given tenant before the rate limiter runs.
func limiterRouter(rl *RateLimiter, tenantID, tier string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		SetAuthInfo(c, &extensions.AuthInfo{TenantID: tenantID, Tier: tier, UserID: "tech-1"})
	})
	router.Use(RateLimitMiddleware(rl))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func doRequest(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Daily Quota Tests
// =============================================================================

func TestRateLimit_QuotaExceeded(t *testing.T) {
	rl := NewRateLimiter(openQuotaStore(t), &extensions.NopSecurityLogger{})
	rl.tiers[extensions.TierStarter] = TierLimits{RPS: 1000, Burst: 1000, DailyQuota: 2}
	router := limiterRouter(rl, "tenant-quota", extensions.TierStarter)

	w := doRequest(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Used"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, extensions.TierStarter, w.Header().Get("X-RateLimit-Tier"))

	w = doRequest(router)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doRequest(router)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err, "Retry-After must be whole seconds")
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 24*60*60)

	var body struct {
		Limit    int    `json:"limit"`
		Used     int    `json:"used"`
		ResetsAt string `json:"resets_at"`
		Tier     string `json:"tier"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Limit)
	assert.Equal(t, 2, body.Used)
	assert.Equal(t, extensions.TierStarter, body.Tier)
	assert.NotEmpty(t, body.ResetsAt)

	reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, int64(0))
}

func TestRateLimit_QuotaIsPerTenant(t *testing.T) {
	store := openQuotaStore(t)
	rl := NewRateLimiter(store, &extensions.NopSecurityLogger{})
	rl.tiers[extensions.TierStarter] = TierLimits{RPS: 1000, Burst: 1000, DailyQuota: 1}

	routerA := limiterRouter(rl, "tenant-a", extensions.TierStarter)
	routerB := limiterRouter(rl, "tenant-b", extensions.TierStarter)

	assert.Equal(t, http.StatusOK, doRequest(routerA).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(routerA).Code)

	// Tenant B's counter is untouched by tenant A's usage.
	assert.Equal(t, http.StatusOK, doRequest(routerB).Code)
}

// =============================================================================
// Burst Limiter Tests
// =============================================================================

func TestRateLimit_BurstLimiter(t *testing.T) {
	rl := NewRateLimiter(openQuotaStore(t), &extensions.NopSecurityLogger{})
	rl.tiers[extensions.TierPro] = TierLimits{RPS: 1, Burst: 2, DailyQuota: 1000}
	router := limiterRouter(rl, "tenant-burst", extensions.TierPro)

	assert.Equal(t, http.StatusOK, doRequest(router).Code)
	assert.Equal(t, http.StatusOK, doRequest(router).Code)

	// The bucket is drained; the tokens refill at 1/s, far slower than
	// this test runs.
	w := doRequest(router)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate limited")
}

// =============================================================================
// Misc
// =============================================================================

func TestRateLimit_Unauthenticated(t *testing.T) {
	rl := NewRateLimiter(openQuotaStore(t), &extensions.NopSecurityLogger{})

	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := doRequest(router)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_UnknownTierGetsStarterLimits(t *testing.T) {
	rl := NewRateLimiter(openQuotaStore(t), &extensions.NopSecurityLogger{})
	rl.tiers[extensions.TierStarter] = TierLimits{RPS: 1000, Burst: 1000, DailyQuota: 1}
	router := limiterRouter(rl, "tenant-unknown-tier", "enterprise-preview")

	assert.Equal(t, http.StatusOK, doRequest(router).Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(router).Code)
}
