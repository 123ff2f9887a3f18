// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/audit"
	"github.com/WizardJames69/FieldTek-sub002/services/assistant/observability"
)

// =============================================================================
// Tier Limits
// =============================================================================

// TierLimits holds the rate limits for one tenant plan.
//
// Two layers apply per tenant: a token-bucket limiter smooths bursts,
// and the Badger-backed daily quota is the authoritative cap. The quota
// resets at UTC midnight.
type TierLimits struct {
	// RPS is the sustained request rate for the burst limiter.
	RPS float64

	// Burst is the token bucket depth.
	Burst int

	// DailyQuota is the number of assist requests per UTC day.
	DailyQuota int
}

// Environment variables overriding the per-tier daily quotas.
const (
	quotaStarterEnv = "ASSIST_DAILY_QUOTA_STARTER"
	quotaProEnv     = "ASSIST_DAILY_QUOTA_PRO"
	quotaFleetEnv   = "ASSIST_DAILY_QUOTA_FLEET"
)

// defaultTierLimits returns the built-in plan limits, with daily quotas
// overridable from the environment.
func defaultTierLimits() map[string]TierLimits {
	return map[string]TierLimits{
		extensions.TierStarter: {RPS: 1, Burst: 3, DailyQuota: quotaFromEnv(quotaStarterEnv, 200)},
		extensions.TierPro:     {RPS: 2, Burst: 5, DailyQuota: quotaFromEnv(quotaProEnv, 1000)},
		extensions.TierFleet:   {RPS: 5, Burst: 10, DailyQuota: quotaFromEnv(quotaFleetEnv, 5000)},
	}
}

func quotaFromEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("Ignoring invalid quota override", "env", key, "value", raw)
		return fallback
	}
	return n
}

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter enforces per-tenant rate limits on the assist endpoint.
//
// # Thread Safety
//
// Safe for concurrent use. The limiter pool is guarded by a mutex; the
// quota counter is transactional in Badger.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	tiers    map[string]TierLimits
	quotas   *audit.Store
	secLog   extensions.SecurityLogger
}

// NewRateLimiter builds a limiter over the given quota store. Daily
// quotas come from the environment or the built-in plan defaults.
func NewRateLimiter(quotas *audit.Store, secLog extensions.SecurityLogger) *RateLimiter {
	if secLog == nil {
		secLog = &extensions.SlogSecurityLogger{}
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		tiers:    defaultTierLimits(),
		quotas:   quotas,
		secLog:   secLog,
	}
}

// limiterFor returns the burst limiter for a tenant, creating it on
// first use with the tier's rate.
func (rl *RateLimiter) limiterFor(tenantID string, limits TierLimits) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.limiters[tenantID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(limits.RPS), limits.Burst)
	rl.limiters[tenantID] = l
	return l
}

// LimitsFor resolves the tier limits for an identity. Unknown tiers get
// the starter limits.
func (rl *RateLimiter) LimitsFor(info *extensions.AuthInfo) TierLimits {
	if limits, ok := rl.tiers[info.Tier]; ok {
		return limits
	}
	return rl.tiers[extensions.TierStarter]
}

// =============================================================================
// Middleware
// =============================================================================

// RateLimitMiddleware creates a Gin middleware enforcing both rate
// layers for the authenticated tenant.
//
// # Description
//
// Runs after AuthMiddleware. The burst limiter rejects with a bare 429;
// the daily quota rejects with a 429 carrying the limit, current usage,
// the UTC reset time, and the tenant tier, plus X-RateLimit-* headers.
// The same headers are mirrored on admitted requests so clients can
// pace themselves. A rejected request does not consume quota.
//
// Quota store failures admit the request; availability wins over
// precision until the store recovers.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo := GetAuthInfo(c)
		if authInfo == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		limits := rl.LimitsFor(authInfo)

		if !rl.limiterFor(authInfo.TenantID, limits).Allow() {
			observability.RecordRateLimited(authInfo.Tier)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}

		used, err := rl.quotas.IncrementAndCheck(c.Request.Context(), authInfo.TenantID, limits.DailyQuota, time.Now())
		if err != nil {
			if exceeded, ok := audit.IsQuotaExceeded(err); ok {
				observability.RecordRateLimited(authInfo.Tier)
				rl.secLog.Log(c.Request.Context(), extensions.SecurityEvent{
					EventType: "rate.limited",
					TenantID:  authInfo.TenantID,
					Outcome:   "denied",
					Metadata: extensions.NewMetadata().
						Set("tier", authInfo.Tier).
						Set("limit", exceeded.Limit),
				})
				setRateLimitHeaders(c, exceeded.Limit, exceeded.Used, authInfo.Tier, exceeded.ResetsAt)
				c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(exceeded.ResetsAt, time.Now())))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"limit":     exceeded.Limit,
					"used":      exceeded.Used,
					"resets_at": exceeded.ResetsAt.Format(time.RFC3339),
					"tier":      authInfo.Tier,
				})
				return
			}
			slog.Error("Quota check failed, admitting request",
				"error", err, "tenant_id", authInfo.TenantID)
			c.Next()
			return
		}

		setRateLimitHeaders(c, limits.DailyQuota, used, authInfo.Tier, nextUTCMidnight(time.Now()))
		c.Next()
	}
}

// setRateLimitHeaders mirrors the quota state onto the response.
func setRateLimitHeaders(c *gin.Context, limit, used int, tier string, reset time.Time) {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Header("X-RateLimit-Used", strconv.Itoa(used))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	c.Header("X-RateLimit-Tier", tier)
	c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
}

// retryAfterSeconds returns the whole seconds until the quota reset,
// never below 1 so the header stays a legal delay value.
func retryAfterSeconds(reset, now time.Time) int {
	secs := int(reset.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// nextUTCMidnight returns the next quota reset boundary.
func nextUTCMidnight(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
