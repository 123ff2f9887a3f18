// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the assistant service.
//
// This package contains the bearer-token authentication middleware and
// the per-tenant rate limiting middleware. Both resolve the tenant from
// the request and make it available to downstream handlers.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header, validates it using the configured AuthProvider, and stores the
// resulting AuthInfo in the Gin context:
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	RateLimitMiddleware (per-tenant burst + daily quota)
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// A missing or unknown token is a 401; downstream handlers never see an
// unauthenticated request. The single-tenant NopAuthProvider maps every
// non-empty token to the local tenant for development setups.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/WizardJames69/FieldTek-sub002/pkg/extensions"
)

// authInfoKey is the context key for storing AuthInfo. Namespaced to
// avoid collisions with other context values.
const authInfoKey = "fieldtek_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated tenant info in the Gin context.
// Called by AuthMiddleware after successful validation; exported so
// handler tests can inject an identity directly.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated tenant info from the Gin
// context. Returns nil when the request never passed AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// with the provider, and stores the resulting AuthInfo for downstream
// handlers. Failures abort with 401 and are reported to the security
// logger; provider errors other than ErrUnauthorized are still 401s so
// internals never leak to the client.
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Must not be nil.
//   - secLog: Security event sink. Nil defaults to the slog-backed logger.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin.
func AuthMiddleware(provider extensions.AuthProvider, secLog extensions.SecurityLogger) gin.HandlerFunc {
	if secLog == nil {
		secLog = &extensions.SlogSecurityLogger{}
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			eventType := "auth.failed"
			if token == "" {
				eventType = "auth.missing"
			}
			secLog.Log(c.Request.Context(), extensions.SecurityEvent{
				EventType: eventType,
				Outcome:   "denied",
				Metadata: extensions.NewMetadata().
					Set("path", c.Request.URL.Path).
					Set("remote_addr", c.ClientIP()),
			})
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
