// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Hosted implementations should wrap this error with additional context.
//
// Example:
//
//	if !validToken {
//	    return nil, fmt.Errorf("invalid token format: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// Rate-limit tiers. Every tenant belongs to exactly one tier, which sets
// its daily assist-call quota.
const (
	TierStarter = "starter"
	TierPro     = "pro"
	TierFleet   = "fleet"
)

// AuthInfo contains identity information returned after successful
// authentication.
//
// Required fields (always populated):
//   - TenantID: The tenant the token belongs to
//   - Tier: The tenant's rate-limit tier
//
// Optional fields (may be empty):
//   - UserID: The individual technician, when the token carries one
//   - Metadata: Arbitrary key-value pairs for hosted extensions
type AuthInfo struct {
	// TenantID identifies the field-service company. Every stored record
	// and every retrieval query is scoped to this value.
	TenantID string

	// Tier is the tenant's rate-limit tier: "starter", "pro", or "fleet".
	Tier string

	// UserID identifies the individual technician when known.
	UserID string

	// CodeReferencesEnabled reports whether citations of regulatory codes
	// (NEC, CSA, ...) are accepted for this tenant in addition to its
	// uploaded documents.
	CodeReferencesEnabled bool

	// Metadata holds additional claims from the identity provider.
	Metadata Metadata
}

// AuthProvider validates bearer tokens and returns tenant identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// The default StaticTokenProvider reads a fixed token table from the
// environment, which is how single-region deployments run. Hosted
// multi-region deployments swap in a provider backed by the billing
// database.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the tenant identity.
	//
	// Returns ErrUnauthorized (or a wrapped form) for any invalid, expired,
	// or unknown token. Other errors indicate provider failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// StaticTokenProvider authenticates against a fixed in-memory token
// table. Thread-safe: the table is immutable after construction.
type StaticTokenProvider struct {
	tokens map[string]AuthInfo
}

var _ AuthProvider = (*StaticTokenProvider)(nil)

// NewStaticTokenProvider builds a provider from the ASSIST_API_TOKENS
// environment variable.
//
// # Description
//
// The variable holds comma-separated entries of the form
// "token:tenant-id:tier" with an optional fourth "+codes" flag enabling
// regulatory code citations for that tenant:
//
//	ASSIST_API_TOKENS="tok-abc:acme-hvac:pro:+codes,tok-def:smith-plumbing:starter"
//
// # Outputs
//
//   - *StaticTokenProvider: The configured provider.
//   - error: When the variable is unset or an entry is malformed.
func NewStaticTokenProvider() (*StaticTokenProvider, error) {
	raw := os.Getenv("ASSIST_API_TOKENS")
	if raw == "" {
		return nil, fmt.Errorf("ASSIST_API_TOKENS environment variable not set")
	}
	return ParseTokenTable(raw)
}

// ParseTokenTable parses the token-table format used by
// NewStaticTokenProvider. Exposed separately so tests and config loaders
// can build providers without touching the environment.
func ParseTokenTable(raw string) (*StaticTokenProvider, error) {
	tokens := make(map[string]AuthInfo)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed token entry %q: want token:tenant:tier", entry)
		}
		token := strings.TrimSpace(fields[0])
		info := AuthInfo{
			TenantID: strings.TrimSpace(fields[1]),
			Tier:     strings.TrimSpace(fields[2]),
		}
		if token == "" || info.TenantID == "" {
			return nil, fmt.Errorf("malformed token entry %q: empty token or tenant", entry)
		}
		switch info.Tier {
		case TierStarter, TierPro, TierFleet:
		default:
			return nil, fmt.Errorf("malformed token entry %q: unknown tier %q", entry, info.Tier)
		}
		if len(fields) > 3 && strings.TrimSpace(fields[3]) == "+codes" {
			info.CodeReferencesEnabled = true
		}
		if _, dup := tokens[token]; dup {
			return nil, fmt.Errorf("duplicate token in table")
		}
		tokens[token] = info
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("token table is empty")
	}
	return &StaticTokenProvider{tokens: tokens}, nil
}

// Validate implements AuthProvider by exact lookup in the token table.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	info, ok := p.tokens[token]
	if !ok {
		return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
	}
	out := info
	return &out, nil
}

// NopAuthProvider is the development-only provider. It accepts any
// non-empty token and maps it to a single local tenant on the fleet tier.
//
// Thread-safe: this implementation has no mutable state.
type NopAuthProvider struct{}

var _ AuthProvider = (*NopAuthProvider)(nil)

// Validate accepts any non-empty token as the "local-tenant" on the
// fleet tier. Empty tokens still fail so the handler's 401 path stays
// exercised in development.
func (p *NopAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{
		TenantID:              "local-tenant",
		Tier:                  TierFleet,
		CodeReferencesEnabled: true,
	}, nil
}
