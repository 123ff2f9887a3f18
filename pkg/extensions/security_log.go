// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a security-relevant occurrence worth flagging
// to an operator: a failed authentication, a rate-limit rejection, a
// detected prompt injection.
//
// Event types follow a "category.action" convention:
//   - "auth.failed", "auth.missing"
//   - "rate.limited"
//   - "guardrail.injection", "guardrail.validation_failed"
type SecurityEvent struct {
	// EventType categorizes the event for filtering and alerting.
	EventType string

	// Timestamp is when the event occurred (always UTC).
	// If zero, implementations set it to time.Now().UTC().
	Timestamp time.Time

	// TenantID identifies the tenant involved, when known.
	// Use "unknown" for pre-authentication events.
	TenantID string

	// Outcome indicates the result: "blocked", "rejected", "flagged".
	Outcome string

	// Metadata holds additional event-specific data.
	//
	// Common keys:
	//   - "request_id": request correlation ID
	//   - "category": matched injection category
	//   - "reason": validation rejection reason
	//   - "ip_address": client IP
	Metadata Metadata
}

// SecurityLogger records security-relevant events.
//
// Implementations must be safe for concurrent use and should return
// quickly. Hosted deployments forward events to a SIEM; the default
// implementation writes structured log lines.
type SecurityLogger interface {
	Log(ctx context.Context, event SecurityEvent)
}

// SlogSecurityLogger writes security events as structured slog records.
// This is the single-region default: the log pipeline already ships to
// the operator's aggregator, so a dedicated sink is unnecessary.
//
// Thread-safe: slog handlers are safe for concurrent use.
type SlogSecurityLogger struct{}

var _ SecurityLogger = (*SlogSecurityLogger)(nil)

func (l *SlogSecurityLogger) Log(ctx context.Context, event SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	slog.WarnContext(ctx, "security event",
		"event_type", event.EventType,
		"tenant_id", event.TenantID,
		"outcome", event.Outcome,
		"metadata", map[string]any(event.Metadata),
	)
}

// NopSecurityLogger discards all events. Used in tests.
type NopSecurityLogger struct{}

var _ SecurityLogger = (*NopSecurityLogger)(nil)

func (l *NopSecurityLogger) Log(_ context.Context, _ SecurityEvent) {}
