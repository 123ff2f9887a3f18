// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// Audit outcome values. Exactly one record is written per request, at its
// terminal state.
const (
	AuditOutcomeResponded  = "responded"
	AuditOutcomeRefused    = "refused"
	AuditOutcomeRejected   = "rejected"
	AuditOutcomeError      = "error"
	AuditOutcomeIncomplete = "incomplete"
)

// AuditRecord is the immutable per-request audit entry. Records are
// written once at the request's terminal state and never updated; there
// is no API surface that mutates a stored record.
type AuditRecord struct {
	// RecordID is the server-generated UUID for this record.
	RecordID string `json:"record_id"`

	// RequestID correlates the record with traces and logs.
	RequestID string `json:"request_id"`

	// TenantID and UserID identify who asked.
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id,omitempty"`

	// UserMessage is the latest user message as received, pre-sanitization.
	UserMessage string `json:"user_message"`

	// ContextType and ContextID summarize the attached job-site context.
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id,omitempty"`

	// ResponseText is what was actually sent to the client: the validated
	// model answer, the canonical refusal, or empty for rejected input.
	ResponseText string `json:"response_text"`

	// Outcome is the terminal pipeline state: responded, refused,
	// rejected, error, or incomplete (client disconnected mid-call).
	Outcome string `json:"outcome"`

	// Blocked is true when the guardrails stopped the model's own words
	// from reaching the technician. BlockedReason says why.
	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blocked_reason,omitempty"`

	// Retrieval counters: documents the tenant had available, and how
	// many contributed usable content to this request.
	DocsAvailable   int `json:"docs_available"`
	DocsWithContent int `json:"docs_with_content"`

	// MatchedPatterns lists the claim classes or injection patterns that
	// fired during validation or scanning.
	MatchedPatterns []string `json:"matched_patterns,omitempty"`

	// CitationPresent records whether the response carried any citation.
	CitationPresent bool `json:"citation_present"`

	// LatencyMs is the end-to-end request latency.
	LatencyMs int64 `json:"latency_ms"`

	// ModelID names the backend model that served (or would have served)
	// the request.
	ModelID string `json:"model_id,omitempty"`

	// Timestamp is the record creation time, RFC3339 UTC.
	Timestamp time.Time `json:"timestamp"`
}
